// Package soopapi talks to the SOOP public APIs: the station API for live
// broadcast status and the player API for chat connection parameters.
package soopapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultStationURL = "https://bjapi.afreecatv.com/api/%s/station"
	defaultPlayerURL  = "https://live.afreecatv.com/afreeca/player_live_api.php"

	// The player API rejects requests without a browser user agent.
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	broadStartLayout = "2006-01-02 15:04:05"
)

// Client queries the SOOP APIs. The URL fields exist for tests; zero values
// mean production endpoints.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string

	StationURL string // format string taking the broadcaster id
	PlayerURL  string
}

func NewClient() *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		UserAgent:  defaultUserAgent,
		StationURL: defaultStationURL,
		PlayerURL:  defaultPlayerURL,
	}
}

// Broadcast is a live broadcast as reported by the station API.
type Broadcast struct {
	No        string
	Title     string
	StartedAt time.Time
}

// ChatConnection carries everything the transport needs to reach the chat
// edge for one broadcast.
type ChatConnection struct {
	Host          string
	Port          string
	ChatRoomID    string
	EntryToken    string
	BroadcasterID string
}

type stationResponse struct {
	Broad *struct {
		BroadNo    json.Number `json:"broad_no"`
		BroadTitle string      `json:"broad_title"`
		BroadStart string      `json:"broad_start"`
	} `json:"broad"`
	Station struct {
		BroadStart string `json:"broad_start"`
	} `json:"station"`
}

type playerResponse struct {
	Channel *struct {
		Domain string      `json:"CHDOMAIN"`
		ChatNo string      `json:"CHATNO"`
		FTK    string      `json:"FTK"`
		Port   json.Number `json:"CHPT"`
		BJID   string      `json:"BJID"`
	} `json:"CHANNEL"`
}

// LiveBroadcast reports the broadcaster's current broadcast, or (nil, nil)
// when they are offline.
func (c *Client) LiveBroadcast(ctx context.Context, broadcasterID string) (*Broadcast, error) {
	endpoint := fmt.Sprintf(c.StationURL, broadcasterID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building station request: %w", err)
	}
	var body stationResponse
	if err := c.do(req, &body); err != nil {
		return nil, fmt.Errorf("station api: %w", err)
	}
	if body.Broad == nil {
		return nil, nil
	}
	// The station object carries the authoritative start time; the broad
	// object is the fallback.
	start := body.Station.BroadStart
	if start == "" {
		start = body.Broad.BroadStart
	}
	startedAt, _ := time.ParseInLocation(broadStartLayout, start, time.Local)
	return &Broadcast{
		No:        body.Broad.BroadNo.String(),
		Title:     body.Broad.BroadTitle,
		StartedAt: startedAt,
	}, nil
}

// ChatServer resolves the chat edge for a broadcast via the player API. The
// advertised port is the plain one; the TLS endpoint is one above it.
func (c *Client) ChatServer(ctx context.Context, broadcasterID, broadcastNo string) (*ChatConnection, error) {
	form := url.Values{
		"bid":         {broadcasterID},
		"bno":         {broadcastNo},
		"type":        {"live"},
		"player_type": {"html5"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.PlayerURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building player request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var body playerResponse
	if err := c.do(req, &body); err != nil {
		return nil, fmt.Errorf("player api: %w", err)
	}
	ch := body.Channel
	if ch == nil {
		return nil, fmt.Errorf("player api: no CHANNEL in response")
	}
	port, err := strconv.Atoi(ch.Port.String())
	if err != nil {
		return nil, fmt.Errorf("player api: bad CHPT %q: %w", ch.Port, err)
	}
	return &ChatConnection{
		Host:          strings.ToLower(ch.Domain),
		Port:          strconv.Itoa(port + 1),
		ChatRoomID:    ch.ChatNo,
		EntryToken:    ch.FTK,
		BroadcasterID: ch.BJID,
	}, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", c.UserAgent)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
