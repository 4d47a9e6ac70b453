package soopapi

import (
	"context"
	"log/slog"
	"time"
)

// Poll cadence. Live broadcasts are checked often; shortly after a stream
// ends the broadcaster may restart, and the 16:00-18:00 window is when
// streams usually begin.
const (
	PollLive     = 60 * time.Second
	PollAfterEnd = 180 * time.Second
	PollPeak     = 180 * time.Second
	PollDefault  = 600 * time.Second

	afterEndWindow = 9 * time.Minute
	peakHourStart  = 16
	peakHourEnd    = 18
)

// PollInterval picks the wait before the next status check. lastEnd is the
// zero time when no stream has ended yet.
func PollInterval(isLive bool, lastEnd, now time.Time) time.Duration {
	if isLive {
		return PollLive
	}
	if !lastEnd.IsZero() && now.Sub(lastEnd) < afterEndWindow {
		return PollAfterEnd
	}
	if h := now.Hour(); h >= peakHourStart && h < peakHourEnd {
		return PollPeak
	}
	return PollDefault
}

// BroadcastStatus is one observation of the broadcaster delivered to the
// session layer. Chat is populated only while live.
type BroadcastStatus struct {
	Live        bool
	BroadcastID string
	Title       string
	StartedAt   time.Time
	Chat        *ChatConnection
}

// Poll performs one status check: station API first, then the player API for
// the chat endpoint when live. A live broadcast whose chat endpoint cannot be
// resolved is reported as offline so the caller retries on the live cadence.
func (c *Client) Poll(ctx context.Context, broadcasterID string) (BroadcastStatus, error) {
	b, err := c.LiveBroadcast(ctx, broadcasterID)
	if err != nil {
		return BroadcastStatus{}, err
	}
	if b == nil {
		return BroadcastStatus{}, nil
	}
	chat, err := c.ChatServer(ctx, broadcasterID, b.No)
	if err != nil {
		return BroadcastStatus{}, err
	}
	return BroadcastStatus{
		Live:        true,
		BroadcastID: b.No,
		Title:       b.Title,
		StartedAt:   b.StartedAt,
		Chat:        chat,
	}, nil
}

// StartPoller watches the broadcaster until ctx is cancelled, delivering every
// observation to fn. API failures are logged and retried on the next tick;
// they never stop the loop.
func StartPoller(ctx context.Context, c *Client, broadcasterID string, fn func(BroadcastStatus)) {
	var (
		wasLive bool
		lastEnd time.Time
	)
	for {
		status, err := c.Poll(ctx, broadcasterID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("broadcast status poll failed",
				slog.String("broadcaster", broadcasterID),
				slog.Any("err", err))
		} else {
			if wasLive && !status.Live {
				lastEnd = time.Now()
			}
			wasLive = status.Live
			fn(status)
		}

		wait := PollInterval(wasLive, lastEnd, time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
