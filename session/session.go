// Package session tracks one broadcast at a time: it reacts to poller status
// changes, owns the chat transport and its reconnect policy, aggregates
// detection results, and persists the finished session.
package session

import (
	"time"

	"github.com/soopwave/soopwave/detect"
)

// Session is the aggregate for one broadcast. EndedAt is zero while live.
type Session struct {
	BroadcastID string    `json:"broadcast_id"`
	Title       string    `json:"title"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitempty"`

	ChatCount      int                      `json:"chat_count"`
	MemeTotals     map[detect.Kind]int      `json:"meme_totals"`
	HotMomentCount map[detect.Kind]int      `json:"hot_moment_count"`
	HotMoments     []detect.HotMomentRecord `json:"hot_moments"`
	WaveCount      int                      `json:"wave_count"`
	DonationCount  int                      `json:"donation_count"`
	DonationStars  int                      `json:"donation_stars"`
	LastDetectedAt time.Time                `json:"last_detected_at,omitempty"`
}

func newSession(broadcastID, title string, startedAt time.Time) *Session {
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	return &Session{
		BroadcastID:    broadcastID,
		Title:          title,
		StartedAt:      startedAt,
		MemeTotals:     make(map[detect.Kind]int),
		HotMomentCount: make(map[detect.Kind]int),
	}
}

// clone copies the session deeply enough that the caller can read it without
// holding the manager lock.
func (s *Session) clone() *Session {
	c := *s
	c.MemeTotals = make(map[detect.Kind]int, len(s.MemeTotals))
	for k, v := range s.MemeTotals {
		c.MemeTotals[k] = v
	}
	c.HotMomentCount = make(map[detect.Kind]int, len(s.HotMomentCount))
	for k, v := range s.HotMomentCount {
		c.HotMomentCount[k] = v
	}
	c.HotMoments = append([]detect.HotMomentRecord(nil), s.HotMoments...)
	return &c
}
