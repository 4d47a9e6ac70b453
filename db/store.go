package db

import (
	"context"
	"database/sql"

	"github.com/soopwave/soopwave/session"
)

// SessionStore adapts the sessions table to session.Store.
type SessionStore struct{ DB *sql.DB }

func (s *SessionStore) SaveSession(ctx context.Context, sess *session.Session) error {
	return UpsertSession(ctx, s.DB, recordFromSession(sess))
}

func recordFromSession(sess *session.Session) SessionRecord {
	rec := SessionRecord{
		BroadcastID:   sess.BroadcastID,
		Title:         sess.Title,
		StartedAt:     sess.StartedAt,
		EndedAt:       sess.EndedAt,
		ChatCount:     sess.ChatCount,
		WaveCount:     sess.WaveCount,
		DonationCount: sess.DonationCount,
		DonationStars: sess.DonationStars,
		MemeTotals:    make(map[string]int, len(sess.MemeTotals)),
	}
	for kind, n := range sess.MemeTotals {
		rec.MemeTotals[string(kind)] = n
	}
	for _, hm := range sess.HotMoments {
		rec.HotMoments = append(rec.HotMoments, HotMoment{
			MemeKind:    string(hm.MemeKind),
			At:          hm.Time,
			Count:       hm.Count,
			Description: hm.Description,
		})
	}
	return rec
}
