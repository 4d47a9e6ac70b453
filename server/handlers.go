package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/soopwave/soopwave/config"
	"github.com/soopwave/soopwave/db"
	"github.com/soopwave/soopwave/session"
	"github.com/soopwave/soopwave/telemetry"
)

// StatsSource is the live view the session manager exposes to the API.
type StatsSource interface {
	Active() bool
	Snapshot() *session.Session
}

// Handlers holds dependencies for the HTTP endpoints.
type Handlers struct {
	db  *sql.DB
	cfg *config.Config
	src StatsSource
}

func NewHandlers(dbx *sql.DB, cfg *config.Config, src StatsSource) *Handlers {
	return &Handlers{db: dbx, cfg: cfg, src: src}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", slog.Any("err", err), slog.String("component", "http"))
	}
}

// HandleHealthz reports liveness plus a best-effort database check. The
// process is healthy even when the database is down; detection keeps running
// and saves are retried.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if h.db == nil {
		dbStatus = "disabled"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			dbStatus = "unavailable"
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"db":     dbStatus,
	})
}

// HandleStatus reports the monitored broadcaster and whether a session is
// live right now.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"broadcaster_id":   h.cfg.BroadcasterID,
		"broadcaster_name": h.cfg.BroadcasterName,
		"live":             h.src.Active(),
	}
	if s := h.src.Snapshot(); s != nil {
		resp["broadcast_id"] = s.BroadcastID
		resp["title"] = s.Title
		resp["started_at"] = s.StartedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStats returns the full aggregate of the active session, or live=false
// when idle.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	s := h.src.Snapshot()
	if s == nil {
		writeJSON(w, http.StatusOK, map[string]any{"live": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"live":    true,
		"session": s,
	})
}

// HandleHistory lists recent persisted sessions, newest first. ?limit= caps
// the page, default 20.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history storage disabled"})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be 1-200"})
			return
		}
		limit = n
	}
	sessions, err := db.RecentSessions(r.Context(), h.db, limit)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("history query failed", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// HandleHistoryDate returns every session of one local date (/history/2026-08-31)
// with hot moments attached.
func (h *Handlers) HandleHistoryDate(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history storage disabled"})
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/history/")
	day, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
		return
	}
	sessions, err := db.SessionsByDate(r.Context(), h.db, day)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("history query failed", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":     raw,
		"sessions": sessions,
	})
}
