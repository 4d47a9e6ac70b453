package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/soopwave/soopwave/badge"
	"github.com/soopwave/soopwave/config"
	"github.com/soopwave/soopwave/detect"
	"github.com/soopwave/soopwave/pipeline"
	"github.com/soopwave/soopwave/protocol"
	"github.com/soopwave/soopwave/soopapi"
	"github.com/soopwave/soopwave/telemetry"
	"github.com/soopwave/soopwave/transport"
)

// Store persists finished sessions.
type Store interface {
	SaveSession(ctx context.Context, s *Session) error
}

// ChatTransport is what the manager needs from the socket layer.
type ChatTransport interface {
	Connect(ctx context.Context) error
	Join() error
	Run(ctx context.Context, onEvent func(protocol.Event)) error
	Close() error
}

// TransportFactory builds a transport for one connection attempt. Replaced in
// tests.
type TransportFactory func(conn *soopapi.ChatConnection) ChatTransport

type state int

const (
	stateIdle state = iota
	stateActive
	stateClosing
)

// Manager drives the IDLE -> ACTIVE -> CLOSING lifecycle off poller status
// updates. It is the detection sink for the active session; all aggregate
// mutation happens under one lock, keeping the hot path short.
type Manager struct {
	cfg          *config.Config
	store        Store
	newTransport TransportFactory

	mu            sync.Mutex
	state         state
	cur           *Session
	queue         *pipeline.Queue
	pool          *pipeline.Pool
	stopTransport context.CancelFunc
	transportDone chan struct{}
	pending       []*Session // saves that failed, retried on later polls

	hotCh chan detect.HotMomentRecord
}

func NewManager(cfg *config.Config, store Store) *Manager {
	m := &Manager{
		cfg:   cfg,
		store: store,
		hotCh: make(chan detect.HotMomentRecord, 16),
	}
	m.newTransport = func(conn *soopapi.ChatConnection) ChatTransport {
		return transport.New(transport.Config{
			Host:             conn.Host,
			Port:             conn.Port,
			BroadcasterID:    cfg.BroadcasterID,
			ChatRoomID:       conn.ChatRoomID,
			EntryToken:       conn.EntryToken,
			PingInterval:     cfg.PingInterval,
			HandshakeTimeout: cfg.HandshakeTimeout,
			InsecureTLS:      cfg.InsecureChatTLS,
		})
	}
	return m
}

// SetTransportFactory overrides how transports are built. Test hook.
func (m *Manager) SetTransportFactory(f TransportFactory) { m.newTransport = f }

// HotMoments streams every hot moment of the active session. Slow consumers
// lose records; the session aggregate is the durable copy.
func (m *Manager) HotMoments() <-chan detect.HotMomentRecord { return m.hotCh }

// Snapshot returns a copy of the active session, or nil when idle.
func (m *Manager) Snapshot() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return nil
	}
	return m.cur.clone()
}

// Active reports whether a session is currently being tracked.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateActive
}

// HandleStatus applies one poller observation. Going live opens a session;
// going offline closes and persists it; a changed broadcast id mid-stream is
// treated as an end followed by a start.
func (m *Manager) HandleStatus(ctx context.Context, status soopapi.BroadcastStatus) {
	m.retryPendingSaves(ctx)

	m.mu.Lock()
	active := m.state == stateActive
	sameBroadcast := active && m.cur != nil && m.cur.BroadcastID == status.BroadcastID
	m.mu.Unlock()

	switch {
	case status.Live && !active:
		m.startSession(ctx, status)
	case status.Live && active && !sameBroadcast:
		slog.Info("broadcast id changed mid-session; rolling over",
			slog.String("broadcast_id", status.BroadcastID))
		m.closeSession(ctx)
		m.startSession(ctx, status)
	case !status.Live && active:
		m.closeSession(ctx)
	}
}

// Shutdown closes the active session, if any, and persists it.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	active := m.state == stateActive
	m.mu.Unlock()
	if active {
		m.closeSession(ctx)
	}
	m.retryPendingSaves(ctx)
}

func (m *Manager) startSession(ctx context.Context, status soopapi.BroadcastStatus) {
	if status.Chat == nil {
		slog.Warn("live status without chat endpoint; skipping session start",
			slog.String("broadcast_id", status.BroadcastID))
		return
	}

	badges, err := badge.NewCache(m.cfg.BadgeCacheSize)
	if err != nil {
		slog.Error("badge cache init failed", slog.Any("err", err))
		return
	}
	detector := detect.New(detect.Config{
		Window:    m.cfg.DetectWindow,
		Threshold: m.cfg.DetectThreshold,
		Cooldown:  m.cfg.DetectCooldown,
	}, detect.DefaultPatterns(), badges, m)

	q := pipeline.NewQueue(m.cfg.QueueCapacity)
	pool := pipeline.StartPool(m.cfg.Workers, q, detector)

	tctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.state = stateActive
	m.cur = newSession(status.BroadcastID, status.Title, status.StartedAt)
	m.queue = q
	m.pool = pool
	m.stopTransport = cancel
	m.transportDone = done
	m.mu.Unlock()

	telemetry.SetLive(true)
	slog.Info("session started",
		slog.String("broadcast_id", status.BroadcastID),
		slog.String("title", status.Title))

	go func() {
		m.runTransport(tctx, status.Chat, q)
		close(done)
		if tctx.Err() == nil {
			// The transport gave up on its own (reconnect budget exhausted):
			// close the session now instead of waiting for the next poll.
			m.closeSession(context.Background())
		}
	}()
}

// runTransport keeps the chat stream alive with exponential backoff. The
// budget resets on every successful join, so only consecutive failures
// exhaust it.
func (m *Manager) runTransport(ctx context.Context, conn *soopapi.ChatConnection, q *pipeline.Queue) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = m.cfg.ReconnectMaxElapsed

	onEvent := func(ev protocol.Event) {
		if err := q.Enqueue(ctx, ev); err != nil && ctx.Err() == nil {
			slog.Warn("enqueue failed", slog.Any("err", err))
		}
	}

	for {
		err := m.streamOnce(ctx, conn, bo, onEvent)
		if ctx.Err() != nil {
			return
		}
		telemetry.IncReconnect()

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			slog.Error("chat reconnect budget exhausted; stream abandoned",
				slog.String("host", conn.Host), slog.Any("err", err))
			return
		}
		slog.Warn("chat stream dropped; reconnecting",
			slog.Duration("wait", wait), slog.Any("err", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (m *Manager) streamOnce(ctx context.Context, conn *soopapi.ChatConnection, bo *backoff.ExponentialBackOff, onEvent func(protocol.Event)) error {
	t := m.newTransport(conn)
	defer t.Close()

	if err := t.Connect(ctx); err != nil {
		return err
	}
	if err := t.Join(); err != nil {
		return err
	}
	bo.Reset()
	err := t.Run(ctx, onEvent)
	if err == nil {
		err = errors.New("chat stream ended")
	}
	return err
}

func (m *Manager) closeSession(ctx context.Context) {
	m.mu.Lock()
	if m.state != stateActive {
		m.mu.Unlock()
		return
	}
	m.state = stateClosing
	cancel := m.stopTransport
	done := m.transportDone
	q := m.queue
	pool := m.pool
	m.mu.Unlock()

	// Stop the producer first, then drain: cancel the transport, close the
	// queue, and wait for the workers so every in-flight event lands in the
	// aggregate before it is frozen.
	cancel()
	<-done
	q.Close()
	pool.Wait()

	m.mu.Lock()
	s := m.cur
	s.EndedAt = time.Now()
	m.cur = nil
	m.queue = nil
	m.pool = nil
	m.state = stateIdle
	m.mu.Unlock()

	telemetry.SetLive(false)
	telemetry.IncSessionClosed()
	if telemetry.SessionDuration != nil {
		telemetry.SessionDuration.Observe(s.EndedAt.Sub(s.StartedAt).Seconds())
	}
	slog.Info("session closed",
		slog.String("broadcast_id", s.BroadcastID),
		slog.Int("chats", s.ChatCount),
		slog.Int("hot_moments", len(s.HotMoments)),
		slog.Int("waves", s.WaveCount))

	m.save(ctx, s)
}

func (m *Manager) save(ctx context.Context, s *Session) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveSession(ctx, s); err != nil {
		slog.Error("session save failed; will retry",
			slog.String("broadcast_id", s.BroadcastID), slog.Any("err", err))
		m.mu.Lock()
		m.pending = append(m.pending, s)
		m.mu.Unlock()
	}
}

func (m *Manager) retryPendingSaves(ctx context.Context) {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, s := range pending {
		m.save(ctx, s)
	}
}

// Sink implementation. Called from pipeline workers.

func (m *Manager) RecordChat(ev protocol.ChatEvent, badges []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return
	}
	m.cur.ChatCount++
}

func (m *Manager) RecordMatch(kind detect.Kind, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return
	}
	m.cur.MemeTotals[kind]++
	if at.After(m.cur.LastDetectedAt) {
		m.cur.LastDetectedAt = at
	}
}

func (m *Manager) RecordWave(at time.Time, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return
	}
	m.cur.WaveCount++
}

func (m *Manager) RecordHotMoment(rec detect.HotMomentRecord) {
	m.mu.Lock()
	if m.cur != nil {
		m.cur.HotMoments = append(m.cur.HotMoments, rec)
		m.cur.HotMomentCount[rec.MemeKind]++
	}
	m.mu.Unlock()

	select {
	case m.hotCh <- rec:
	default:
	}
}

func (m *Manager) RecordDonation(nickname string, stars int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return
	}
	m.cur.DonationCount++
	m.cur.DonationStars += stars
}
