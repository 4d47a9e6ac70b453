// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	FramesDecoded       prometheus.Counter
	DecodeErrors        prometheus.Counter
	ChatEvents          prometheus.Counter
	DonationEvents      prometheus.Counter
	TransportReconnects prometheus.Counter
	SessionsClosed      prometheus.Counter

	// Per-meme counters
	MemeMatches *prometheus.CounterVec
	HotMoments  *prometheus.CounterVec
	Waves       prometheus.Counter

	// Histograms (seconds)
	EnqueueWait     prometheus.Observer
	SessionDuration prometheus.Observer

	// Gauges
	IngestQueueDepthGauge prometheus.Gauge
	LiveGauge             prometheus.Gauge // 1=session active, 0=idle
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		FramesDecoded = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_frames_decoded_total", Help: "Number of inbound protocol frames decoded"})
		DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_frame_decode_errors_total", Help: "Number of malformed frames dropped by the decoder"})
		ChatEvents = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_events_total", Help: "Number of chat message events produced"})
		DonationEvents = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_donation_events_total", Help: "Number of donation events produced"})
		TransportReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_transport_reconnects_total", Help: "Number of chat transport reconnect attempts"})
		SessionsClosed = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_sessions_closed_total", Help: "Number of broadcast sessions closed"})
		MemeMatches = promauto.NewCounterVec(prometheus.CounterOpts{Name: "meme_matches_total", Help: "Number of meme pattern matches"}, []string{"meme"})
		HotMoments = promauto.NewCounterVec(prometheus.CounterOpts{Name: "meme_hot_moments_total", Help: "Number of hot-moment triggers"}, []string{"meme"})
		Waves = promauto.NewCounter(prometheus.CounterOpts{Name: "meme_waves_total", Help: "Number of aggregate wave triggers"})
		EnqueueWait = promauto.NewHistogram(prometheus.HistogramOpts{Name: "ingest_enqueue_wait_seconds", Help: "Time the reader spent blocked on a full ingest queue", Buckets: []float64{.001, .01, .05, .1, .5, 1, 5}})
		SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_session_duration_seconds", Help: "Duration of closed broadcast sessions", Buckets: []float64{600, 1800, 3600, 7200, 14400, 28800}})
		IngestQueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "ingest_queue_depth", Help: "Current number of events waiting in the ingest queue"})
		LiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_session_live", Help: "1 when a broadcast session is active"})
	})
}

// IncFrameDecoded counts one decoded inbound frame.
func IncFrameDecoded() {
	if FramesDecoded != nil {
		FramesDecoded.Inc()
	}
}

// IncDecodeError counts one malformed frame dropped by the decoder.
func IncDecodeError() {
	if DecodeErrors != nil {
		DecodeErrors.Inc()
	}
}

// IncChatEvent counts one produced chat event.
func IncChatEvent() {
	if ChatEvents != nil {
		ChatEvents.Inc()
	}
}

// IncDonationEvent counts one produced donation event.
func IncDonationEvent() {
	if DonationEvents != nil {
		DonationEvents.Inc()
	}
}

// IncMemeMatch counts one pattern match for the given meme kind.
func IncMemeMatch(meme string) {
	if MemeMatches != nil {
		MemeMatches.WithLabelValues(meme).Inc()
	}
}

// IncHotMoment counts one hot-moment trigger for the given meme kind.
func IncHotMoment(meme string) {
	if HotMoments != nil {
		HotMoments.WithLabelValues(meme).Inc()
	}
}

// IncWave counts one aggregate wave trigger.
func IncWave() {
	if Waves != nil {
		Waves.Inc()
	}
}

// IncSessionClosed counts one closed broadcast session.
func IncSessionClosed() {
	if SessionsClosed != nil {
		SessionsClosed.Inc()
	}
}

// IncReconnect counts one transport reconnect attempt.
func IncReconnect() {
	if TransportReconnects != nil {
		TransportReconnects.Inc()
	}
}

// SetQueueDepth records the current ingest queue depth.
func SetQueueDepth(n int) {
	if IngestQueueDepthGauge != nil {
		IngestQueueDepthGauge.Set(float64(n))
	}
}

// SetLive sets the live gauge to 1 if active else 0.
func SetLive(active bool) {
	if LiveGauge != nil {
		if active {
			LiveGauge.Set(1)
		} else {
			LiveGauge.Set(0)
		}
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
