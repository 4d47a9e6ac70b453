package detect

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soopwave/soopwave/badge"
	"github.com/soopwave/soopwave/protocol"
	"github.com/soopwave/soopwave/telemetry"
)

// HotMomentRecord is the durable result of a per-meme burst trigger.
// Immutable once emitted.
type HotMomentRecord struct {
	Time        time.Time `json:"time"`
	MemeKind    Kind      `json:"meme_kind"`
	Count       int       `json:"count"`
	Description string    `json:"description"`
}

// Sink receives detection results. The session manager implements it; the
// detector never holds session state itself.
type Sink interface {
	RecordChat(ev protocol.ChatEvent, badges []string)
	RecordMatch(kind Kind, at time.Time)
	RecordWave(at time.Time, count int)
	RecordHotMoment(rec HotMomentRecord)
	RecordDonation(nickname string, stars int)
}

// Config bounds the burst triggers.
type Config struct {
	Window    time.Duration // trailing window, default 10s
	Threshold int           // matches within the window, default 20
	Cooldown  time.Duration // minimum gap between triggers, default 60s
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 10 * time.Second
	}
	if c.Threshold <= 0 {
		c.Threshold = 20
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	return c
}

// burstState is one sliding window with a cooldown-guarded trigger. It backs
// both the per-meme hot moments and the aggregate wave.
type burstState struct {
	mu          sync.Mutex
	times       []time.Time // monotonically increasing, pruned to the window
	windowStart time.Time   // start of the current burst cycle; zero when unset
	lastTrigger atomic.Int64 // unix nanos of the last trigger, 0 = never
}

// observe appends a match at now, prunes the window, and attempts a trigger.
// requireSpan additionally demands the burst has been building for a full
// window (the wave condition). The compare-and-swap on lastTrigger guarantees
// at most one trigger per cooldown even with concurrent workers crossing the
// threshold together.
func (b *burstState) observe(now time.Time, cfg Config, requireSpan bool) (count int, fired bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-cfg.Window)
	i := 0
	for i < len(b.times) && b.times[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.times = append(b.times[:0], b.times[i:]...)
	}
	if len(b.times) == 0 {
		// The burst lapsed; the next cycle starts fresh.
		b.windowStart = time.Time{}
	}
	b.times = append(b.times, now)
	if b.windowStart.IsZero() {
		b.windowStart = b.times[0]
	}

	count = len(b.times)
	if count < cfg.Threshold {
		return count, false
	}
	if requireSpan && now.Sub(b.windowStart) < cfg.Window {
		return count, false
	}

	last := b.lastTrigger.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < cfg.Cooldown {
		// Cooldown active: suppress but keep the window intact so a sustained
		// burst re-triggers the instant the cooldown expires.
		return count, false
	}
	if !b.lastTrigger.CompareAndSwap(last, now.UnixNano()) {
		return count, false
	}

	b.times = b.times[:0]
	b.windowStart = time.Time{}
	return count, true
}

// Detector routes decoded events through the meme matchers and burst states.
// Safe for concurrent workers; each burst state serializes its own mutations.
type Detector struct {
	cfg      Config
	patterns []*Pattern
	memes    map[Kind]*burstState
	wave     burstState
	badges   *badge.Cache
	sink     Sink
}

// New builds a detector over the given patterns reporting into sink.
func New(cfg Config, patterns []*Pattern, badges *badge.Cache, sink Sink) *Detector {
	d := &Detector{
		cfg:      cfg.withDefaults(),
		patterns: patterns,
		memes:    make(map[Kind]*burstState, len(patterns)),
		badges:   badges,
		sink:     sink,
	}
	for _, p := range patterns {
		d.memes[p.Key] = &burstState{}
	}
	return d
}

// ProcessChat runs one chat event through every pattern. A message may match
// zero, one, or several meme kinds; each match is recorded independently and
// also feeds the aggregate wave. Pruning uses the caller-supplied wall-clock
// now, not event arrival order, so out-of-order worker scheduling cannot
// corrupt the window invariants. Returns the matched kinds.
func (d *Detector) ProcessChat(ev protocol.ChatEvent, now time.Time) []Kind {
	d.sink.RecordChat(ev, d.badges.Flags(ev.Flags))

	var matched []Kind
	for _, p := range d.patterns {
		if !p.Match(ev.Message) {
			continue
		}
		matched = append(matched, p.Key)
		telemetry.IncMemeMatch(string(p.Key))
		d.sink.RecordMatch(p.Key, now)

		if count, fired := d.memes[p.Key].observe(now, d.cfg, false); fired {
			rec := HotMomentRecord{
				Time:     now,
				MemeKind: p.Key,
				Count:    count,
				Description: fmt.Sprintf("%s burst: %d occurrences in %ds",
					p.DisplayName, count, int(d.cfg.Window.Seconds())),
			}
			telemetry.IncHotMoment(string(p.Key))
			d.sink.RecordHotMoment(rec)
		}

		if count, fired := d.wave.observe(now, d.cfg, true); fired {
			telemetry.IncWave()
			d.sink.RecordWave(now, count)
		}
	}
	return matched
}

// ProcessDonation tallies a donation. No windowing; donation bursts are a
// product question, not a detection one.
func (d *Detector) ProcessDonation(ev protocol.DonationEvent) {
	d.sink.RecordDonation(ev.Nickname, ev.Stars)
}
