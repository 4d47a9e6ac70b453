// Package pipeline is the bounded handoff between the socket reader and the
// analysis workers: a single-producer/multi-consumer queue with blocking
// backpressure and a fixed worker pool.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/soopwave/soopwave/detect"
	"github.com/soopwave/soopwave/protocol"
	"github.com/soopwave/soopwave/telemetry"
)

// Queue is a bounded, ordered event handoff. Enqueue blocks when the queue is
// full: throttling the socket-read loop is the designed backpressure signal,
// because silently dropping detection-relevant messages corrupts statistics.
type Queue struct {
	ch        chan protocol.Event
	closeOnce sync.Once
}

func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan protocol.Event, capacity)}
}

// Enqueue hands an event to the workers, blocking while the queue is at
// capacity. Returns the context error if cancelled while blocked.
func (q *Queue) Enqueue(ctx context.Context, ev protocol.Event) error {
	start := time.Now()
	select {
	case q.ch <- ev:
		if telemetry.EnqueueWait != nil {
			telemetry.EnqueueWait.Observe(time.Since(start).Seconds())
		}
		telemetry.SetQueueDepth(len(q.ch))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue. Workers drain whatever is in flight and then exit;
// the producer must be stopped first.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Depth reports the number of queued events.
func (q *Queue) Depth() int { return len(q.ch) }

// Pool is a fixed-size set of workers draining a queue into a detector. The
// count is a deliberate ceiling on CPU and on contention over the shared
// counters, not an elastic pool.
type Pool struct {
	wg sync.WaitGroup
}

// StartPool launches workers and returns immediately. Call Wait after closing
// the queue to let in-flight items drain.
func StartPool(workers int, q *Queue, d *detect.Detector) *Pool {
	p := &Pool{}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(id, q, d)
		}(i)
	}
	slog.Debug("worker pool started", slog.Int("workers", workers))
	return p
}

func (p *Pool) run(id int, q *Queue, d *detect.Detector) {
	for ev := range q.ch {
		switch e := ev.(type) {
		case protocol.ChatEvent:
			d.ProcessChat(e, time.Now())
		case protocol.DonationEvent:
			d.ProcessDonation(e)
		default:
			slog.Warn("worker got unknown event type", slog.Int("worker", id))
		}
		telemetry.SetQueueDepth(len(q.ch))
	}
}

// Wait blocks until every worker has exited. Only meaningful after Close on
// the queue.
func (p *Pool) Wait() { p.wg.Wait() }
