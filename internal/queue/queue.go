// Package queue decouples logging calls from network I/O. Every call on
// AsyncSession pushes a work item onto a bounded channel and returns
// immediately; a single worker goroutine drains the channel and invokes the
// synchronous session facade. Items are attempted in FIFO order, but a
// failed delivery is skipped (or spooled), never retried in line, so the
// collector's view carries no ordering guarantee.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loykin/datacat/internal/client"
	"github.com/loykin/datacat/internal/metrics"
	"github.com/loykin/datacat/internal/spool"
)

// Work item kinds.
const (
	kindState     = "state"
	kindEvent     = "event"
	kindMetric    = "metric"
	kindException = "exception"
)

const (
	defaultQueueSize  = 1000
	defaultDrainBatch = 16
	flushPollInterval = 5 * time.Millisecond
	endGrace          = 2 * time.Second
)

// workItem is one unit of deferred work. Ownership moves from producer to
// channel to worker; nothing is shared after enqueue.
type workItem struct {
	Kind       string         `json:"kind,omitempty"`
	Name       string         `json:"name,omitempty"`
	MetricType string         `json:"metric_type,omitempty"`
	Value      float64        `json:"value,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Count      *int           `json:"count,omitempty"`
	Unit       string         `json:"unit,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Options configures an AsyncSession at construction. The full-queue policy
// is fixed here, not per call.
type Options struct {
	QueueSize  int  // bounded capacity; default 1000
	DropOnFull bool // drop-and-count instead of blocking the producer
	Logger     *slog.Logger
	// Spool, when set, receives items whose delivery failed with a
	// transport error; the worker re-drains it after later successes.
	Spool           *spool.Spool
	SpoolDrainBatch int // max spooled items redelivered per drain; default 16
}

// Stats is a point-in-time snapshot of delivery accounting. Queued is the
// channel length at call time, best-effort with respect to concurrent pushes.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
}

// AsyncSession wraps a synchronous Session with a non-blocking API that
// mirrors it one-for-one. Logging calls return in constant time regardless
// of collector latency or availability.
type AsyncSession struct {
	sess       *client.Session
	ch         chan workItem
	dropOnFull bool
	logger     *slog.Logger
	spool      *spool.Spool
	drainBatch int

	sent    atomic.Uint64
	dropped atomic.Uint64
	// pending counts items accepted onto the channel whose delivery has not
	// finished yet, so Flush cannot miss the window between the worker's
	// receive and the delivery call.
	pending atomic.Int64
	closed  atomic.Bool

	stop chan struct{}
	done chan struct{}
}

// NewAsyncSession starts the delivery worker and returns the wrapper.
func NewAsyncSession(sess *client.Session, opts Options) *AsyncSession {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SpoolDrainBatch <= 0 {
		opts.SpoolDrainBatch = defaultDrainBatch
	}
	a := &AsyncSession{
		sess:       sess,
		ch:         make(chan workItem, opts.QueueSize),
		dropOnFull: opts.DropOnFull,
		logger:     opts.Logger,
		spool:      opts.Spool,
		drainBatch: opts.SpoolDrainBatch,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go a.worker()
	return a
}

// Session returns the wrapped synchronous facade.
func (a *AsyncSession) Session() *client.Session { return a.sess }

// UpdateState enqueues a state replacement.
func (a *AsyncSession) UpdateState(state map[string]any) {
	a.enqueue(workItem{Kind: kindState, Data: state})
}

// LogEvent enqueues a named event.
func (a *AsyncSession) LogEvent(name string, data map[string]any) {
	a.enqueue(workItem{Kind: kindEvent, Name: name, Data: data})
}

// LogMetric enqueues a gauge metric.
func (a *AsyncSession) LogMetric(name string, value float64, tags []string) {
	a.enqueue(workItem{Kind: kindMetric, Name: name, MetricType: client.MetricGauge, Value: value, Tags: tags})
}

// LogCounter enqueues a counter increment.
func (a *AsyncSession) LogCounter(name string, delta float64, tags []string) {
	a.enqueue(workItem{Kind: kindMetric, Name: name, MetricType: client.MetricCounter, Value: delta, Tags: tags})
}

// LogHistogram enqueues a histogram sample.
func (a *AsyncSession) LogHistogram(name string, value float64, tags []string) {
	a.enqueue(workItem{Kind: kindMetric, Name: name, MetricType: client.MetricHistogram, Value: value, Tags: tags})
}

// LogMetricWithType enqueues a metric with the full field set.
func (a *AsyncSession) LogMetricWithType(name, metricType string, value float64, tags []string, count *int, unit string, metadata map[string]any) {
	a.enqueue(workItem{Kind: kindMetric, Name: name, MetricType: metricType, Value: value, Tags: tags, Count: count, Unit: unit, Metadata: metadata})
}

// LogException captures err (type, message, stack) on the calling goroutine
// and enqueues it for delivery.
func (a *AsyncSession) LogException(err error, extra map[string]any) {
	a.enqueue(workItem{Kind: kindException, Data: client.ExceptionData(err, extra)})
}

// Heartbeat bypasses the queue: liveness must not wait behind telemetry.
func (a *AsyncSession) Heartbeat(ctx context.Context) error {
	return a.sess.Heartbeat(ctx)
}

// Stats returns an immutable accounting snapshot.
func (a *AsyncSession) Stats() Stats {
	return Stats{
		Sent:    a.sent.Load(),
		Dropped: a.dropped.Load(),
		Queued:  len(a.ch),
	}
}

// Flush blocks until the queue drains (including the in-flight item) or the
// timeout elapses. It reports whether the queue was observed empty and does
// not stop the worker.
func (a *AsyncSession) Flush(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if a.pending.Load() == 0 {
			return true
		}
		if !time.Now().Before(deadline) {
			return a.pending.Load() == 0
		}
		time.Sleep(flushPollInterval)
	}
}

// Shutdown flushes within timeout, stops and joins the worker, then ends the
// underlying session. A second call is a no-op.
func (a *AsyncSession) Shutdown(timeout time.Duration) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	start := time.Now()
	a.Flush(timeout)
	close(a.stop)
	<-a.done

	grace := timeout - time.Since(start)
	if grace < endGrace {
		grace = endGrace
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := a.sess.End(ctx); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// enqueue applies the construction-time full-queue policy. It never reports
// an error to the caller: a full queue either drops or blocks.
func (a *AsyncSession) enqueue(it workItem) {
	if a.closed.Load() {
		a.dropped.Add(1)
		metrics.IncDropped(it.Kind)
		return
	}
	// Counted before the send so pending never under-reports an item the
	// worker has already picked up.
	a.pending.Add(1)
	if a.dropOnFull {
		select {
		case a.ch <- it:
			metrics.SetQueueDepth(len(a.ch))
		default:
			a.pending.Add(-1)
			a.dropped.Add(1)
			metrics.IncDropped(it.Kind)
		}
		return
	}
	select {
	case a.ch <- it:
		metrics.SetQueueDepth(len(a.ch))
	case <-a.stop:
		a.pending.Add(-1)
		a.dropped.Add(1)
		metrics.IncDropped(it.Kind)
	}
}

// worker is the single consumer for the queue's lifetime. One bad item must
// never halt subsequent delivery.
func (a *AsyncSession) worker() {
	defer close(a.done)
	for {
		select {
		case it := <-a.ch:
			a.deliver(it)
		case <-a.stop:
			// Drain whatever is still queued, then exit.
			for {
				select {
				case it := <-a.ch:
					a.deliver(it)
				default:
					return
				}
			}
		}
	}
}

func (a *AsyncSession) deliver(it workItem) {
	defer a.pending.Add(-1)

	err := a.invoke(context.Background(), it)
	metrics.SetQueueDepth(len(a.ch))
	if err != nil {
		a.logger.Debug("delivery failed", "kind", it.Kind, "name", it.Name, "error", err)
		metrics.IncDeliveryFailure(it.Kind)
		a.toSpool(it)
		return
	}
	a.sent.Add(1)
	metrics.IncSent(it.Kind)
	a.drainSpool()
}

func (a *AsyncSession) invoke(ctx context.Context, it workItem) error {
	switch it.Kind {
	case kindState:
		return a.sess.UpdateState(ctx, it.Data)
	case kindEvent:
		return a.sess.LogEvent(ctx, it.Name, it.Data)
	case kindMetric:
		return a.sess.LogMetricWithType(ctx, it.Name, it.MetricType, it.Value, it.Tags, it.Count, it.Unit, it.Metadata)
	case kindException:
		return a.sess.LogEvent(ctx, "exception", it.Data)
	default:
		return fmt.Errorf("unknown work item kind %q", it.Kind)
	}
}

// toSpool persists a failed item when a spool is configured. Best-effort:
// a spool error only logs.
func (a *AsyncSession) toSpool(it workItem) {
	if a.spool == nil {
		return
	}
	payload, err := json.Marshal(it)
	if err != nil {
		a.logger.Debug("spool encode failed", "kind", it.Kind, "error", err)
		return
	}
	rec := spool.Item{SessionID: a.sess.ID(), Kind: it.Kind, Payload: payload}
	if err := a.spool.Append(context.Background(), rec); err != nil {
		a.logger.Debug("spool append failed", "kind", it.Kind, "error", err)
		return
	}
	metrics.IncSpoolAppend()
}

// drainSpool redelivers a bounded batch of this session's spooled items
// after a successful delivery. It stops at the first failure; the rest stay
// spooled. Items spooled by other sessions sharing the database are never
// replayed here.
func (a *AsyncSession) drainSpool() {
	if a.spool == nil {
		return
	}
	ctx := context.Background()
	items, err := a.spool.Next(ctx, a.sess.ID(), a.drainBatch)
	if err != nil || len(items) == 0 {
		return
	}
	for _, rec := range items {
		var it workItem
		if err := json.Unmarshal(rec.Payload, &it); err != nil {
			// Unreadable rows are removed so they cannot wedge the spool.
			_ = a.spool.Delete(ctx, rec.ID)
			continue
		}
		if err := a.invoke(ctx, it); err != nil {
			return
		}
		_ = a.spool.Delete(ctx, rec.ID)
		a.sent.Add(1)
		metrics.IncSent(it.Kind)
		metrics.IncSpoolDrain()
	}
}
