package client

import (
	"context"
	"sync"
	"time"
)

// Duration units accepted by the collector for timer metrics.
const (
	UnitSeconds      = "seconds"
	UnitMilliseconds = "milliseconds"
)

// Timer measures one scope and emits a timer-type metric on Stop. The
// optional iteration count lets the backend compute per-item averages:
//
//	tm := sess.StartTimer("process_queue", WithUnit(UnitMilliseconds))
//	defer tm.Stop(ctx)
//	for _, it := range items {
//	    handle(it)
//	    tm.Add(1)
//	}
//
// Stop only emits; it cannot swallow an error from the measured block.
type Timer struct {
	sess  *Session
	name  string
	unit  string
	tags  []string
	start time.Time

	mu      sync.Mutex
	count   int
	counted bool
	stopped bool
}

// TimerOption configures a Timer at creation.
type TimerOption func(*Timer)

// WithUnit sets the emitted duration unit (default UnitSeconds).
func WithUnit(unit string) TimerOption { return func(t *Timer) { t.unit = unit } }

// WithTags attaches tags to the emitted metric.
func WithTags(tags ...string) TimerOption { return func(t *Timer) { t.tags = tags } }

// WithCount seeds the iteration count for scopes with a known size.
func WithCount(n int) TimerOption {
	return func(t *Timer) {
		t.count = n
		t.counted = true
	}
}

// StartTimer begins a timed scope that emits on Stop.
func (s *Session) StartTimer(name string, opts ...TimerOption) *Timer {
	t := &Timer{sess: s, name: name, unit: UnitSeconds, start: time.Now()}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Add increments the iteration count from within the scope.
func (t *Timer) Add(n int) {
	t.mu.Lock()
	t.count += n
	t.counted = true
	t.mu.Unlock()
}

// Stop emits the elapsed duration in the configured unit. A second Stop is a
// no-op. The returned error is the emission result only.
func (t *Timer) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	var count *int
	if t.counted {
		n := t.count
		count = &n
	}
	t.mu.Unlock()

	elapsed := time.Since(t.start)
	value := elapsed.Seconds()
	if t.unit == UnitMilliseconds {
		value = elapsed.Seconds() * 1000
	}
	return t.sess.LogMetricWithType(ctx, t.name, MetricTimer, value, t.tags, count, t.unit, nil)
}
