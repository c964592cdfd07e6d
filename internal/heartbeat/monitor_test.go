package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (r *recordingSink) LogEvent(_ context.Context, name string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return context.DeadlineExceeded
	}
	r.events = append(r.events, name)
	return nil
}

func (r *recordingSink) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == name {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

func TestHangDetectedOnceWithinTimeoutPlusInterval(t *testing.T) {
	sink := &recordingSink{}
	m := New(sink, 200*time.Millisecond, 50*time.Millisecond, nil)
	m.Start()
	defer m.Stop()

	waitFor(t, 500*time.Millisecond, func() bool { return sink.count(EventHung) == 1 })
	if !m.Hung() {
		t.Fatal("hung flag not set after hang event")
	}

	// No further hang events while the episode lasts.
	time.Sleep(200 * time.Millisecond)
	if got := sink.count(EventHung); got != 1 {
		t.Fatalf("hang emitted %d times, want exactly 1", got)
	}
}

func TestHeartbeatPreventsHang(t *testing.T) {
	sink := &recordingSink{}
	m := New(sink, 150*time.Millisecond, 30*time.Millisecond, nil)
	m.Start()
	defer m.Stop()

	for i := 0; i < 10; i++ {
		m.Heartbeat()
		time.Sleep(40 * time.Millisecond)
	}
	if got := sink.count(EventHung); got != 0 {
		t.Fatalf("hang emitted %d times despite heartbeats", got)
	}
	if m.Hung() {
		t.Fatal("hung flag set despite heartbeats")
	}
}

func TestRecoveryEmittedExactlyOnce(t *testing.T) {
	sink := &recordingSink{}
	m := New(sink, 100*time.Millisecond, 25*time.Millisecond, nil)
	m.Start()
	defer m.Stop()

	waitFor(t, 500*time.Millisecond, func() bool { return m.Hung() })

	m.Heartbeat()
	if m.Hung() {
		t.Fatal("hung flag survived heartbeat")
	}
	if got := sink.count(EventRecovered); got != 1 {
		t.Fatalf("recovery emitted %d times, want 1", got)
	}

	// A second heartbeat while alive must not emit another recovery.
	m.Heartbeat()
	if got := sink.count(EventRecovered); got != 1 {
		t.Fatalf("recovery re-emitted: %d", got)
	}
}

func TestStartIdempotent(t *testing.T) {
	sink := &recordingSink{}
	m := New(sink, 120*time.Millisecond, 30*time.Millisecond, nil)
	m.Start()
	m.Start()
	m.Start()
	defer m.Stop()

	// A duplicate checker would emit a second hang event for one episode.
	waitFor(t, 500*time.Millisecond, func() bool { return sink.count(EventHung) >= 1 })
	time.Sleep(150 * time.Millisecond)
	if got := sink.count(EventHung); got != 1 {
		t.Fatalf("hang emitted %d times; duplicate checker suspected", got)
	}
}

func TestStopJoinsChecker(t *testing.T) {
	sink := &recordingSink{}
	m := New(sink, time.Hour, 20*time.Millisecond, nil)
	m.Start()
	m.Stop()
	if m.IsRunning() {
		t.Fatal("monitor still running after Stop")
	}
	// Stop again is safe.
	m.Stop()
}

func TestEmissionFailureDoesNotStopMonitor(t *testing.T) {
	sink := &recordingSink{fail: true}
	m := New(sink, 80*time.Millisecond, 20*time.Millisecond, nil)
	m.Start()
	defer m.Stop()

	waitFor(t, 500*time.Millisecond, func() bool { return m.Hung() })
	// Monitor survives the failed emission and still observes recovery.
	m.Heartbeat()
	if m.Hung() {
		t.Fatal("recovery not applied after failed hang emission")
	}
	if !m.IsRunning() {
		t.Fatal("monitor stopped after emission failure")
	}
}
