// Package heartbeat detects application hangs from the absence of
// periodic heartbeat calls.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/datacat/internal/metrics"
)

// Event names emitted by the monitor.
const (
	EventHung      = "application_appears_hung"
	EventRecovered = "application_recovered"
)

// joinSlack is added to one check interval when waiting for the checker
// goroutine to exit in Stop.
const joinSlack = time.Second

// EventSink receives the monitor's hang/recovery events. Emission is
// best-effort: sink errors never destabilize the monitored application.
type EventSink interface {
	LogEvent(ctx context.Context, name string, data map[string]any) error
}

// Monitor watches a single session. The last-heartbeat timestamp and the
// hung flag are shared between the caller and the checker goroutine and are
// guarded by mu. The hung flag is true exactly while a hang event has been
// emitted and no heartbeat has arrived since.
type Monitor struct {
	sink          EventSink
	timeout       time.Duration
	checkInterval time.Duration
	logger        *slog.Logger

	mu       sync.Mutex
	lastBeat time.Time
	hung     bool
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

// New creates a monitor. checkInterval should be smaller than timeout for
// timely detection; neither is otherwise constrained.
func New(sink EventSink, timeout, checkInterval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		sink:          sink,
		timeout:       timeout,
		checkInterval: checkInterval,
		logger:        logger,
	}
}

// Start launches the periodic checker. It is idempotent: calls while the
// checker is running are no-ops and never spawn a second goroutine.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.lastBeat = time.Now()
	m.hung = false
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(m.stop, m.done)
}

// Heartbeat records that the application is alive. If the session was
// flagged hung, the flag clears and a recovery event is emitted.
func (m *Monitor) Heartbeat() {
	m.mu.Lock()
	m.lastBeat = time.Now()
	recovered := m.hung
	m.hung = false
	m.mu.Unlock()

	if recovered {
		metrics.IncRecovery()
		if err := m.sink.LogEvent(context.Background(), EventRecovered, map[string]any{}); err != nil {
			m.logger.Debug("recovery event not delivered", "error", err)
		}
	}
}

// Stop signals the checker and waits for it to exit, bounded by one check
// interval plus slack. Safe to call when not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(m.checkInterval + joinSlack):
	}
}

// IsRunning reports whether the checker goroutine is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Hung reports whether the session is currently flagged hung.
func (m *Monitor) Hung() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hung
}

func (m *Monitor) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check emits the hang event at most once per episode.
func (m *Monitor) check() {
	m.mu.Lock()
	silence := time.Since(m.lastBeat)
	fire := silence > m.timeout && !m.hung
	if fire {
		m.hung = true
	}
	m.mu.Unlock()

	if !fire {
		return
	}
	metrics.IncHang()
	m.logger.Warn("no heartbeat observed", "silence", silence, "timeout", m.timeout)
	data := map[string]any{
		"seconds_since_heartbeat": int(silence.Seconds()),
		"timeout":                 int(m.timeout.Seconds()),
	}
	if err := m.sink.LogEvent(context.Background(), EventHung, data); err != nil {
		m.logger.Debug("hang event not delivered", "error", err)
	}
}
