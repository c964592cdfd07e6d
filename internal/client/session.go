package client

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/loykin/datacat/internal/heartbeat"
)

// Session is the synchronous facade over one registered session. It is safe
// for concurrent use; every logging call performs one blocking round trip.
// Applications that must not block wrap a Session in queue.AsyncSession.
type Session struct {
	client *Client
	id     string

	mu      sync.Mutex
	monitor *heartbeat.Monitor
}

// NewSession wraps an already registered session id.
func NewSession(c *Client, id string) *Session {
	return &Session{client: c, id: id}
}

// Register registers a new session and returns its facade.
func Register(ctx context.Context, c *Client, product, version string) (*Session, error) {
	id, err := c.RegisterSession(ctx, product, version)
	if err != nil {
		return nil, err
	}
	return NewSession(c, id), nil
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// Client returns the underlying transport client.
func (s *Session) Client() *Client { return s.client }

// UpdateState replaces the session state mapping.
func (s *Session) UpdateState(ctx context.Context, state map[string]any) error {
	return s.client.UpdateState(ctx, s.id, state)
}

// LogEvent records a named event.
func (s *Session) LogEvent(ctx context.Context, name string, data map[string]any) error {
	return s.client.LogEvent(ctx, s.id, name, data)
}

// LogMetric records a gauge metric.
func (s *Session) LogMetric(ctx context.Context, name string, value float64, tags []string) error {
	return s.client.LogMetric(ctx, s.id, name, value, tags)
}

// LogCounter records a counter increment; the collector accumulates totals.
func (s *Session) LogCounter(ctx context.Context, name string, delta float64, tags []string) error {
	return s.client.LogMetricWithType(ctx, s.id, name, MetricCounter, delta, tags, nil, "", nil)
}

// LogHistogram records one sample of a distribution.
func (s *Session) LogHistogram(ctx context.Context, name string, value float64, tags []string) error {
	return s.client.LogMetricWithType(ctx, s.id, name, MetricHistogram, value, tags, nil, "", nil)
}

// LogMetricWithType records a metric with the full field set.
func (s *Session) LogMetricWithType(ctx context.Context, name, metricType string, value float64, tags []string, count *int, unit string, metadata map[string]any) error {
	return s.client.LogMetricWithType(ctx, s.id, name, metricType, value, tags, count, unit, metadata)
}

// LogException records err as an "exception" event with the error's Go type,
// message, and the calling goroutine's stack trace. extra fields are merged
// into the event data.
func (s *Session) LogException(ctx context.Context, err error, extra map[string]any) error {
	return s.client.LogEvent(ctx, s.id, "exception", ExceptionData(err, extra))
}

// End stops any heartbeat monitor and marks the session ended. The facade is
// inert afterwards; further calls fail collector-side.
func (s *Session) End(ctx context.Context) error {
	s.StopHeartbeatMonitor()
	return s.client.EndSession(ctx, s.id)
}

// GetDetails fetches the current session document.
func (s *Session) GetDetails(ctx context.Context) (*SessionDetails, error) {
	return s.client.GetSession(ctx, s.id)
}

// StartHeartbeatMonitor starts the background liveness monitor for this
// session. Repeated calls return the same monitor and never spawn a second
// checker.
func (s *Session) StartHeartbeatMonitor(timeout, checkInterval time.Duration) *heartbeat.Monitor {
	s.mu.Lock()
	if s.monitor == nil {
		s.monitor = heartbeat.New(s, timeout, checkInterval, s.client.logger)
	}
	m := s.monitor
	s.mu.Unlock()
	m.Start()
	return m
}

// Monitor returns the active heartbeat monitor, or nil when none is running.
func (s *Session) Monitor() *heartbeat.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitor
}

// Heartbeat signals liveness: it resets the local monitor (if started) and
// forwards a heartbeat to the daemon so server-side hang detection stays
// quiet too.
func (s *Session) Heartbeat(ctx context.Context) error {
	s.mu.Lock()
	m := s.monitor
	s.mu.Unlock()
	if m != nil {
		m.Heartbeat()
	}
	return s.client.Heartbeat(ctx, s.id)
}

// PauseHeartbeat suspends daemon-side hang detection.
func (s *Session) PauseHeartbeat(ctx context.Context) error {
	return s.client.PauseHeartbeat(ctx, s.id)
}

// ResumeHeartbeat re-enables daemon-side hang detection.
func (s *Session) ResumeHeartbeat(ctx context.Context) error {
	return s.client.ResumeHeartbeat(ctx, s.id)
}

// StopHeartbeatMonitor stops and discards the monitor if one is running.
func (s *Session) StopHeartbeatMonitor() {
	s.mu.Lock()
	m := s.monitor
	s.monitor = nil
	s.mu.Unlock()
	if m != nil {
		m.Stop()
	}
}

// ExceptionData builds the wire payload for an exception event: error type,
// message, and the calling goroutine's stack. The async queue calls this at
// enqueue time so the captured stack belongs to the reporting goroutine, not
// the delivery worker.
func ExceptionData(err error, extra map[string]any) map[string]any {
	data := map[string]any{
		"type":      fmt.Sprintf("%T", err),
		"message":   errMessage(err),
		"traceback": stackLines(),
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func stackLines() []string {
	return strings.Split(strings.TrimRight(string(debug.Stack()), "\n"), "\n")
}
