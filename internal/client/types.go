package client

import (
	"fmt"
	"strings"
	"time"
)

// SessionDetails mirrors the collector's session document.
type SessionDetails struct {
	ID            string           `json:"id"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	EndedAt       *time.Time       `json:"ended_at,omitempty"`
	LastHeartbeat *time.Time       `json:"last_heartbeat,omitempty"`
	Active        bool             `json:"active"`
	Suspended     bool             `json:"suspended"`
	Crashed       bool             `json:"crashed"`
	Hung          bool             `json:"hung"`
	MachineID     string           `json:"machine_id,omitempty"`
	Hostname      string           `json:"hostname,omitempty"`
	State         map[string]any   `json:"state"`
	StateHistory  []StateSnapshot  `json:"state_history"`
	Events        []Event          `json:"events"`
	Metrics       []Metric         `json:"metrics"`
}

// StateSnapshot is one entry of a session's state history.
type StateSnapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
}

// Event is a structured event within a session.
type Event struct {
	Timestamp      time.Time      `json:"timestamp"`
	Name           string         `json:"name"`
	Level          string         `json:"level"`
	Category       string         `json:"category"`
	Labels         []string       `json:"labels"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data"`
	ExceptionType  string         `json:"exception_type,omitempty"`
	ExceptionMsg   string         `json:"exception_msg,omitempty"`
	Stacktrace     []string       `json:"stacktrace,omitempty"`
	SourceFile     string         `json:"source_file,omitempty"`
	SourceLine     int            `json:"source_line,omitempty"`
	SourceFunction string         `json:"source_function,omitempty"`
}

// Metric is a single measurement within a session.
// Type is one of "gauge", "counter", "histogram", "timer".
type Metric struct {
	Timestamp time.Time      `json:"timestamp"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Value     float64        `json:"value"`
	Count     *int           `json:"count,omitempty"`
	Unit      string         `json:"unit,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Metric type names accepted by the collector.
const (
	MetricGauge     = "gauge"
	MetricCounter   = "counter"
	MetricHistogram = "histogram"
	MetricTimer     = "timer"
)

// LocalSessionPrefix marks placeholder ids the daemon hands out while its
// upstream is unreachable. Such sessions behave like any other.
const LocalSessionPrefix = "local-session-"

// IsLocalSession reports whether id is a daemon-generated placeholder.
func IsLocalSession(id string) bool { return strings.HasPrefix(id, LocalSessionPrefix) }

// APIError is returned for non-2xx collector responses. Transport-level
// failures (connection refused, timeout) are wrapped plain errors instead.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("collector returned HTTP %d: %s", e.Status, e.Body)
}
