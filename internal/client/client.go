// Package client implements the synchronous datacat API transport and the
// session facade it backs. All calls are blocking request/response; the
// non-blocking layer lives in internal/queue.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/loykin/datacat/internal/hostinfo"
)

// Client talks to either a local collector daemon or the datacat server
// directly. The daemon exposes flat endpoints (/event, /metric, ...) and
// expects the session id in the body; the server uses REST paths under
// /api/sessions.
type Client struct {
	baseURL    string
	hc         *http.Client
	logger     *slog.Logger
	daemonMode bool
}

// Config holds client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Logger     *slog.Logger // optional; defaults to slog.Default()
	DaemonMode bool         // true when BaseURL points at a local daemon
}

// DefaultConfig returns defaults for talking to a daemon on localhost.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:8079",
		Timeout:    10 * time.Second,
		DaemonMode: true,
	}
}

// New creates a new datacat API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8079"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL:    config.BaseURL,
		logger:     config.Logger,
		daemonMode: config.DaemonMode,
		hc:         &http.Client{Timeout: config.Timeout},
	}
}

// BaseURL returns the configured endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// IsReachable checks whether the collector endpoint answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	path := "/health"
	if !c.daemonMode {
		path = "/api/health"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		c.logger.Debug("collector unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// RegisterSession registers a new session and returns its id. The daemon is
// given the parent pid so it can flag crashed sessions, plus host metadata.
// When the daemon's upstream is down the returned id carries
// LocalSessionPrefix; callers treat it like any other id.
func (c *Client) RegisterSession(ctx context.Context, product, version string) (string, error) {
	if product == "" || version == "" {
		return "", fmt.Errorf("product and version are required to register a session")
	}

	hi := hostinfo.Collect()
	body := map[string]any{
		"product":    product,
		"version":    version,
		"hostname":   hi.Hostname,
		"machine_id": hi.MachineID,
	}

	var path string
	if c.daemonMode {
		path = "/register"
		body["parent_pid"] = os.Getpid()
	} else {
		path = "/api/sessions"
	}

	var result map[string]string
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+path, body, &result); err != nil {
		return "", fmt.Errorf("register session: %w", err)
	}
	id := result["session_id"]
	if id == "" {
		return "", fmt.Errorf("register session: collector returned no session_id")
	}
	c.logger.Debug("session registered", "session_id", id, "local", IsLocalSession(id))
	return id, nil
}

// GetSession retrieves a session document by id.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionDetails, error) {
	var u string
	if c.daemonMode {
		u = c.baseURL + "/session?session_id=" + url.QueryEscape(sessionID)
	} else {
		u = c.baseURL + "/api/sessions/" + url.PathEscape(sessionID)
	}
	var sd SessionDetails
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &sd); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sd, nil
}

// UpdateState replaces the session's current state mapping.
func (c *Client) UpdateState(ctx context.Context, sessionID string, state map[string]any) error {
	var u string
	var body any
	if c.daemonMode {
		u = c.baseURL + "/state"
		body = map[string]any{"session_id": sessionID, "state": state}
	} else {
		u = c.baseURL + "/api/sessions/" + url.PathEscape(sessionID) + "/state"
		body = state
	}
	if err := c.doJSON(ctx, http.MethodPost, u, body, nil); err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	return nil
}

// LogEvent records a named event with optional structured data.
func (c *Client) LogEvent(ctx context.Context, sessionID, name string, data map[string]any) error {
	var u string
	var body map[string]any
	if c.daemonMode {
		u = c.baseURL + "/event"
		body = map[string]any{"session_id": sessionID, "name": name, "data": data}
	} else {
		u = c.baseURL + "/api/sessions/" + url.PathEscape(sessionID) + "/events"
		body = map[string]any{"name": name, "data": data}
	}
	if err := c.doJSON(ctx, http.MethodPost, u, body, nil); err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// LogMetric records a gauge metric.
func (c *Client) LogMetric(ctx context.Context, sessionID, name string, value float64, tags []string) error {
	return c.LogMetricWithType(ctx, sessionID, name, MetricGauge, value, tags, nil, "", nil)
}

// LogMetricWithType records a metric of a specific type with the full field set.
func (c *Client) LogMetricWithType(ctx context.Context, sessionID, name, metricType string, value float64, tags []string, count *int, unit string, metadata map[string]any) error {
	var u string
	body := map[string]any{
		"name":  name,
		"type":  metricType,
		"value": value,
		"tags":  tags,
	}
	if c.daemonMode {
		u = c.baseURL + "/metric"
		body["session_id"] = sessionID
	} else {
		u = c.baseURL + "/api/sessions/" + url.PathEscape(sessionID) + "/metrics"
	}
	if count != nil {
		body["count"] = *count
	}
	if unit != "" {
		body["unit"] = unit
	}
	if metadata != nil {
		body["metadata"] = metadata
	}
	if err := c.doJSON(ctx, http.MethodPost, u, body, nil); err != nil {
		return fmt.Errorf("log metric: %w", err)
	}
	return nil
}

// EndSession marks the session ended. The id is inert afterwards.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	var u string
	var body any
	if c.daemonMode {
		u = c.baseURL + "/end"
		body = map[string]any{"session_id": sessionID}
	} else {
		u = c.baseURL + "/api/sessions/" + url.PathEscape(sessionID) + "/end"
	}
	if err := c.doJSON(ctx, http.MethodPost, u, body, nil); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Heartbeat tells the daemon the application is alive. Only meaningful in
// daemon mode; a direct-server client silently succeeds.
func (c *Client) Heartbeat(ctx context.Context, sessionID string) error {
	if !c.daemonMode {
		return nil
	}
	body := map[string]any{"session_id": sessionID}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/heartbeat", body, nil); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// PauseHeartbeat suspends daemon-side hang detection for the session, e.g.
// ahead of a known long blocking operation.
func (c *Client) PauseHeartbeat(ctx context.Context, sessionID string) error {
	if !c.daemonMode {
		return nil
	}
	body := map[string]any{"session_id": sessionID}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/pause_heartbeat", body, nil); err != nil {
		return fmt.Errorf("pause heartbeat: %w", err)
	}
	return nil
}

// ResumeHeartbeat re-enables daemon-side hang detection.
func (c *Client) ResumeHeartbeat(ctx context.Context, sessionID string) error {
	if !c.daemonMode {
		return nil
	}
	body := map[string]any{"session_id": sessionID}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/resume_heartbeat", body, nil); err != nil {
		return fmt.Errorf("resume heartbeat: %w", err)
	}
	return nil
}

// ListSessions retrieves every session the collector knows about.
func (c *Client) ListSessions(ctx context.Context) ([]*SessionDetails, error) {
	var u string
	if c.daemonMode {
		u = c.baseURL + "/sessions"
	} else {
		u = c.baseURL + "/api/data/sessions"
	}
	var out []*SessionDetails
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// doJSON performs one request/response cycle. A non-2xx status yields an
// *APIError; transport failures are wrapped as-is.
func (c *Client) doJSON(ctx context.Context, method, url string, in, out any) error {
	var rd io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "url", url, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
