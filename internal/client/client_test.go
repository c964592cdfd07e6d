package client

import (
	"context"
	"errors"
	"testing"

	"github.com/loykin/datacat/internal/collectortest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *collectortest.Server) *Client {
	return New(Config{BaseURL: srv.URL(), DaemonMode: true})
}

func TestRegisterSessionSendsIdentity(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	c := newTestClient(srv)

	id, err := c.RegisterSession(context.Background(), "mygame", "1.2.3")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "register", calls[0].Endpoint)
	assert.Equal(t, "mygame", calls[0].Body["product"])
	assert.Equal(t, "1.2.3", calls[0].Body["version"])
	// Daemon mode carries the parent pid for crash detection.
	assert.Contains(t, calls[0].Body, "parent_pid")
}

func TestRegisterSessionRequiresProductAndVersion(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	c := newTestClient(srv)

	_, err := c.RegisterSession(context.Background(), "", "1.0")
	require.Error(t, err)
	_, err = c.RegisterSession(context.Background(), "p", "")
	require.Error(t, err)
	assert.Empty(t, srv.Calls())
}

func TestLocalPlaceholderSessionsAccepted(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	srv.SetLocalIDs(true)
	c := newTestClient(srv)

	id, err := c.RegisterSession(context.Background(), "p", "1")
	require.NoError(t, err)
	assert.True(t, IsLocalSession(id))

	// The placeholder id works like any other.
	require.NoError(t, c.LogEvent(context.Background(), id, "boot", nil))
}

func TestWriteCallsHitDaemonEndpoints(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	c := newTestClient(srv)
	ctx := context.Background()

	id, err := c.RegisterSession(ctx, "p", "1")
	require.NoError(t, err)

	require.NoError(t, c.UpdateState(ctx, id, map[string]any{"level": 3}))
	require.NoError(t, c.LogEvent(ctx, id, "level_started", map[string]any{"level": 3}))
	require.NoError(t, c.LogMetric(ctx, id, "fps", 59.8, []string{"render"}))
	require.NoError(t, c.Heartbeat(ctx, id))
	require.NoError(t, c.EndSession(ctx, id))

	assert.Equal(t, 1, srv.CallsTo("state"))
	assert.Equal(t, 1, srv.CallsTo("event"))
	assert.Equal(t, 1, srv.CallsTo("metric"))
	assert.Equal(t, 1, srv.CallsTo("heartbeat"))
	assert.Equal(t, 1, srv.CallsTo("end"))
}

func TestLogMetricWithTypeFields(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	c := newTestClient(srv)
	ctx := context.Background()

	count := 42
	err := c.LogMetricWithType(ctx, "sid", "load_textures", MetricTimer, 1.5,
		[]string{"startup"}, &count, UnitSeconds, map[string]any{"pack": "hd"})
	require.NoError(t, err)

	calls := srv.Calls()
	require.Len(t, calls, 1)
	body := calls[0].Body
	assert.Equal(t, MetricTimer, body["type"])
	assert.Equal(t, 1.5, body["value"])
	assert.Equal(t, float64(42), body["count"])
	assert.Equal(t, UnitSeconds, body["unit"])
}

func TestNon2xxYieldsAPIError(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	srv.SetFailing(true)
	c := newTestClient(srv)

	err := c.LogEvent(context.Background(), "sid", "x", nil)
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "want *APIError, got %v", err)
	assert.Equal(t, 500, apiErr.Status)
}

func TestTransportErrorIsNotAPIError(t *testing.T) {
	srv := collectortest.New()
	url := srv.URL()
	srv.Close()

	c := New(Config{BaseURL: url, DaemonMode: true})
	err := c.LogEvent(context.Background(), "sid", "x", nil)
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestIsReachable(t *testing.T) {
	srv := collectortest.New()
	c := newTestClient(srv)
	assert.True(t, c.IsReachable(context.Background()))
	srv.Close()
	assert.False(t, c.IsReachable(context.Background()))
}

func TestHeartbeatNoOpInServerMode(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:1", DaemonMode: false})
	// Heartbeats only exist between client and daemon.
	assert.NoError(t, c.Heartbeat(context.Background(), "sid"))
}
