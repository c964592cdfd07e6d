package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loykin/datacat/internal/collectortest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, srv *collectortest.Server) *Session {
	t.Helper()
	c := newTestClient(srv)
	s, err := Register(context.Background(), c, "testapp", "0.1.0")
	require.NoError(t, err)
	return s
}

func TestSessionLogException(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	s := newTestSession(t, srv)

	cause := errors.New("texture pack missing")
	require.NoError(t, s.LogException(context.Background(), cause, map[string]any{"pack": "hd"}))

	require.Equal(t, 1, srv.EventsNamed("exception"))
	var call collectortest.Call
	for _, c := range srv.Calls() {
		if c.Endpoint == "event" {
			call = c
		}
	}
	data, ok := call.Body["data"].(map[string]any)
	require.True(t, ok, "event data missing: %#v", call.Body)
	assert.Equal(t, "*errors.errorString", data["type"])
	assert.Equal(t, "texture pack missing", data["message"])
	assert.NotEmpty(t, data["traceback"])
	assert.Equal(t, "hd", data["pack"])
}

func TestSessionEndStopsMonitor(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	s := newTestSession(t, srv)

	m := s.StartHeartbeatMonitor(time.Hour, 10*time.Millisecond)
	require.True(t, m.IsRunning())

	require.NoError(t, s.End(context.Background()))
	assert.False(t, m.IsRunning())
	assert.Equal(t, 1, srv.CallsTo("end"))
}

func TestStartHeartbeatMonitorReturnsSameInstance(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	s := newTestSession(t, srv)
	defer s.StopHeartbeatMonitor()

	m1 := s.StartHeartbeatMonitor(time.Hour, 10*time.Millisecond)
	m2 := s.StartHeartbeatMonitor(time.Hour, 10*time.Millisecond)
	assert.Same(t, m1, m2)
}

func TestSessionHeartbeatResetsMonitorAndForwards(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	s := newTestSession(t, srv)
	defer s.StopHeartbeatMonitor()

	s.StartHeartbeatMonitor(50*time.Millisecond, 10*time.Millisecond)
	for i := 0; i < 8; i++ {
		require.NoError(t, s.Heartbeat(context.Background()))
		time.Sleep(15 * time.Millisecond)
	}
	assert.Equal(t, 0, srv.EventsNamed("application_appears_hung"))
	assert.Equal(t, 8, srv.CallsTo("heartbeat"))
}

func TestStopHeartbeatMonitorWithoutStartIsSafe(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	s := newTestSession(t, srv)
	s.StopHeartbeatMonitor()
}
