package client

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/datacat/internal/collectortest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricCalls(srv *collectortest.Server) []collectortest.Call {
	var out []collectortest.Call
	for _, c := range srv.Calls() {
		if c.Endpoint == "metric" {
			out = append(out, c)
		}
	}
	return out
}

func TestTimerEmitsElapsedSeconds(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	s := newTestSession(t, srv)

	tm := s.StartTimer("load_config")
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, tm.Stop(context.Background()))

	calls := metricCalls(srv)
	require.Len(t, calls, 1)
	body := calls[0].Body
	assert.Equal(t, "load_config", body["name"])
	assert.Equal(t, MetricTimer, body["type"])
	assert.Equal(t, UnitSeconds, body["unit"])
	assert.GreaterOrEqual(t, body["value"].(float64), 0.03)
	// No Add and no WithCount: count stays absent.
	assert.NotContains(t, body, "count")
}

func TestTimerMillisecondsWithIncrementalCount(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	s := newTestSession(t, srv)

	tm := s.StartTimer("process_queue", WithUnit(UnitMilliseconds), WithTags("data_pipeline"))
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		tm.Add(1)
	}
	require.NoError(t, tm.Stop(context.Background()))

	calls := metricCalls(srv)
	require.Len(t, calls, 1)
	body := calls[0].Body
	assert.Equal(t, UnitMilliseconds, body["unit"])
	assert.GreaterOrEqual(t, body["value"].(float64), 20.0)
	assert.Equal(t, float64(5), body["count"])
}

func TestTimerSeededCount(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	s := newTestSession(t, srv)

	tm := s.StartTimer("load_textures", WithCount(12))
	require.NoError(t, tm.Stop(context.Background()))

	calls := metricCalls(srv)
	require.Len(t, calls, 1)
	assert.Equal(t, float64(12), calls[0].Body["count"])
}

func TestTimerSecondStopIsNoOp(t *testing.T) {
	srv := collectortest.New()
	defer srv.Close()
	s := newTestSession(t, srv)

	tm := s.StartTimer("once")
	require.NoError(t, tm.Stop(context.Background()))
	require.NoError(t, tm.Stop(context.Background()))
	assert.Len(t, metricCalls(srv), 1)
}
