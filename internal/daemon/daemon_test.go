//go:build !windows

package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-daemon.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func sleeperScript(t *testing.T) string {
	return writeScript(t, "sleep 60\n")
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func TestStartStopLifecycle(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(Options{
		Binary:       sleeperScript(t),
		ServerURL:    "https://telemetry.example.com",
		ConfigDir:    dir,
		StartupGrace: 50 * time.Millisecond,
	})
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop(time.Second) }()

	assert.True(t, m.IsRunning())
	require.NotEmpty(t, m.Port())
	pid := m.PID()
	require.NotZero(t, pid)

	// Config artifact carries the negotiated port and forwarding settings.
	cfgPath := m.ConfigPath()
	assert.Equal(t, filepath.Join(dir, "daemon_config_"+m.Port()+".json"), cfgPath)
	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	var cfg Config
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, m.Port(), cfg.DaemonPort)
	assert.Equal(t, "https://telemetry.example.com", cfg.ServerURL)
	assert.Equal(t, 5, cfg.BatchIntervalSeconds)
	assert.Equal(t, 100, cfg.MaxBatchSize)
	assert.Equal(t, 60, cfg.HeartbeatTimeoutSeconds)

	require.NoError(t, m.Stop(time.Second))
	assert.False(t, m.IsRunning())
	assert.False(t, processAlive(pid))
	_, err = os.Stat(cfgPath)
	assert.True(t, os.IsNotExist(err), "config artifact not removed")
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	m := NewManager(Options{
		Binary:       sleeperScript(t),
		ConfigDir:    t.TempDir(),
		StartupGrace: 50 * time.Millisecond,
	})
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop(time.Second) }()

	pid := m.PID()
	require.NoError(t, m.Start())
	assert.Equal(t, pid, m.PID(), "second Start spawned a new process")
}

func TestStartFailsWhenDaemonExitsImmediately(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, "echo 'bind refused' >&2\nexit 1\n")
	m := NewManager(Options{
		Binary:       script,
		ConfigDir:    dir,
		StartupGrace: 500 * time.Millisecond,
	})
	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind refused")
	assert.False(t, m.IsRunning())

	entries, rerr := os.ReadDir(dir)
	require.NoError(t, rerr)
	assert.Empty(t, entries, "config artifact left behind after failed start")
}

func TestStartPassesConfigPathInEnv(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "seen_env")
	script := writeScript(t, "printf '%s' \"$"+ConfigEnv+"\" > "+marker+"\nsleep 60\n")
	m := NewManager(Options{
		Binary:       script,
		ConfigDir:    dir,
		StartupGrace: 100 * time.Millisecond,
	})
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop(time.Second) }()

	var got []byte
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(marker)
		if err != nil || len(b) == 0 {
			return false
		}
		got = b
		return true
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, m.ConfigPath(), string(got))
}

func TestStopEscalatesToKill(t *testing.T) {
	// The script ignores SIGTERM, so only the SIGKILL escalation can end it.
	script := writeScript(t, "trap '' TERM\nwhile true; do sleep 1; done\n")
	m := NewManager(Options{
		Binary:       script,
		ConfigDir:    t.TempDir(),
		StartupGrace: 100 * time.Millisecond,
	})
	require.NoError(t, m.Start())
	pid := m.PID()

	require.NoError(t, m.Stop(200*time.Millisecond))
	require.Eventually(t, func() bool { return !processAlive(pid) }, 2*time.Second, 20*time.Millisecond)
}

func TestStopTwiceIsSafe(t *testing.T) {
	m := NewManager(Options{
		Binary:       sleeperScript(t),
		ConfigDir:    t.TempDir(),
		StartupGrace: 50 * time.Millisecond,
	})
	require.NoError(t, m.Start())
	require.NoError(t, m.Stop(time.Second))
	require.NoError(t, m.Stop(time.Second))
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	m := NewManager(Options{Binary: "/bin/true", ConfigDir: t.TempDir()})
	require.NoError(t, m.Stop(time.Second))
}

func TestAutoPortResolvesToNumericPort(t *testing.T) {
	m := NewManager(Options{
		Binary:       sleeperScript(t),
		ConfigDir:    t.TempDir(),
		StartupGrace: 50 * time.Millisecond,
	})
	assert.Empty(t, m.Port(), "port resolved before Start")
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop(time.Second) }()

	port, err := strconv.Atoi(m.Port())
	require.NoError(t, err)
	assert.Greater(t, port, 0)
}

func TestWaitReadyPollsHealthEndpoint(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)

	m := NewManager(Options{
		Binary:       sleeperScript(t),
		Port:         u.Port(),
		ConfigDir:    t.TempDir(),
		StartupGrace: 50 * time.Millisecond,
		ReadyTimeout: 2 * time.Second,
	})
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop(time.Second) }()
	assert.True(t, m.IsRunning())
}

func TestWaitReadyFailsWhenHealthNeverAnswers(t *testing.T) {
	m := NewManager(Options{
		Binary:       sleeperScript(t),
		ConfigDir:    t.TempDir(),
		StartupGrace: 50 * time.Millisecond,
		ReadyTimeout: 600 * time.Millisecond,
	})
	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
	assert.False(t, m.IsRunning(), "daemon left running after readiness failure")
}

func TestFindFreePortIsBindable(t *testing.T) {
	port, err := findFreePort()
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.Less(t, n, 65536)
}

func TestStopAllStopsRegisteredManagers(t *testing.T) {
	m := NewManager(Options{
		Binary:       sleeperScript(t),
		ConfigDir:    t.TempDir(),
		StartupGrace: 50 * time.Millisecond,
	})
	require.NoError(t, m.Start())
	pid := m.PID()

	StopAll(time.Second)
	assert.False(t, m.IsRunning())
	require.Eventually(t, func() bool { return !processAlive(pid) }, 2*time.Second, 20*time.Millisecond)
}
