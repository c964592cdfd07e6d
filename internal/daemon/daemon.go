// Package daemon owns the lifecycle of the local collector daemon
// subprocess: port negotiation, the per-port configuration artifact, launch
// with captured output, readiness checks, and guaranteed termination.
package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/datacat/internal/logger"
	"github.com/loykin/datacat/internal/metrics"
)

// ConfigEnv names the environment variable carrying the config artifact path
// to the daemon subprocess.
const ConfigEnv = "DATACAT_CONFIG"

// DefaultBinaryName is the daemon executable searched for when none is
// configured.
const DefaultBinaryName = "datacat-daemon"

const (
	defaultBatchInterval    = 5 * time.Second
	defaultMaxBatchSize     = 100
	defaultHeartbeatTimeout = 60 * time.Second
	defaultStartupGrace     = 300 * time.Millisecond
	readyPollInterval       = 250 * time.Millisecond
	killGrace               = 200 * time.Millisecond
	outputTailLimit         = 64 * 1024
)

// Config is the artifact handed to the daemon subprocess. One file is
// written per port so concurrently running supervisors in the same working
// directory cannot clobber each other.
type Config struct {
	DaemonPort              string `json:"daemon_port"`
	ServerURL               string `json:"server_url"`
	BatchIntervalSeconds    int    `json:"batch_interval_seconds"`
	MaxBatchSize            int    `json:"max_batch_size"`
	HeartbeatTimeoutSeconds int    `json:"heartbeat_timeout_seconds"`
}

// Options configures a Manager.
type Options struct {
	// Port is a literal port or "auto" (default) for ephemeral assignment.
	Port string
	// ServerURL is the upstream collection endpoint the daemon forwards to.
	ServerURL string
	// Binary overrides daemon binary discovery.
	Binary string
	// BatchInterval / MaxBatchSize / HeartbeatTimeout become the daemon's
	// forwarding configuration; zero values take the daemon defaults.
	BatchInterval    time.Duration
	MaxBatchSize     int
	HeartbeatTimeout time.Duration
	// StartupGrace is how long Start sleeps before the first liveness probe.
	StartupGrace time.Duration
	// ReadyTimeout bounds the /health polling after launch. Zero skips the
	// health poll and only verifies the process is still alive.
	ReadyTimeout time.Duration
	// ConfigDir is where the config artifact is written (default cwd).
	ConfigDir string
	// Log, when configured, persists the daemon's combined stdout/stderr to
	// a rotating file in addition to the in-memory diagnostic tail.
	Log    logger.FileConfig
	Logger *slog.Logger
}

// Manager supervises one collector daemon subprocess.
type Manager struct {
	mu         sync.Mutex
	opts       Options
	port       string
	binary     string
	cmd        *exec.Cmd
	started    bool
	configPath string
	waitDone   chan struct{} // closed when cmd.Wait returns
	tail       *tailBuffer
	logCloser  io.WriteCloser
	logger     *slog.Logger
}

// NewManager creates a manager; the daemon is not launched until Start.
func NewManager(opts Options) *Manager {
	if opts.Port == "" {
		opts.Port = "auto"
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = defaultBatchInterval
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = defaultMaxBatchSize
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if opts.StartupGrace <= 0 {
		opts.StartupGrace = defaultStartupGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	binary := opts.Binary
	if binary == "" {
		binary = findDaemonBinary()
	}
	return &Manager{opts: opts, port: opts.Port, binary: binary, logger: opts.Logger}
}

// Port returns the resolved daemon port; empty before a successful Start
// when configured for automatic assignment.
func (m *Manager) Port() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port == "auto" {
		return ""
	}
	return m.port
}

// URL returns the local daemon endpoint.
func (m *Manager) URL() string { return "http://localhost:" + m.Port() }

// PID returns the subprocess pid, or 0 when not running.
func (m *Manager) PID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// ConfigPath returns the location of the written config artifact.
func (m *Manager) ConfigPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configPath
}

// IsRunning reports whether Start completed and the subprocess has not
// exited.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	started, wd := m.started, m.waitDone
	m.mu.Unlock()
	if !started || wd == nil {
		return false
	}
	select {
	case <-wd:
		return false
	default:
		return true
	}
}

// Start resolves the port, writes the config artifact, spawns the daemon
// and waits for it to come up. Calling Start while the daemon is alive is a
// no-op; a second subprocess is never spawned.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started && m.cmd != nil {
		wd := m.waitDone
		m.mu.Unlock()
		select {
		case <-wd:
			// previous run exited; fall through to relaunch
			m.mu.Lock()
		default:
			return nil
		}
	}

	if m.port == "auto" {
		port, err := findFreePort()
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("find available port: %w", err)
		}
		m.port = port
	}

	cfg := Config{
		DaemonPort:              m.port,
		ServerURL:               m.opts.ServerURL,
		BatchIntervalSeconds:    int(m.opts.BatchInterval.Seconds()),
		MaxBatchSize:            m.opts.MaxBatchSize,
		HeartbeatTimeoutSeconds: int(m.opts.HeartbeatTimeout.Seconds()),
	}
	m.configPath = filepath.Join(m.opts.ConfigDir, fmt.Sprintf("daemon_config_%s.json", m.port))
	if err := writeConfig(m.configPath, cfg); err != nil {
		m.mu.Unlock()
		return err
	}

	m.tail = &tailBuffer{max: outputTailLimit}
	var sink io.Writer = m.tail
	if w := m.opts.Log.Writer("datacat-daemon"); w != nil {
		m.logCloser = w
		sink = io.MultiWriter(m.tail, w)
	}

	cmd := exec.Command(m.binary)
	cmd.Env = append(os.Environ(), ConfigEnv+"="+m.configPath)
	cmd.Stdout = sink
	cmd.Stderr = sink
	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		m.removeArtifactsLocked()
		m.mu.Unlock()
		return fmt.Errorf("start daemon binary %q: %w", m.binary, err)
	}
	m.cmd = cmd
	m.started = true
	wd := make(chan struct{})
	m.waitDone = wd
	port := m.port
	m.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		close(wd)
	}()

	registerCleanup(m)
	metrics.IncDaemonStart()
	m.logger.Debug("daemon launched", "pid", cmd.Process.Pid, "port", port, "config", m.ConfigPath())

	if err := m.waitReady(wd, port); err != nil {
		_ = m.Stop(2 * time.Second)
		return err
	}
	return nil
}

// waitReady sleeps the startup grace, verifies the subprocess is alive, then
// optionally polls /health. The pre-allocated port can be lost to another
// process between release and the daemon's bind; the bounded health poll is
// what tolerates that window instead of a single-shot assumption.
func (m *Manager) waitReady(wd chan struct{}, port string) error {
	select {
	case <-wd:
		return fmt.Errorf("daemon exited during startup: %s", m.OutputTail())
	case <-time.After(m.opts.StartupGrace):
	}

	if m.opts.ReadyTimeout <= 0 {
		return nil
	}

	url := "http://localhost:" + port + "/health"
	hc := &http.Client{Timeout: readyPollInterval}
	deadline := time.Now().Add(m.opts.ReadyTimeout)
	for {
		select {
		case <-wd:
			return fmt.Errorf("daemon exited before becoming ready: %s", m.OutputTail())
		default:
		}
		resp, err := hc.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("daemon not ready within %v: %s", m.opts.ReadyTimeout, m.OutputTail())
		}
		time.Sleep(readyPollInterval)
	}
}

// Stop requests graceful termination, escalates to kill after wait, then
// removes the config artifact. Safe to call repeatedly and when not running.
func (m *Manager) Stop(wait time.Duration) error {
	m.mu.Lock()
	cmd, wd := m.cmd, m.waitDone
	m.started = false
	m.mu.Unlock()

	if cmd != nil && cmd.Process != nil && wd != nil {
		pid := cmd.Process.Pid
		alive := true
		select {
		case <-wd:
			alive = false
		default:
		}
		if alive {
			terminate(pid)
			select {
			case <-wd:
			case <-time.After(wait):
				kill(pid)
				select {
				case <-wd:
				case <-time.After(killGrace):
					// best-effort
				}
			}
			metrics.IncDaemonStop()
		}
	}

	m.mu.Lock()
	m.removeArtifactsLocked()
	m.mu.Unlock()
	unregisterCleanup(m)
	return nil
}

// OutputTail returns the tail of the daemon's captured stdout/stderr, used
// for launch-failure diagnostics.
func (m *Manager) OutputTail() string {
	m.mu.Lock()
	t := m.tail
	m.mu.Unlock()
	if t == nil {
		return ""
	}
	return t.String()
}

func (m *Manager) removeArtifactsLocked() {
	if m.configPath != "" {
		_ = os.Remove(m.configPath)
	}
	if m.logCloser != nil {
		_ = m.logCloser.Close()
		m.logCloser = nil
	}
}

func writeConfig(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal daemon config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write daemon config: %w", err)
	}
	return nil
}

// findFreePort binds an ephemeral listener just to learn an unused port and
// releases it. The daemon's own bind may still lose the port; see waitReady.
func findFreePort() (string, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return "", err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return "", err
	}
	defer func() { _ = l.Close() }()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port), nil
}

// findDaemonBinary checks common build locations and PATH; when nothing is
// found it returns the bare name so the spawn error names the real problem.
func findDaemonBinary() string {
	name := DefaultBinaryName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	candidates := []string{
		"./" + name,
		"./bin/" + name,
		"./cmd/datacat-daemon/" + name,
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return name
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	b.mu.Unlock()
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
