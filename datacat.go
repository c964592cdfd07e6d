package datacat

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loykin/datacat/internal/client"
	cfg "github.com/loykin/datacat/internal/config"
	"github.com/loykin/datacat/internal/daemon"
	"github.com/loykin/datacat/internal/heartbeat"
	"github.com/loykin/datacat/internal/metrics"
	"github.com/loykin/datacat/internal/queue"
	"github.com/loykin/datacat/internal/spool"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Client = client.Client

type ClientConfig = client.Config

type Session = client.Session

type SessionDetails = client.SessionDetails

type AsyncSession = queue.AsyncSession

type QueueOptions = queue.Options

type QueueStats = queue.Stats

type Monitor = heartbeat.Monitor

type Timer = client.Timer

type TimerOption = client.TimerOption

type DaemonManager = daemon.Manager

type DaemonOptions = daemon.Options

type Config = cfg.Config

// Metric types and timer units.
const (
	MetricGauge     = client.MetricGauge
	MetricCounter   = client.MetricCounter
	MetricHistogram = client.MetricHistogram
	MetricTimer     = client.MetricTimer

	UnitSeconds      = client.UnitSeconds
	UnitMilliseconds = client.UnitMilliseconds
)

// Timer options.
var (
	WithUnit  = client.WithUnit
	WithTags  = client.WithTags
	WithCount = client.WithCount
)

func DefaultConfig() Config { return cfg.Default() }

func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// NewClient builds a low-level collector client; most applications use
// Connect instead.
func NewClient(c ClientConfig) *Client { return client.New(c) }

// Register opens a session on an existing client.
func Register(ctx context.Context, c *Client, product, version string) (*Session, error) {
	return client.Register(ctx, c, product, version)
}

// NewAsyncSession wraps a session with the non-blocking delivery queue.
func NewAsyncSession(s *Session, opts QueueOptions) *AsyncSession {
	return queue.NewAsyncSession(s, opts)
}

// NewDaemonManager supervises a collector daemon without the rest of the
// Connect plumbing.
func NewDaemonManager(opts DaemonOptions) *DaemonManager { return daemon.NewManager(opts) }

// Conn bundles everything Connect sets up: the optional daemon, the
// registered session, its delivery queue and liveness monitor.
type Conn struct {
	dm    *daemon.Manager
	sess  *client.Session
	async *queue.AsyncSession
	sp    *spool.Spool
}

// Connect is the batteries-included entry point. It starts the collector
// daemon when configured (falling back to the direct server when the daemon
// cannot start but a server URL is known), registers a session, and wraps
// it in the async queue. Close releases everything in reverse order.
func Connect(ctx context.Context, c Config) (*Conn, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	lg := c.Log.New("datacat")

	var dm *daemon.Manager
	baseURL := c.ServerURL
	daemonMode := false
	if c.UseDaemon {
		dm = daemon.NewManager(daemon.Options{
			Port:             c.Daemon.Port,
			ServerURL:        c.ServerURL,
			Binary:           c.Daemon.Binary,
			BatchInterval:    c.Daemon.BatchInterval,
			MaxBatchSize:     c.Daemon.MaxBatchSize,
			HeartbeatTimeout: c.Daemon.HeartbeatTimeout,
			ReadyTimeout:     c.Daemon.ReadyTimeout,
			ConfigDir:        c.Daemon.ConfigDir,
			Log:              c.Log.File,
			Logger:           lg,
		})
		if err := dm.Start(); err != nil {
			if c.ServerURL == "" {
				return nil, fmt.Errorf("start daemon: %w", err)
			}
			lg.Warn("daemon unavailable, falling back to direct server", "error", err)
			dm = nil
		} else {
			baseURL = dm.URL()
			daemonMode = true
		}
	}

	cl := client.New(client.Config{BaseURL: baseURL, Logger: lg, DaemonMode: daemonMode})
	sess, err := client.Register(ctx, cl, c.Product, c.Version)
	if err != nil {
		if dm != nil {
			_ = dm.Stop(2 * time.Second)
		}
		return nil, err
	}

	var sp *spool.Spool
	if c.Queue.SpoolPath != "" {
		sp, err = spool.Open(c.Queue.SpoolPath)
		if err != nil {
			lg.Warn("offline spool unavailable", "path", c.Queue.SpoolPath, "error", err)
			sp = nil
		}
	}

	async := queue.NewAsyncSession(sess, queue.Options{
		QueueSize:  c.Queue.Size,
		DropOnFull: c.Queue.DropOnFull,
		Logger:     lg,
		Spool:      sp,
	})
	if c.Heartbeat.Timeout > 0 {
		sess.StartHeartbeatMonitor(c.Heartbeat.Timeout, c.Heartbeat.Interval)
	}
	return &Conn{dm: dm, sess: sess, async: async, sp: sp}, nil
}

// Session returns the async delivery queue; this is the surface application
// code reports through.
func (c *Conn) Session() *AsyncSession { return c.async }

// Raw returns the underlying synchronous session for callers that need
// delivery confirmation.
func (c *Conn) Raw() *Session { return c.sess }

// Daemon returns the supervised daemon, or nil in direct-server mode.
func (c *Conn) Daemon() *DaemonManager { return c.dm }

// Close flushes and shuts down the queue (ending the session), then stops
// the daemon.
func (c *Conn) Close(wait time.Duration) error {
	err := c.async.Shutdown(wait)
	if c.sp != nil {
		_ = c.sp.Close()
	}
	if c.dm != nil {
		if derr := c.dm.Stop(wait); err == nil {
			err = derr
		}
	}
	return err
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
