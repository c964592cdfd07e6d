// Package daemonserver implements the local collector daemon: the process
// internal/daemon supervises. It accepts session traffic from SDK clients
// on localhost, keeps session documents in memory, watches for hung and
// crashed applications, and forwards batches to the upstream server when
// one is configured.
package daemonserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/loykin/datacat/internal/daemon"
	"github.com/shirou/gopsutil/v4/process"
)

const crashPollInterval = 2 * time.Second

// Server is one collector daemon instance.
type Server struct {
	cfg    daemon.Config
	store  *Store
	fw     *forwarder
	logger *slog.Logger

	httpSrv *http.Server
	stop    chan struct{}
	done    chan struct{}
	started atomic.Bool
	stopped atomic.Bool
}

// New builds a server from the config artifact the supervisor wrote.
func New(cfg daemon.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		store:  NewStore(),
		fw:     newForwarder(cfg.ServerURL, time.Duration(cfg.BatchIntervalSeconds)*time.Second, cfg.MaxBatchSize, logger),
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Store exposes the session store, mainly for tests.
func (s *Server) Store() *Store { return s.store }

// Run serves until Shutdown. The listener binds the configured port; losing
// a pre-negotiated port to another process surfaces here as a bind error.
func (s *Server) Run() error {
	s.started.Store(true)
	go s.watchLoop()
	s.httpSrv = &http.Server{
		Addr:              "localhost:" + s.cfg.DaemonPort,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("collector daemon listening", "port", s.cfg.DaemonPort, "upstream", s.cfg.ServerURL)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return fmt.Errorf("daemon listen on port %s: %w", s.cfg.DaemonPort, err)
}

// Shutdown stops the HTTP server and monitors and flushes the forwarder.
// Safe to call more than once, and before Run.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stop)
	if s.started.Load() {
		<-s.done
	}
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	if s.fw != nil {
		s.fw.close()
	}
	return err
}

// watchLoop runs hang and crash detection until shutdown.
func (s *Server) watchLoop() {
	defer close(s.done)
	hangTimeout := time.Duration(s.cfg.HeartbeatTimeoutSeconds) * time.Second
	hangInterval := hangTimeout / 4
	if hangInterval <= 0 || hangInterval > 5*time.Second {
		hangInterval = 5 * time.Second
	}
	hangTicker := time.NewTicker(hangInterval)
	defer hangTicker.Stop()
	crashTicker := time.NewTicker(crashPollInterval)
	defer crashTicker.Stop()

	for {
		select {
		case <-hangTicker.C:
			if hangTimeout > 0 {
				for _, id := range s.store.MarkHung(hangTimeout) {
					s.logger.Warn("session appears hung", "session_id", id, "timeout", hangTimeout)
				}
			}
		case <-crashTicker.C:
			s.checkParents()
		case <-s.stop:
			return
		}
	}
}

// checkParents ends sessions whose owning process is gone. A session whose
// parent dies without calling end is a crash, not a clean exit.
func (s *Server) checkParents() {
	for id, pid := range s.store.ActiveParents() {
		exists, err := process.PidExists(int32(pid))
		if err == nil && !exists {
			s.logger.Warn("session parent process gone, marking crashed", "session_id", id, "parent_pid", pid)
			s.store.MarkCrashed(id)
		}
	}
}
