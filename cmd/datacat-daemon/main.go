package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loykin/datacat/internal/daemon"
	"github.com/loykin/datacat/internal/daemonserver"
	"github.com/loykin/datacat/internal/logger"
	"github.com/loykin/datacat/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lg := logger.Config{Level: "info"}.New("datacat-daemon")
	_ = metrics.Register(prometheus.DefaultRegisterer)

	srv := daemonserver.New(cfg, lg)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		lg.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

// loadConfig reads the artifact named by DATACAT_CONFIG, written by the
// supervising process.
func loadConfig() (daemon.Config, error) {
	path := os.Getenv(daemon.ConfigEnv)
	if path == "" {
		return daemon.Config{}, fmt.Errorf("%s environment variable not set", daemon.ConfigEnv)
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return daemon.Config{}, fmt.Errorf("read daemon config: %w", err)
	}
	var cfg daemon.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return daemon.Config{}, fmt.Errorf("parse daemon config %s: %w", path, err)
	}
	if cfg.DaemonPort == "" {
		return daemon.Config{}, fmt.Errorf("daemon config %s has no daemon_port", path)
	}
	return cfg, nil
}
