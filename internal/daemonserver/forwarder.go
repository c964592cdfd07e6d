package daemonserver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/datacat/internal/client"
)

const forwardCallTimeout = 10 * time.Second

// forwarder batches session traffic to the upstream server. Sessions that
// could not be registered upstream stay local-only; the in-memory store is
// the source of truth either way.
type forwarder struct {
	upstream *client.Client
	logger   *slog.Logger
	interval time.Duration
	maxBatch int

	mu      sync.Mutex
	pending []func(context.Context) error

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newForwarder(serverURL string, interval time.Duration, maxBatch int, logger *slog.Logger) *forwarder {
	if serverURL == "" {
		return nil
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxBatch <= 0 {
		maxBatch = 100
	}
	f := &forwarder{
		upstream: client.New(client.Config{BaseURL: serverURL, Logger: logger}),
		logger:   logger,
		interval: interval,
		maxBatch: maxBatch,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go f.loop()
	return f
}

// register opens the session upstream; ok is false when the server is
// unreachable and the caller should fall back to a local placeholder id.
func (f *forwarder) register(ctx context.Context, product, version string) (string, bool) {
	id, err := f.upstream.RegisterSession(ctx, product, version)
	if err != nil {
		f.logger.Warn("upstream register failed, session stays local", "error", err)
		return "", false
	}
	return id, true
}

// enqueue adds one upstream call to the batch. Local placeholder sessions
// never reach here.
func (f *forwarder) enqueue(call func(context.Context) error) {
	f.mu.Lock()
	f.pending = append(f.pending, call)
	full := len(f.pending) >= f.maxBatch
	f.mu.Unlock()
	if full {
		select {
		case f.kick <- struct{}{}:
		default:
		}
	}
}

func (f *forwarder) loop() {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.flush()
		case <-f.kick:
			f.flush()
		case <-f.stop:
			f.flush()
			return
		}
	}
}

// flush forwards the accumulated batch. Failed calls are logged and
// dropped; the daemon's copy of the data is not affected.
func (f *forwarder) flush() {
	f.mu.Lock()
	batch := f.pending
	f.pending = nil
	f.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), forwardCallTimeout)
	defer cancel()
	failed := 0
	for _, call := range batch {
		if err := call(ctx); err != nil {
			failed++
		}
	}
	if failed > 0 {
		f.logger.Warn("upstream forwarding incomplete", "batch", len(batch), "failed", failed)
	}
}

// close flushes what is left and stops the loop.
func (f *forwarder) close() {
	close(f.stop)
	<-f.done
}
