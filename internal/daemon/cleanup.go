package daemon

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Spawned daemons must not outlive the host application even when it dies
// to a signal rather than a clean return. Every started Manager registers
// here; a single handler stops them all, then re-raises the signal so the
// host's exit status is preserved.
var (
	cleanupOnce sync.Once
	cleanupMu   sync.Mutex
	cleanupSet  = make(map[*Manager]struct{})
)

const cleanupStopWait = 3 * time.Second

func registerCleanup(m *Manager) {
	cleanupMu.Lock()
	cleanupSet[m] = struct{}{}
	cleanupMu.Unlock()
	cleanupOnce.Do(installCleanupHandler)
}

func unregisterCleanup(m *Manager) {
	cleanupMu.Lock()
	delete(cleanupSet, m)
	cleanupMu.Unlock()
}

func installCleanupHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-ch
		StopAll(cleanupStopWait)
		signal.Stop(ch)
		if s, ok := sig.(syscall.Signal); ok {
			reraise(s)
		} else {
			os.Exit(1)
		}
	}()
}

// StopAll stops every registered daemon. Intended for application exit
// paths; individual managers should use Stop.
func StopAll(wait time.Duration) {
	cleanupMu.Lock()
	managers := make([]*Manager, 0, len(cleanupSet))
	for m := range cleanupSet {
		managers = append(managers, m)
	}
	cleanupMu.Unlock()
	for _, m := range managers {
		_ = m.Stop(wait)
	}
}
