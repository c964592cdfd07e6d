package daemonserver

import (
	"fmt"
	"sync"
	"time"

	"github.com/loykin/datacat/internal/client"
)

// Store holds the daemon's session documents in memory. Documents use the
// same shapes the SDK client decodes, so what the daemon serves is exactly
// what callers expect.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*record
	order    []string
}

type record struct {
	details   client.SessionDetails
	product   string
	version   string
	parentPID int
	paused    bool
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*record)}
}

// Register creates a session document under the given id.
func (s *Store) Register(id, product, version, hostname, machineID string, parentPID int) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &record{
		details: client.SessionDetails{
			ID:           id,
			CreatedAt:    now,
			UpdatedAt:    now,
			Active:       true,
			Hostname:     hostname,
			MachineID:    machineID,
			State:        map[string]any{},
			StateHistory: []client.StateSnapshot{},
			Events:       []client.Event{},
			Metrics:      []client.Metric{},
		},
		product:   product,
		version:   version,
		parentPID: parentPID,
	}
	s.order = append(s.order, id)
}

// Get returns a copy of the session document.
func (s *Store) Get(id string) (client.SessionDetails, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[id]
	if !ok {
		return client.SessionDetails{}, false
	}
	return r.details, true
}

// List returns all session documents in registration order.
func (s *Store) List() []client.SessionDetails {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]client.SessionDetails, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessions[id].details)
	}
	return out
}

// mutate runs fn on a live session, bumping UpdatedAt.
func (s *Store) mutate(id string, fn func(*record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("unknown session %s", id)
	}
	if !r.details.Active {
		return fmt.Errorf("session %s already ended", id)
	}
	fn(r)
	r.details.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateState replaces the state mapping and appends to the history.
func (s *Store) UpdateState(id string, state map[string]any) error {
	return s.mutate(id, func(r *record) {
		r.details.State = state
		r.details.StateHistory = append(r.details.StateHistory, client.StateSnapshot{
			Timestamp: time.Now().UTC(),
			State:     state,
		})
	})
}

// AddEvent appends an event to the session.
func (s *Store) AddEvent(id string, ev client.Event) error {
	return s.mutate(id, func(r *record) {
		r.details.Events = append(r.details.Events, ev)
	})
}

// AddMetric appends a metric to the session.
func (s *Store) AddMetric(id string, m client.Metric) error {
	return s.mutate(id, func(r *record) {
		r.details.Metrics = append(r.details.Metrics, m)
	})
}

// Heartbeat records liveness and clears a hung flag.
func (s *Store) Heartbeat(id string) error {
	return s.mutate(id, func(r *record) {
		now := time.Now().UTC()
		r.details.LastHeartbeat = &now
		r.details.Hung = false
	})
}

// PauseHeartbeat suspends hang detection for the session.
func (s *Store) PauseHeartbeat(id string) error {
	return s.mutate(id, func(r *record) {
		r.paused = true
		r.details.Suspended = true
	})
}

// ResumeHeartbeat re-enables hang detection; the clock restarts now so a
// long pause is not immediately flagged as a hang.
func (s *Store) ResumeHeartbeat(id string) error {
	return s.mutate(id, func(r *record) {
		r.paused = false
		r.details.Suspended = false
		now := time.Now().UTC()
		r.details.LastHeartbeat = &now
	})
}

// End marks the session inactive. Ending twice is an error, matching the
// collector's behavior for inert ids.
func (s *Store) End(id string) error {
	return s.mutate(id, func(r *record) {
		now := time.Now().UTC()
		r.details.Active = false
		r.details.EndedAt = &now
	})
}

// MarkCrashed flags a session whose owning process disappeared.
func (s *Store) MarkCrashed(id string) {
	_ = s.mutate(id, func(r *record) {
		now := time.Now().UTC()
		r.details.Active = false
		r.details.Crashed = true
		r.details.EndedAt = &now
	})
}

// MarkHung flags sessions whose heartbeat is older than timeout. Paused
// sessions and sessions that never sent a heartbeat are skipped. Returns the
// ids newly flagged.
func (s *Store) MarkHung(timeout time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flagged []string
	now := time.Now().UTC()
	for id, r := range s.sessions {
		if !r.details.Active || r.paused || r.details.Hung || r.details.LastHeartbeat == nil {
			continue
		}
		if now.Sub(*r.details.LastHeartbeat) > timeout {
			r.details.Hung = true
			flagged = append(flagged, id)
		}
	}
	return flagged
}

// ActiveParents returns parent pids by session id for crash detection.
func (s *Store) ActiveParents() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for id, r := range s.sessions {
		if r.details.Active && r.parentPID > 0 {
			out[id] = r.parentPID
		}
	}
	return out
}
