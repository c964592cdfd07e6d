// Package collectortest provides an in-process fake of the datacat collector
// daemon's HTTP API for tests: it records every call and can inject failures
// and latency.
package collectortest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Call is one recorded write to the fake daemon.
type Call struct {
	Endpoint  string
	SessionID string
	Name      string
	Body      map[string]any
}

// Server is a fake collector daemon. Zero value is not usable; construct
// with New and Close when done.
type Server struct {
	ts *httptest.Server

	mu       sync.Mutex
	calls    []Call
	failing  bool
	delay    time.Duration
	localIDs bool
	sessions map[string]bool // id -> active
}

// New starts the fake daemon on an ephemeral port.
func New() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{sessions: make(map[string]bool)}

	g := gin.New()
	g.Use(gin.Recovery())
	g.POST("/register", s.handleRegister)
	g.POST("/state", s.record("state"))
	g.POST("/event", s.record("event"))
	g.POST("/metric", s.record("metric"))
	g.POST("/heartbeat", s.record("heartbeat"))
	g.POST("/pause_heartbeat", s.record("pause_heartbeat"))
	g.POST("/resume_heartbeat", s.record("resume_heartbeat"))
	g.POST("/end", s.handleEnd)
	g.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	g.GET("/session", s.handleGetSession)
	g.GET("/sessions", s.handleGetSessions)

	// Direct-server REST surface, so server-mode clients can be tested
	// against the same fake.
	api := g.Group("/api")
	api.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	api.POST("/sessions", s.handleRegister)
	api.POST("/sessions/:id/state", s.recordREST("state"))
	api.POST("/sessions/:id/events", s.recordREST("event"))
	api.POST("/sessions/:id/metrics", s.recordREST("metric"))
	api.POST("/sessions/:id/end", s.handleEndREST)
	api.GET("/sessions/:id", func(c *gin.Context) { s.getSession(c, c.Param("id")) })
	api.GET("/data/sessions", s.handleGetSessions)

	s.ts = httptest.NewServer(g)
	return s
}

// URL returns the fake daemon's base URL.
func (s *Server) URL() string { return s.ts.URL }

// Close shuts the server down.
func (s *Server) Close() { s.ts.Close() }

// SetFailing makes every write endpoint answer 500 until cleared.
func (s *Server) SetFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

// SetDelay adds artificial latency to every write, simulating a slow
// collector.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// SetLocalIDs makes registration hand out local-session- placeholder ids,
// as the real daemon does while its upstream is unreachable.
func (s *Server) SetLocalIDs(v bool) {
	s.mu.Lock()
	s.localIDs = v
	s.mu.Unlock()
}

// Calls returns a copy of all recorded calls.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsTo counts recorded calls to one endpoint.
func (s *Server) CallsTo(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Endpoint == endpoint {
			n++
		}
	}
	return n
}

// EventsNamed counts recorded events with the given name.
func (s *Server) EventsNamed(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Endpoint == "event" && c.Name == name {
			n++
		}
	}
	return n
}

func (s *Server) gate() (fail bool) {
	s.mu.Lock()
	fail = s.failing
	d := s.delay
	s.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	return fail
}

func (s *Server) record(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.gate() {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "injected failure"})
			return
		}
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
			return
		}
		call := Call{Endpoint: endpoint, Body: body}
		if id, ok := body["session_id"].(string); ok {
			call.SessionID = id
		}
		if name, ok := body["name"].(string); ok {
			call.Name = name
		}
		s.mu.Lock()
		s.calls = append(s.calls, call)
		s.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func (s *Server) handleRegister(c *gin.Context) {
	if s.gate() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "injected failure"})
		return
	}
	var body map[string]any
	_ = c.ShouldBindJSON(&body)

	s.mu.Lock()
	id := "session-" + uuid.NewString()
	if s.localIDs {
		id = "local-session-" + uuid.NewString()
	}
	s.sessions[id] = true
	s.calls = append(s.calls, Call{Endpoint: "register", SessionID: id, Body: body})
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"session_id": id})
}

func (s *Server) handleEnd(c *gin.Context) {
	if s.gate() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "injected failure"})
		return
	}
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	id, _ := body["session_id"].(string)
	s.mu.Lock()
	s.sessions[id] = false
	s.calls = append(s.calls, Call{Endpoint: "end", SessionID: id, Body: body})
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) recordREST(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.gate() {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "injected failure"})
			return
		}
		var body map[string]any
		_ = c.ShouldBindJSON(&body)
		call := Call{Endpoint: endpoint, SessionID: c.Param("id"), Body: body}
		if name, ok := body["name"].(string); ok {
			call.Name = name
		}
		s.mu.Lock()
		s.calls = append(s.calls, call)
		s.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func (s *Server) handleEndREST(c *gin.Context) {
	if s.gate() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "injected failure"})
		return
	}
	id := c.Param("id")
	s.mu.Lock()
	s.sessions[id] = false
	s.calls = append(s.calls, Call{Endpoint: "end", SessionID: id})
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleGetSession(c *gin.Context) {
	s.getSession(c, c.Query("session_id"))
}

func (s *Server) getSession(c *gin.Context, id string) {
	s.mu.Lock()
	active, known := s.sessions[id]
	s.mu.Unlock()
	if !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": active, "state": gin.H{}})
}

func (s *Server) handleGetSessions(c *gin.Context) {
	s.mu.Lock()
	out := make([]gin.H, 0, len(s.sessions))
	for id, active := range s.sessions {
		out = append(out, gin.H{"id": id, "active": active})
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}
