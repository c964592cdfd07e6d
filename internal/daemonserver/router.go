package daemonserver

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/loykin/datacat/internal/client"
	"github.com/loykin/datacat/internal/metrics"
)

// The daemon's flat endpoint surface. Session ids travel in request bodies
// (query for GET /session); this mirrors what internal/client sends in
// daemon mode.

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type registerReq struct {
	Product   string `json:"product"`
	Version   string `json:"version"`
	ParentPID int    `json:"parent_pid"`
	Hostname  string `json:"hostname"`
	MachineID string `json:"machine_id"`
}

type sessionReq struct {
	SessionID string `json:"session_id"`
}

type stateReq struct {
	SessionID string         `json:"session_id"`
	State     map[string]any `json:"state"`
}

type eventReq struct {
	SessionID string         `json:"session_id"`
	Name      string         `json:"name"`
	Data      map[string]any `json:"data"`
}

type metricReq struct {
	SessionID string         `json:"session_id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Value     float64        `json:"value"`
	Tags      []string       `json:"tags"`
	Count     *int           `json:"count"`
	Unit      string         `json:"unit"`
	Metadata  map[string]any `json:"metadata"`
}

// Handler returns the daemon's HTTP surface as a mountable handler.
func (s *Server) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/health", s.handleHealth)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	g.POST("/register", s.handleRegister)
	g.POST("/state", s.handleState)
	g.POST("/event", s.handleEvent)
	g.POST("/metric", s.handleMetric)
	g.POST("/heartbeat", s.handleHeartbeat)
	g.POST("/pause_heartbeat", s.handlePauseHeartbeat)
	g.POST("/resume_heartbeat", s.handleResumeHeartbeat)
	g.POST("/end", s.handleEnd)
	g.GET("/session", s.handleSession)
	g.GET("/sessions", s.handleSessions)
	return g
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pid": os.Getpid()})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Product == "" || req.Version == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "product and version required"})
		return
	}

	id := ""
	if s.fw != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), forwardCallTimeout)
		defer cancel()
		if upstream, ok := s.fw.register(ctx, req.Product, req.Version); ok {
			id = upstream
		}
	}
	if id == "" {
		id = client.LocalSessionPrefix + uuid.NewString()
	}
	s.store.Register(id, req.Product, req.Version, req.Hostname, req.MachineID, req.ParentPID)
	s.logger.Info("session registered", "session_id", id, "product", req.Product, "parent_pid", req.ParentPID)
	c.JSON(http.StatusOK, gin.H{"session_id": id})
}

func (s *Server) handleState(c *gin.Context) {
	var req stateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := s.store.UpdateState(req.SessionID, req.State); err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	s.forward(req.SessionID, func(ctx context.Context) error {
		return s.fw.upstream.UpdateState(ctx, req.SessionID, req.State)
	})
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (s *Server) handleEvent(c *gin.Context) {
	var req eventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "event name required"})
		return
	}
	ev := client.Event{Timestamp: time.Now().UTC(), Name: req.Name, Level: "info", Data: req.Data}
	if err := s.store.AddEvent(req.SessionID, ev); err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	s.forward(req.SessionID, func(ctx context.Context) error {
		return s.fw.upstream.LogEvent(ctx, req.SessionID, req.Name, req.Data)
	})
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (s *Server) handleMetric(c *gin.Context) {
	var req metricReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "metric name required"})
		return
	}
	if req.Type == "" {
		req.Type = client.MetricGauge
	}
	m := client.Metric{
		Timestamp: time.Now().UTC(),
		Name:      req.Name,
		Type:      req.Type,
		Value:     req.Value,
		Count:     req.Count,
		Unit:      req.Unit,
		Tags:      req.Tags,
		Metadata:  req.Metadata,
	}
	if err := s.store.AddMetric(req.SessionID, m); err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	s.forward(req.SessionID, func(ctx context.Context) error {
		return s.fw.upstream.LogMetricWithType(ctx, req.SessionID, req.Name, req.Type, req.Value, req.Tags, req.Count, req.Unit, req.Metadata)
	})
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	s.handleSessionAction(c, s.store.Heartbeat)
}

func (s *Server) handlePauseHeartbeat(c *gin.Context) {
	s.handleSessionAction(c, s.store.PauseHeartbeat)
}

func (s *Server) handleResumeHeartbeat(c *gin.Context) {
	s.handleSessionAction(c, s.store.ResumeHeartbeat)
}

func (s *Server) handleEnd(c *gin.Context) {
	var req sessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := s.store.End(req.SessionID); err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	s.forward(req.SessionID, func(ctx context.Context) error {
		return s.fw.upstream.EndSession(ctx, req.SessionID)
	})
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (s *Server) handleSessionAction(c *gin.Context, fn func(string) error) {
	var req sessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := fn(req.SessionID); err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (s *Server) handleSession(c *gin.Context) {
	id := c.Query("session_id")
	details, ok := s.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, errorResp{Error: "unknown session " + id})
		return
	}
	c.JSON(http.StatusOK, details)
}

func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.List())
}

// forward queues an upstream call unless the daemon is offline or the
// session only exists locally.
func (s *Server) forward(sessionID string, call func(context.Context) error) {
	if s.fw == nil || client.IsLocalSession(sessionID) {
		return
	}
	s.fw.enqueue(call)
}
