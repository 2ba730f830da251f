// Package api wires the HTTP surface: the workflow WebSocket, the
// collaborative sync WebSocket, session REST reads, health, and metrics.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theHdd4/trinity-orchestrator/pkg/config"
	"github.com/theHdd4/trinity-orchestrator/pkg/engine"
	"github.com/theHdd4/trinity-orchestrator/pkg/session"
	"github.com/theHdd4/trinity-orchestrator/pkg/synchub"
	"github.com/theHdd4/trinity-orchestrator/pkg/version"
)

// Server holds the handler dependencies.
type Server struct {
	cfg      *config.Config
	engine   *engine.Engine
	sessions *session.Store
	hub      *synchub.Hub
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, eng *engine.Engine, sessions *session.Store, hub *synchub.Hub) *Server {
	return &Server{cfg: cfg, engine: eng, sessions: sessions, hub: hub}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ws/workflow", s.WorkflowWS)
	r.GET("/laboratory/sync/:client/:app/:project", s.SyncWS)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/sessions", s.ListSessions)
		apiGroup.GET("/sessions/:id", s.GetSession)
		apiGroup.POST("/sessions/:id/cancel", s.CancelSession)
	}

	return r
}

// Health reports liveness and the build version.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": version.Full(),
	})
}
