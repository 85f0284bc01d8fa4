// Package http exposes the session orchestration layer over HTTP: REST
// endpoints for sessions and teams, an SSE stream per session, and a
// bidirectional WebSocket.
package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/httpmw"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/session"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/workstate"
)

// Server is the HTTP gateway.
type Server struct {
	cfg    *config.Config
	svc    *session.Service
	store  store.Store
	teams  *workstate.Reader
	log    *logger.Logger
	engine *gin.Engine
}

// NewServer builds the gin engine with all routes registered.
func NewServer(cfg *config.Config, svc *session.Service, st store.Store, teams *workstate.Reader, log *logger.Logger) *Server {
	if cfg.Logging.Format == "json" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:   cfg,
		svc:   svc,
		store: st,
		teams: teams,
		log:   log,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpmw.RequestLogger(log, "gateway"))
	engine.Use(httpmw.OtelTracing("gateway"))

	engine.GET("/health", s.health)

	api := engine.Group("/api/v1")
	{
		api.POST("/sessions", s.createSession)
		api.GET("/sessions", s.listSessions)
		api.GET("/sessions/:id", s.getSession)
		api.DELETE("/sessions/:id", s.deleteSession)
		api.GET("/sessions/:id/messages", s.listMessages)

		api.POST("/sessions/:id/stream", s.streamSession)
		api.GET("/sessions/:id/ws", s.sessionWebSocket)
		api.POST("/sessions/:id/permission", s.resolvePermission)
		api.POST("/sessions/:id/control", s.controlSession)

		api.GET("/teams", s.listTeams)
		api.GET("/teams/:name", s.getTeam)
	}

	s.engine = engine
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
