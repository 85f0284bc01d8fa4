package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/internal/session"
	"github.com/agentdeck/agentdeck/internal/store"
	v1 "github.com/agentdeck/agentdeck/pkg/api/v1"
)

type createSessionRequest struct {
	WorkingDir string `json:"working_dir" binding:"required"`
	Model      string `json:"model"`
	Team       string `json:"team"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess := &store.Session{WorkingDir: req.WorkingDir, Model: req.Model, Team: req.Team}
	if err := s.store.CreateSession(c.Request.Context(), sess); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.store.ListSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) deleteSession(c *gin.Context) {
	id := c.Param("id")

	// A live stream holds the process; close it before deleting.
	_ = s.svc.Control(id, "close")

	if err := s.store.DeleteSession(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listMessages(c *gin.Context) {
	messages, err := s.store.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) resolvePermission(c *gin.Context) {
	var req v1.PermissionResponse
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.PermissionRequestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "permissionRequestId is required"})
		return
	}

	err := s.svc.ResolvePermission(c.Param("id"), req.PermissionRequestID, req.Decision)
	if err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

type controlRequest struct {
	Action string `json:"action" binding:"required"`
}

func (s *Server) controlSession(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.svc.Control(c.Param("id"), req.Action); err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listTeams(c *gin.Context) {
	names, err := s.teams.Teams()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list teams"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"teams": names})
}

func (s *Server) getTeam(c *gin.Context) {
	name := c.Param("name")
	team, err := s.teams.Team(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load team"})
		return
	}
	if team == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "team not found"})
		return
	}

	tasks, err := s.teams.Tasks(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load tasks"})
		return
	}
	unread, err := s.teams.UnreadMessages(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load inbox"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"team": team, "tasks": tasks, "unread": unread})
}
