package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/internal/session"
	v1 "github.com/agentdeck/agentdeck/pkg/api/v1"
)

type streamRequest struct {
	Instruction string `json:"instruction" binding:"required"`
	WorkingDir  string `json:"working_dir"`
	Model       string `json:"model"`
	ResumeToken string `json:"resume_token"`
	TeamMode    bool   `json:"team_mode"`
}

// streamSession starts (or replaces) the session's agent run and relays
// its events as SSE until done. Closing the connection cancels the
// request context, which is the stream's teardown signal.
func (s *Server) streamSession(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := c.Param("id")
	events, err := s.svc.StartSession(c.Request.Context(), sessionID, session.StartOptions{
		Instruction: req.Instruction,
		WorkingDir:  req.WorkingDir,
		Model:       req.Model,
		ResumeToken: req.ResumeToken,
		TeamMode:    req.TeamMode,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.Flush()

	log := s.log.WithSessionID(sessionID)
	for ev := range events {
		if err := writeSSE(c.Writer, ev); err != nil {
			log.WithError(err).Debug("sse write failed, client gone")
			return
		}
		c.Writer.Flush()
		if ev.Type == v1.EventDone {
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev v1.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		data = []byte("{}")
	}
	if _, err := w.Write([]byte("event: " + ev.Type + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
