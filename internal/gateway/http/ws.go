package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/session"
	v1 "github.com/agentdeck/agentdeck/pkg/api/v1"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 1024 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The gateway fronts a local UI; origin policy is left to the
		// deployment's reverse proxy.
		return true
	},
}

// wsInbound is any client-to-server message on the socket. Type selects
// which fields apply.
type wsInbound struct {
	Type string `json:"type"` // start, permission_response, control

	Instruction string `json:"instruction,omitempty"`
	WorkingDir  string `json:"working_dir,omitempty"`
	Model       string `json:"model,omitempty"`
	ResumeToken string `json:"resume_token,omitempty"`
	TeamMode    bool   `json:"team_mode,omitempty"`

	PermissionRequestID string                `json:"permissionRequestId,omitempty"`
	Decision            v1.PermissionDecision `json:"decision,omitempty"`

	Action string `json:"action,omitempty"`
}

// sessionWebSocket streams session events over a WebSocket and accepts
// permission decisions and control actions on the same connection. The
// first client message must be a start.
func (s *Server) sessionWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	log := s.log.WithSessionID(sessionID)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	var start wsInbound
	if err := conn.ReadJSON(&start); err != nil || start.Type != "start" {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected start message"),
			time.Now().Add(wsWriteWait))
		return
	}

	// The connection, not the HTTP request, defines the stream's
	// lifetime: the read pump cancels this on any socket error.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	events, err := s.svc.StartSession(ctx, sessionID, session.StartOptions{
		Instruction: start.Instruction,
		WorkingDir:  start.WorkingDir,
		Model:       start.Model,
		ResumeToken: start.ResumeToken,
		TeamMode:    start.TeamMode,
	})
	if err != nil {
		_ = conn.WriteJSON(v1.NewErrorEvent(err.Error()))
		return
	}

	go s.wsReadPump(conn, sessionID, cancel, log)
	s.wsWritePump(conn, events, log)
}

// wsReadPump consumes inbound messages until the socket dies.
func (s *Server) wsReadPump(conn *websocket.Conn, sessionID string, cancel context.CancelFunc, log *logger.Logger) {
	defer cancel()
	for {
		var msg wsInbound
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "permission_response":
			if err := s.svc.ResolvePermission(sessionID, msg.PermissionRequestID, msg.Decision); err != nil {
				log.Warn("permission response rejected", zap.Error(err))
			}
		case "control":
			if err := s.svc.Control(sessionID, msg.Action); err != nil {
				log.Warn("control action rejected", zap.Error(err))
			}
		}
	}
}

// wsWritePump relays events and keeps the connection alive with pings.
func (s *Server) wsWritePump(conn *websocket.Conn, events <-chan v1.Event, log *logger.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				return
			}
			if ev.Type == v1.EventDone {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
