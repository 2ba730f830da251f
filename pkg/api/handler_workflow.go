package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/theHdd4/trinity-orchestrator/pkg/events"
	"github.com/theHdd4/trinity-orchestrator/pkg/models"
)

const startDeadline = 30 * time.Second

// WorkflowWS serves the engine WebSocket. The first client message must be
// a start; cancel and resume may follow at any time on the same socket.
func (s *Server) WorkflowWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.Server.AllowedWSOrigins,
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	s.serveWorkflow(c.Request.Context(), conn)
}

func (s *Server) serveWorkflow(ctx context.Context, conn *websocket.Conn) {
	bus := events.NewBus(conn, s.cfg.Server.WSWriteTimeout)

	start, ok := readStart(ctx, conn, bus)
	if !ok {
		bus.Close(websocket.StatusPolicyViolation, "expected start message")
		return
	}

	sessionID := start.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	st := s.sessions.Create(sessionID, start.Goal, models.ProjectContext{
		Client:  start.ClientName,
		App:     start.AppName,
		Project: start.ProjectName,
	}, models.Mode(start.Mode), start.Files)
	st.ChatID = start.ChatID
	st.HistorySummary = start.HistorySummary
	if start.FileFocus != "" {
		st.PriorityFiles = []string{start.FileFocus}
	}

	if err := bus.Emit(ctx, events.EventConnected, map[string]any{
		"session_id": sessionID,
	}); err != nil {
		return
	}

	resume := make(chan struct{}, 1)
	cancelled := make(chan struct{}, 1)
	closed := make(chan struct{})
	go s.readLoop(ctx, conn, sessionID, resume, cancelled, closed)

	log := slog.With("session_id", sessionID)
	for {
		status := s.engine.Execute(ctx, st, bus)
		switch status {
		case events.StatusPaused:
			log.Info("Session paused; awaiting resume")
			select {
			case <-resume:
				s.sessions.ClearCancel(sessionID)
				continue
			case <-cancelled:
				s.sessions.Delete(sessionID)
				bus.Close(websocket.StatusNormalClosure, "cancelled")
				return
			case <-closed:
				// Paused sessions survive the socket; a reconnect with the
				// same session id picks the state back up.
				return
			case <-ctx.Done():
				return
			}
		case events.StatusFailed:
			s.sessions.Delete(sessionID)
			bus.Close(websocket.StatusInternalError, "workflow error")
			return
		case events.StatusDisconnected:
			s.sessions.Delete(sessionID)
			return
		default: // completed, stopped, aborted
			s.sessions.Delete(sessionID)
			bus.Close(websocket.StatusNormalClosure, status)
			return
		}
	}
}

// readStart awaits the initial start message under a deadline.
func readStart(ctx context.Context, conn *websocket.Conn, bus *events.Bus) (*events.ClientMessage, bool) {
	readCtx, cancel := context.WithTimeout(ctx, startDeadline)
	defer cancel()

	_, data, err := conn.Read(readCtx)
	if err != nil {
		return nil, false
	}
	var msg events.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "start" || msg.Goal == "" {
		_ = bus.Emit(ctx, events.EventError, map[string]any{
			"message": "first message must be start with a goal",
		})
		return nil, false
	}
	return &msg, true
}

// readLoop consumes control messages for the socket's lifetime. cancel
// takes effect at the engine's next cycle boundary; resume wakes a paused
// session.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string, resume, cancelled chan<- struct{}, closed chan struct{}) {
	defer close(closed)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg events.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "cancel":
			s.sessions.Cancel(sessionID)
			select {
			case cancelled <- struct{}{}:
			default:
			}
		case "resume":
			select {
			case resume <- struct{}{}:
			default:
			}
		}
	}
}
