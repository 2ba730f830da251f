package api

import (
	"context"
	"log/slog"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/theHdd4/trinity-orchestrator/pkg/models"
)

// SyncWS serves the collaborative sync WebSocket for one project room.
func (s *Server) SyncWS(c *gin.Context) {
	key := models.ProjectContext{
		Client:  c.Param("client"),
		App:     c.Param("app"),
		Project: c.Param("project"),
	}
	if key.IsZero() {
		c.JSON(400, gin.H{"error": "client, app, and project are required"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.Server.AllowedWSOrigins,
	})
	if err != nil {
		slog.Warn("Sync WebSocket upgrade failed", "project_key", key.Key(), "error", err)
		return
	}

	ctx := c.Request.Context()
	room := s.hub.Room(key)
	client := room.Join(&syncConn{conn: conn})
	defer room.Leave(client)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Peer closed or errored; the read error carries the close frame.
			return
		}
		if err := room.Handle(ctx, client, data); err != nil {
			slog.Debug("Sync write failed; dropping socket",
				"project_key", key.Key(), "user", client.User(), "error", err)
			conn.Close(websocket.StatusInternalError, "write failed")
			return
		}
	}
}

// syncConn adapts a coder/websocket connection to the hub's Conn seam.
type syncConn struct {
	conn *websocket.Conn
}

func (c *syncConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}
