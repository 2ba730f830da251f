package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListSessions returns snapshots of all live workflow sessions.
func (s *Server) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.sessions.List()})
}

// GetSession returns one session's snapshot.
func (s *Server) GetSession(c *gin.Context) {
	st, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st.Snapshot())
}

// CancelSession marks a session for cancellation. The engine observes the
// flag at its next cycle boundary, so the response is an acknowledgement,
// not a completion.
func (s *Server) CancelSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.sessions.Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.sessions.Cancel(id)
	c.JSON(http.StatusAccepted, gin.H{"session_id": id, "status": "cancelling"})
}
