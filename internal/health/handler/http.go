package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Liveness answers 200 while the process is up.
func (s *Server) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness answers 200 when every dependency check passes, otherwise 503 with the failures.
func (s *Server) Readiness(c *gin.Context) {
	failures := s.Ready(c.Request.Context())
	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": failures})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
