package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetRateLimit shows the live window of one identity so support can explain
// a 429.
func (s *Server) GetRateLimit(c *gin.Context) {
	stats, err := s.limiter.Stats(c.Request.Context(), c.Param("policy"), c.Param("identity"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (s *Server) ResetRateLimit(c *gin.Context) {
	if err := s.limiter.Reset(c.Request.Context(), c.Param("policy"), c.Param("identity")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
