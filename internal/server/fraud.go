package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetFraudStats(c *gin.Context) {
	days, err := queryInt(c, "days")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.fraudSvc.Stats(c.Request.Context(), days)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (s *Server) ListHighRiskDonations(c *gin.Context) {
	minScore, err := queryInt(c, "min_score")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.fraudSvc.HighRisk(c.Request.Context(), minScore, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}
