package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/donorflow/internal/orgcontext"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
)

func (s *Server) GetDonationReceipt(c *gin.Context) {
	if s.receipts == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	ctx := c.Request.Context()
	orgID, _ := orgcontext.OrgIDFromContext(ctx)
	doc, err := s.receipts.Render(ctx, ratelimit.OrgIdentity(orgID), c.Param("id"))
	setRateHeaders(c, doc.Decision)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if doc.ArchiveKey != "" {
		c.Header("X-Receipt-Archive-Key", doc.ArchiveKey)
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	c.Data(http.StatusOK, "application/pdf", doc.Content)
}
