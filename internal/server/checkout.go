package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	checkoutdomain "github.com/smallbiznis/donorflow/internal/checkout/domain"
	"github.com/smallbiznis/donorflow/internal/orgcontext"
)

type createCheckoutSessionRequest struct {
	ContactID       string          `json:"contact_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	CampaignID      string          `json:"campaign_id"`
	FundRestriction string          `json:"fund_restriction"`
	IsRecurring     bool            `json:"is_recurring"`
	Interval        string          `json:"interval"`
}

func (r createCheckoutSessionRequest) toDomain() checkoutdomain.Request {
	return checkoutdomain.Request{
		ContactID:       strings.TrimSpace(r.ContactID),
		Amount:          r.Amount.String(),
		Currency:        r.Currency,
		CampaignID:      r.CampaignID,
		FundRestriction: r.FundRestriction,
		Recurring:       r.IsRecurring,
		Interval:        r.Interval,
	}
}

func (s *Server) CreateCheckoutSession(c *gin.Context) {
	var req createCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	in := req.toDomain()
	in.OrgID, _ = orgcontext.OrgIDFromContext(ctx)
	s.createCheckoutSession(c, in)
}

func (s *Server) createCheckoutSession(c *gin.Context, in checkoutdomain.Request) {
	session, err := s.checkoutSvc.CreateSession(c.Request.Context(), in)
	setRateHeaders(c, session.Decision)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": session})
}
