package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	donationdomain "github.com/smallbiznis/donorflow/internal/donation/domain"
	"github.com/smallbiznis/donorflow/internal/orgcontext"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
	"github.com/smallbiznis/donorflow/pkg/db/pagination"
)

// Amount accepts a JSON number or a decimal string.
type createDonationRequest struct {
	ContactID       string          `json:"contact_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Method          string          `json:"method"`
	Type            string          `json:"type"`
	Status          string          `json:"status"`
	CampaignID      string          `json:"campaign_id"`
	FundRestriction string          `json:"fund_restriction"`
	TransactionID   string          `json:"transaction_id"`
	Notes           string          `json:"notes"`
	DonatedAt       string          `json:"donated_at"`
	IdempotencyKey  string          `json:"idempotency_key"`
}

func (s *Server) CreateDonation(c *gin.Context) {
	var req createDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	donatedAt, err := parseDonatedAt(req.DonatedAt)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	orgID, _ := orgcontext.OrgIDFromContext(ctx)
	adm, err := s.donationSvc.Submit(ctx, donationdomain.SubmitRequest{
		Channel:         donationdomain.ChannelStaff,
		OrgID:           orgID,
		RemoteIP:        ratelimit.ClientIP(c.Request),
		ContactID:       strings.TrimSpace(req.ContactID),
		Amount:          req.Amount.String(),
		Currency:        req.Currency,
		Method:          req.Method,
		Type:            req.Type,
		Status:          req.Status,
		CampaignID:      req.CampaignID,
		FundRestriction: req.FundRestriction,
		TransactionID:   req.TransactionID,
		Notes:           req.Notes,
		DonatedAt:       donatedAt,
		IdempotencyKey:  idempotencyKey(c, req.IdempotencyKey),
	})
	setRateHeaders(c, adm.Decision)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(admissionStatus(c, adm), gin.H{
		"data":       adm.Donation,
		"assessment": adm.Assessment,
	})
}

func (s *Server) ListDonations(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status       string `form:"status"`
		ReviewStatus string `form:"review_status"`
		ContactID    string `form:"contact_id"`
		CampaignID   string `form:"campaign_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.donationSvc.List(c.Request.Context(), donationdomain.ListRequest{
		Pagination:   query.Pagination,
		Status:       query.Status,
		ReviewStatus: query.ReviewStatus,
		ContactID:    query.ContactID,
		CampaignID:   query.CampaignID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListDonationsForReview(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.donationSvc.ListPendingReview(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetDonation(c *gin.Context) {
	donation, err := s.donationSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": donation})
}

func idempotencyKey(c *gin.Context, fromBody string) string {
	if key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)); key != "" {
		return key
	}
	return strings.TrimSpace(fromBody)
}

// admissionStatus is 201 for a new donation and 200 when an earlier result
// was replayed.
func admissionStatus(c *gin.Context, adm donationdomain.Admission) int {
	if adm.Replayed {
		c.Header("Idempotent-Replayed", "true")
		return http.StatusOK
	}
	return http.StatusCreated
}
