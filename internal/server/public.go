package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	donationdomain "github.com/smallbiznis/donorflow/internal/donation/domain"
	"github.com/smallbiznis/donorflow/internal/orgcontext"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
)

// RegisterPublicRoutes serves the embeddable donation form and the landing
// page newsletter signup. Callers are anonymous, so every route is CAPTCHA-
// or rate-gated and risk fields never leave the server.
func (s *Server) RegisterPublicRoutes() {
	public := s.engine.Group("/public/orgs/:org_id", PublicOrgContext())

	public.POST("/donations", s.CreatePublicDonation)
	public.POST("/checkout-sessions", s.CreatePublicCheckoutSession)

	newsletter := s.engine.Group("/public/newsletter")
	newsletter.POST("/subscribe", s.SubscribeNewsletter)
	newsletter.GET("/confirm", s.ConfirmNewsletter)
	newsletter.GET("/unsubscribe", s.UnsubscribeNewsletter)
}

type publicDonationRequest struct {
	ContactID       string          `json:"contact_id"`
	DonorName       string          `json:"donor_name"`
	DonorEmail      string          `json:"donor_email"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Method          string          `json:"method"`
	Type            string          `json:"type"`
	CampaignID      string          `json:"campaign_id"`
	FundRestriction string          `json:"fund_restriction"`
	Notes           string          `json:"notes"`
	CaptchaToken    string          `json:"captcha_token"`
	IdempotencyKey  string          `json:"idempotency_key"`
}

func (s *Server) CreatePublicDonation(c *gin.Context) {
	var req publicDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var donor *donationdomain.Donor
	if strings.TrimSpace(req.DonorEmail) != "" || strings.TrimSpace(req.DonorName) != "" {
		donor = &donationdomain.Donor{Name: req.DonorName, Email: req.DonorEmail}
	}

	ctx := c.Request.Context()
	orgID, _ := orgcontext.OrgIDFromContext(ctx)
	ip := ratelimit.ClientIP(c.Request)
	adm, err := s.donationSvc.Submit(ctx, donationdomain.SubmitRequest{
		Channel:         donationdomain.ChannelPublic,
		OrgID:           orgID,
		CallerIdentity:  ratelimit.IPIdentity(ip),
		RemoteIP:        ip,
		ContactID:       strings.TrimSpace(req.ContactID),
		Donor:           donor,
		Amount:          req.Amount.String(),
		Currency:        req.Currency,
		Method:          req.Method,
		Type:            req.Type,
		CampaignID:      req.CampaignID,
		FundRestriction: req.FundRestriction,
		Notes:           req.Notes,
		CaptchaToken:    req.CaptchaToken,
		IdempotencyKey:  idempotencyKey(c, req.IdempotencyKey),
	})
	setRateHeaders(c, adm.Decision)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(admissionStatus(c, adm), gin.H{"data": adm.Donation.Public()})
}

func (s *Server) CreatePublicCheckoutSession(c *gin.Context) {
	var req createCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	in := req.toDomain()
	in.OrgID, _ = orgcontext.OrgIDFromContext(ctx)
	in.CallerIdentity = ratelimit.IPIdentity(ratelimit.ClientIP(c.Request))
	s.createCheckoutSession(c, in)
}
