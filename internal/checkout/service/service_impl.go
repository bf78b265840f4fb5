package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/donorflow/internal/checkout/domain"
	"github.com/smallbiznis/donorflow/internal/clock"
	"github.com/smallbiznis/donorflow/internal/config"
	contactdomain "github.com/smallbiznis/donorflow/internal/contact/domain"
	donationdomain "github.com/smallbiznis/donorflow/internal/donation/domain"
	donationservice "github.com/smallbiznis/donorflow/internal/donation/service"
	"github.com/smallbiznis/donorflow/internal/fee"
	"github.com/smallbiznis/donorflow/internal/idempotency"
	"github.com/smallbiznis/donorflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/donorflow/internal/observability/metrics"
	"github.com/smallbiznis/donorflow/internal/observability/tracing"
	orgdomain "github.com/smallbiznis/donorflow/internal/organization/domain"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const channelCheckout = "checkout"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Clock    clock.Clock
	Orgs     orgdomain.Repository
	Contacts contactdomain.Service
	Limiter  *ratelimit.Limiter

	HTTPClient *http.Client                 `name:"stripe_http_client" optional:"true"`
	Admission  *obsmetrics.AdmissionMetrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	stripe    config.StripeConfig
	donation  config.DonationConfig
	clock     clock.Clock
	orgs      orgdomain.Repository
	contacts  contactdomain.Service
	limiter   *ratelimit.Limiter
	client    *stripeClient
	admission *obsmetrics.AdmissionMetrics
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = tracing.WrapHTTPClient(&http.Client{Timeout: 12 * time.Second}, "stripe")
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("checkout.service"),
		stripe:    p.Config.Stripe,
		donation:  p.Config.Donation,
		clock:     clk,
		orgs:      p.Orgs,
		contacts:  p.Contacts,
		limiter:   p.Limiter,
		client:    newStripeClient(p.Config.Stripe.SecretKey, p.Config.Stripe.APIBaseURL, httpClient),
		admission: p.Admission,
	}
}

type sessionInput struct {
	amount     int64
	currency   string
	campaignID snowflake.ID
	fund       string
	recurring  bool
	interval   donationdomain.Type
}

func (s *Service) stop(log *zap.Logger, stage, outcome string, err error) error {
	s.admission.IncOutcome(channelCheckout, stage, outcome)
	log = logger.WithStage(log, stage)
	if outcome == obsmetrics.OutcomeFailed {
		log.Error("checkout session failed", zap.Error(err))
	} else {
		log.Info("checkout session refused", zap.String("outcome", outcome), zap.Error(err))
	}
	return err
}

// CreateSession opens a hosted checkout session that routes the gift to the
// organization's connected account, less the platform fee.
func (s *Service) CreateSession(ctx context.Context, req domain.Request) (domain.Session, error) {
	var session domain.Session

	if req.OrgID == 0 {
		return session, donationdomain.ErrInvalidOrganization
	}
	log := logger.WithContext(ctx, s.log).With(
		zap.String("org_id", req.OrgID.String()),
		zap.String("identity", req.CallerIdentity),
	)

	if !s.stripe.Configured() {
		return session, s.stop(log, obsmetrics.StageCheckout, obsmetrics.OutcomeFailed, domain.ErrNotConfigured)
	}

	identity := strings.TrimSpace(req.CallerIdentity)
	if identity == "" {
		identity = "org:" + req.OrgID.String()
	}
	decision, err := s.limiter.Admit(ctx, config.PolicyCheckoutSession, identity)
	if decision.Policy != "" {
		session.Decision = &decision
	}
	if err != nil {
		return session, s.stop(log, obsmetrics.StageRateLimit, obsmetrics.OutcomeDenied, err)
	}

	in, err := s.validate(req)
	if err != nil {
		return session, s.stop(log, obsmetrics.StageValidate, obsmetrics.OutcomeInvalid, err)
	}

	org, contact, err := s.resolveTenant(ctx, req, in)
	if err != nil {
		outcome := obsmetrics.OutcomeDenied
		if !isTenantRefusal(err) {
			outcome = obsmetrics.OutcomeFailed
		}
		return session, s.stop(log, obsmetrics.StageTenant, outcome, err)
	}

	bps, err := fee.ParsePercent(s.stripe.PlatformFeePercent)
	if err != nil {
		return session, s.stop(log, obsmetrics.StageCheckout, obsmetrics.OutcomeFailed, err)
	}
	split, err := fee.SplitBps(in.amount, bps)
	if err != nil {
		return session, s.stop(log, obsmetrics.StageValidate, obsmetrics.OutcomeInvalid, donationdomain.ErrInvalidAmount)
	}

	key := idempotency.Compute(req.OrgID, s.clock.Now())
	values := s.sessionValues(org, contact, in, split)
	created, err := s.client.createCheckoutSession(ctx, values, key.String())
	if err != nil {
		return session, s.stop(log, obsmetrics.StageCheckout, obsmetrics.OutcomeFailed, err)
	}

	session.URL = created.URL
	session.SessionID = created.ID
	session.Amount = split.Gross
	session.Currency = in.currency
	session.ApplicationFee = split.ApplicationFee
	session.NetAmount = split.Net

	s.admission.IncOutcome(channelCheckout, obsmetrics.StageCheckout, obsmetrics.OutcomeAdmitted)
	log.Info("checkout session created",
		zap.String("session_id", created.ID),
		zap.Int64("amount", split.Gross),
		zap.Int64("application_fee", split.ApplicationFee),
		zap.Bool("recurring", in.recurring),
	)
	return session, nil
}

func (s *Service) validate(req domain.Request) (sessionInput, error) {
	var in sessionInput

	amount, err := donationservice.ParseAmount(req.Amount)
	if err != nil {
		return in, err
	}
	if amount < s.donation.MinimumAmount {
		return in, donationdomain.ErrBelowMinimum
	}
	in.amount = amount

	in.currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if in.currency == "" {
		in.currency = s.donation.DefaultCurrency
	}
	if len(in.currency) != 3 {
		return in, donationdomain.ErrInvalidCurrency
	}

	if strings.TrimSpace(req.ContactID) == "" {
		return in, donationdomain.ErrMissingContact
	}

	if raw := strings.TrimSpace(req.CampaignID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id <= 0 {
			return in, donationdomain.ErrInvalidCampaign
		}
		in.campaignID = id
	}
	in.fund = strings.TrimSpace(req.FundRestriction)

	in.recurring = req.Recurring
	if in.recurring {
		in.interval = donationdomain.TypeMonthly
		if strings.TrimSpace(req.Interval) != "" {
			t, ok := donationdomain.ParseType(req.Interval)
			if !ok {
				return in, domain.ErrInvalidInterval
			}
			if _, _, ok := stripeRecurrence(t); !ok {
				return in, domain.ErrInvalidInterval
			}
			in.interval = t
		}
	}
	return in, nil
}

func (s *Service) resolveTenant(ctx context.Context, req domain.Request, in sessionInput) (*orgdomain.Organization, contactdomain.Contact, error) {
	org, err := s.orgs.FindByID(ctx, s.db, req.OrgID)
	if err != nil {
		return nil, contactdomain.Contact{}, err
	}
	if org == nil {
		return nil, contactdomain.Contact{}, orgdomain.ErrNotFound
	}

	contact, err := s.contacts.Resolve(ctx, req.OrgID, req.ContactID)
	if err != nil {
		return nil, contactdomain.Contact{}, err
	}

	if in.campaignID != 0 {
		campaign, err := s.orgs.FindCampaign(ctx, s.db, req.OrgID, in.campaignID)
		if err != nil {
			return nil, contactdomain.Contact{}, err
		}
		if campaign == nil {
			return nil, contactdomain.Contact{}, orgdomain.ErrCampaignNotFound
		}
		if campaign.Status == orgdomain.CampaignStatusClosed {
			return nil, contactdomain.Contact{}, orgdomain.ErrCampaignClosed
		}
	}

	if !s.stripe.TierAllowed(org.PlanTier) {
		return nil, contactdomain.Contact{}, domain.ErrPlanNotPermitted
	}
	if !org.CheckoutConnected() {
		return nil, contactdomain.Contact{}, domain.ErrAccountNotConnected
	}
	return org, contact, nil
}

func isTenantRefusal(err error) bool {
	switch {
	case errors.Is(err, domain.ErrPlanNotPermitted),
		errors.Is(err, domain.ErrAccountNotConnected),
		errors.Is(err, contactdomain.ErrCrossTenant),
		errors.Is(err, contactdomain.ErrNotFound),
		errors.Is(err, contactdomain.ErrInvalidID),
		errors.Is(err, orgdomain.ErrNotFound),
		errors.Is(err, orgdomain.ErrCampaignNotFound),
		errors.Is(err, orgdomain.ErrCampaignClosed):
		return true
	}
	return false
}

func (s *Service) sessionValues(org *orgdomain.Organization, contact contactdomain.Contact, in sessionInput, split fee.Split) url.Values {
	values := url.Values{}
	values.Set("success_url", s.stripe.SuccessURL)
	values.Set("cancel_url", s.stripe.CancelURL)
	values.Set("client_reference_id", contact.ID.String())
	if contact.Email != "" {
		values.Set("customer_email", contact.Email)
	}
	values.Set("line_items[0][quantity]", "1")
	values.Set("line_items[0][price_data][currency]", strings.ToLower(in.currency))
	values.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(in.amount, 10))
	values.Set("line_items[0][price_data][product_data][name]", "Donation to "+org.Name)

	metadata := map[string]string{
		"org_id":          org.ID.String(),
		"contact_id":      contact.ID.String(),
		"is_recurring":    strconv.FormatBool(in.recurring),
		"application_fee": strconv.FormatInt(split.ApplicationFee, 10),
	}
	if in.campaignID != 0 {
		metadata["campaign_id"] = in.campaignID.String()
	}
	if in.fund != "" {
		metadata["fund_restriction"] = in.fund
	}

	scope := "payment_intent_data"
	if in.recurring {
		interval, count, _ := stripeRecurrence(in.interval)
		metadata["interval"] = string(in.interval)
		values.Set("mode", "subscription")
		values.Set("line_items[0][price_data][recurring][interval]", interval)
		values.Set("line_items[0][price_data][recurring][interval_count]", strconv.Itoa(count))
		values.Set("subscription_data[application_fee_percent]", decimal.New(split.BasisPoints, -2).String())
		values.Set("subscription_data[transfer_data][destination]", org.StripeAccountID)
		scope = "subscription_data"
	} else {
		values.Set("mode", "payment")
		values.Set("payment_intent_data[application_fee_amount]", strconv.FormatInt(split.ApplicationFee, 10))
		values.Set("payment_intent_data[transfer_data][destination]", org.StripeAccountID)
	}

	for k, v := range metadata {
		values.Set("metadata["+k+"]", v)
		values.Set(scope+"[metadata]["+k+"]", v)
	}
	return values
}

// stripeRecurrence maps a recurring donation type onto a processor billing
// interval and count.
func stripeRecurrence(t donationdomain.Type) (string, int, bool) {
	switch t {
	case donationdomain.TypeMonthly:
		return "month", 1, true
	case donationdomain.TypeQuarterly:
		return "month", 3, true
	case donationdomain.TypeAnnual:
		return "year", 1, true
	}
	return "", 0, false
}
