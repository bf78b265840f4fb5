package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/captcha"
	"github.com/smallbiznis/donorflow/internal/clock"
	"github.com/smallbiznis/donorflow/internal/config"
	contactdomain "github.com/smallbiznis/donorflow/internal/contact/domain"
	"github.com/smallbiznis/donorflow/internal/donation/domain"
	fraud "github.com/smallbiznis/donorflow/internal/fraud/domain"
	"github.com/smallbiznis/donorflow/internal/fraud/scorer"
	"github.com/smallbiznis/donorflow/internal/idempotency"
	"github.com/smallbiznis/donorflow/internal/notification"
	"github.com/smallbiznis/donorflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/donorflow/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/donorflow/internal/organization/domain"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
	"github.com/smallbiznis/donorflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Config   config.Config
	Clock    clock.Clock
	Repo     domain.Repository
	Orgs     orgdomain.Repository
	Contacts contactdomain.Service
	Limiter  *ratelimit.Limiter
	Scorer   fraud.Scorer

	Captcha   captcha.Verifier             `optional:"true"`
	Notifier  *notification.Notifier       `optional:"true"`
	Metrics   *obsmetrics.Metrics          `optional:"true"`
	Admission *obsmetrics.AdmissionMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	cfg      config.DonationConfig
	captcha  captcha.Verifier
	required bool
	clock    clock.Clock

	repo     domain.Repository
	orgs     orgdomain.Repository
	contacts contactdomain.Service
	limiter  *ratelimit.Limiter
	scorer   fraud.Scorer
	reserver *idempotency.Reserver
	notifier *notification.Notifier

	metrics   *obsmetrics.Metrics
	admission *obsmetrics.AdmissionMetrics
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("donation.service"),
		genID:     p.GenID,
		cfg:       p.Config.Donation,
		captcha:   p.Captcha,
		required:  p.Config.Captcha.Required,
		clock:     clk,
		repo:      p.Repo,
		orgs:      p.Orgs,
		contacts:  p.Contacts,
		limiter:   p.Limiter,
		scorer:    p.Scorer,
		reserver:  idempotency.NewReserver("idempotency_key"),
		notifier:  p.Notifier,
		metrics:   p.Metrics,
		admission: p.Admission,
	}
}

// submission tracks one request through the pipeline for logging and
// outcome counting.
type submission struct {
	log       *zap.Logger
	channel   string
	admission *obsmetrics.AdmissionMetrics
}

func (s submission) stop(stage, outcome string, err error) error {
	s.admission.IncOutcome(s.channel, stage, outcome)
	log := logger.WithStage(s.log, stage)
	if outcome == obsmetrics.OutcomeFailed {
		log.Error("donation admission failed", zap.Error(err))
	} else {
		log.Info("donation admission stopped", zap.String("outcome", outcome), zap.Error(err))
	}
	return err
}

// Submit admits one donation. Stages run in a fixed order and the first
// failing stage ends the request: captcha, rate limit, validation, tenant
// check, idempotency lookup, scoring, persistence, notification.
func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (domain.Admission, error) {
	var adm domain.Admission

	if req.Channel != domain.ChannelStaff && req.Channel != domain.ChannelPublic {
		return adm, domain.ErrInvalidChannel
	}
	if req.OrgID == 0 {
		return adm, domain.ErrInvalidOrganization
	}

	identity := s.identity(req)
	run := submission{
		log: logger.WithContext(ctx, s.log).With(
			zap.String("channel", string(req.Channel)),
			zap.String("org_id", req.OrgID.String()),
			zap.String("identity", identity),
		),
		channel:   string(req.Channel),
		admission: s.admission,
	}

	if err := s.checkCaptcha(ctx, req); err != nil {
		outcome := obsmetrics.OutcomeDenied
		if errors.Is(err, domain.ErrCaptchaUnavailable) {
			outcome = obsmetrics.OutcomeFailed
		}
		return adm, run.stop(obsmetrics.StageCaptcha, outcome, err)
	}

	decision, err := s.limiter.Admit(ctx, s.policy(req.Channel), identity)
	if decision.Policy != "" {
		adm.Decision = &decision
	}
	if err != nil {
		return adm, run.stop(obsmetrics.StageRateLimit, obsmetrics.OutcomeDenied, err)
	}

	in, err := s.validate(req)
	if err != nil {
		return adm, run.stop(obsmetrics.StageValidate, obsmetrics.OutcomeInvalid, err)
	}
	run.log = run.log.With(zap.Int64("amount", in.amount), zap.String("currency", in.currency))

	scope, err := s.resolveTenant(ctx, req, in)
	if err != nil {
		return adm, run.stop(obsmetrics.StageTenant, tenantOutcome(err), err)
	}

	key, err := s.idempotencyKey(req)
	if err != nil {
		return adm, run.stop(obsmetrics.StageIdempotency, obsmetrics.OutcomeInvalid, err)
	}
	fingerprint := idempotency.Fingerprint(
		req.OrgID.String(),
		scope.contact.ID.String(),
		in.amountKey(),
		in.currency,
		string(in.method),
		in.campaignKey(),
	)
	existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, string(key))
	if err != nil {
		return adm, run.stop(obsmetrics.StageIdempotency, obsmetrics.OutcomeFailed, err)
	}
	if existing != nil {
		return s.replay(adm, run, existing, fingerprint)
	}

	assessment, err := s.scorer.Score(ctx, fraud.Context{
		OrgID:          req.OrgID,
		ContactID:      scope.contact.ID,
		Amount:         in.amount,
		Currency:       in.currency,
		Method:         string(in.method),
		CallerIdentity: identity,
		At:             s.clock.Now(),
	})
	if err != nil {
		return adm, run.stop(obsmetrics.StageScore, obsmetrics.OutcomeFailed, err)
	}
	adm.Assessment = &assessment
	s.admission.ObserveVerdict(string(assessment.ReviewStatus), assessment.Score)
	run.log = run.log.With(
		zap.String("verdict", string(assessment.ReviewStatus)),
		zap.Int("fraud_score", assessment.Score),
	)

	rejected := assessment.ReviewStatus == fraud.ReviewRejected
	if rejected && s.cfg.RejectedPolicy == config.RejectedPolicyRefuse {
		return adm, run.stop(obsmetrics.StageScore, obsmetrics.OutcomeRejected, &fraud.HighRiskError{Assessment: assessment})
	}

	donation := s.build(req, in, scope, assessment, key, fingerprint)
	reserved := true
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := s.reserver.Reserve(ctx, tx, donation)
		if err != nil {
			return err
		}
		if !res.Reserved {
			reserved = false
			return nil
		}
		if donation.Status == domain.StatusCompleted && donation.CampaignID != nil {
			return s.orgs.AdjustRaised(ctx, tx, req.OrgID, *donation.CampaignID, donation.Amount, donation.UpdatedAt)
		}
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return adm, run.stop(obsmetrics.StagePersist, obsmetrics.OutcomeDuplicate, domain.ErrDuplicateTransaction)
		}
		return adm, run.stop(obsmetrics.StagePersist, obsmetrics.OutcomeFailed, err)
	}
	if !reserved {
		// A concurrent request with the same key won the insert.
		winner, err := s.repo.FindByIdempotencyKey(ctx, s.db, string(key))
		if err != nil {
			return adm, run.stop(obsmetrics.StagePersist, obsmetrics.OutcomeFailed, err)
		}
		if winner == nil {
			return adm, run.stop(obsmetrics.StagePersist, obsmetrics.OutcomeFailed, domain.ErrNotFound)
		}
		return s.replay(adm, run, winner, fingerprint)
	}

	adm.Donation = donation
	s.metrics.RecordDonationAdmitted(ctx, req.OrgID.String(), string(req.Channel), string(assessment.ReviewStatus), assessment.Score)
	logger.WithStage(run.log, obsmetrics.StagePersist).Info("donation recorded",
		zap.String("donation_id", donation.ID.String()),
		zap.String("status", string(donation.Status)),
	)

	if rejected {
		return adm, run.stop(obsmetrics.StagePersist, obsmetrics.OutcomeRejected, &fraud.HighRiskError{Assessment: assessment})
	}

	s.notify(ctx, run, donation, scope)
	s.admission.IncOutcome(run.channel, obsmetrics.StageNotify, obsmetrics.OutcomeAdmitted)
	return adm, nil
}

func (s *Service) identity(req domain.SubmitRequest) string {
	if id := strings.TrimSpace(req.CallerIdentity); id != "" {
		return id
	}
	if req.Channel == domain.ChannelPublic {
		return ratelimit.IPIdentity(req.RemoteIP)
	}
	return ratelimit.OrgIdentity(req.OrgID)
}

func (s *Service) policy(channel domain.Channel) string {
	if channel == domain.ChannelPublic {
		return config.PolicyPublicDonation
	}
	return config.PolicyStaffDonation
}

// checkCaptcha gates public submissions. Errors and timeouts from the
// challenge service fail closed.
func (s *Service) checkCaptcha(ctx context.Context, req domain.SubmitRequest) error {
	if req.Channel != domain.ChannelPublic || !s.required {
		return nil
	}
	if s.captcha == nil {
		return domain.ErrCaptchaUnavailable
	}
	token := strings.TrimSpace(req.CaptchaToken)
	if token == "" {
		return domain.ErrCaptchaRequired
	}
	ok, err := s.captcha.Verify(ctx, token, req.RemoteIP)
	if err != nil {
		s.log.Warn("captcha verification error", zap.Error(err))
		return domain.ErrCaptchaUnavailable
	}
	if !ok {
		return domain.ErrCaptchaFailed
	}
	return nil
}

type tenant struct {
	org      *orgdomain.Organization
	contact  contactdomain.Contact
	campaign *orgdomain.Campaign
}

// resolveTenant loads the organization and checks that the donor and the
// campaign both belong to it.
func (s *Service) resolveTenant(ctx context.Context, req domain.SubmitRequest, in input) (tenant, error) {
	var t tenant

	org, err := s.orgs.FindByID(ctx, s.db, req.OrgID)
	if err != nil {
		return t, err
	}
	if org == nil {
		return t, orgdomain.ErrNotFound
	}
	t.org = org

	switch {
	case strings.TrimSpace(req.ContactID) != "":
		t.contact, err = s.contacts.Resolve(ctx, req.OrgID, req.ContactID)
	case req.Channel == domain.ChannelPublic && req.Donor != nil:
		t.contact, err = s.contacts.FindOrCreate(ctx, req.OrgID, contactdomain.CreateContactRequest{
			Name:  req.Donor.Name,
			Email: req.Donor.Email,
		})
		if errors.Is(err, contactdomain.ErrInvalidName) || errors.Is(err, contactdomain.ErrInvalidEmail) {
			err = domain.ErrInvalidDonor
		}
	default:
		err = domain.ErrMissingContact
	}
	if err != nil {
		return t, err
	}

	if in.campaignID != 0 {
		campaign, err := s.orgs.FindCampaign(ctx, s.db, req.OrgID, in.campaignID)
		if err != nil {
			return t, err
		}
		if campaign == nil {
			return t, orgdomain.ErrCampaignNotFound
		}
		if campaign.Status == orgdomain.CampaignStatusClosed {
			return t, orgdomain.ErrCampaignClosed
		}
		t.campaign = campaign
	}
	return t, nil
}

func tenantOutcome(err error) string {
	switch {
	case errors.Is(err, contactdomain.ErrCrossTenant),
		errors.Is(err, contactdomain.ErrNotFound),
		errors.Is(err, orgdomain.ErrNotFound),
		errors.Is(err, orgdomain.ErrCampaignNotFound):
		return obsmetrics.OutcomeDenied
	case errors.Is(err, domain.ErrMissingContact),
		errors.Is(err, domain.ErrInvalidDonor),
		errors.Is(err, contactdomain.ErrInvalidID),
		errors.Is(err, orgdomain.ErrCampaignClosed):
		return obsmetrics.OutcomeInvalid
	default:
		return obsmetrics.OutcomeFailed
	}
}

// idempotencyKey scopes a caller-supplied key to the organization, or mints
// a fresh one when the caller sent none.
func (s *Service) idempotencyKey(req domain.SubmitRequest) (idempotency.Key, error) {
	if strings.TrimSpace(req.IdempotencyKey) != "" {
		return idempotency.Scoped(req.OrgID, req.IdempotencyKey)
	}
	return idempotency.Compute(req.OrgID, s.clock.Now()), nil
}

// replay answers a repeated submission with the stored outcome.
func (s *Service) replay(adm domain.Admission, run submission, existing *domain.Donation, fingerprint string) (domain.Admission, error) {
	if existing.RequestFingerprint != fingerprint {
		return adm, run.stop(obsmetrics.StageIdempotency, obsmetrics.OutcomeDuplicate, idempotency.ErrConflict)
	}

	assessment := fraud.Assessment{
		Score:          existing.FraudScore,
		Flags:          []string(existing.FraudFlags),
		ReviewStatus:   existing.ReviewStatus,
		Recommendation: scorer.Recommendation(existing.ReviewStatus),
	}
	adm.Donation = existing
	adm.Assessment = &assessment
	adm.Replayed = true

	s.admission.IncOutcome(run.channel, obsmetrics.StageIdempotency, obsmetrics.OutcomeReplayed)
	logger.WithStage(run.log, obsmetrics.StageIdempotency).Info("donation replayed",
		zap.String("donation_id", existing.ID.String()),
	)
	if existing.ReviewStatus == fraud.ReviewRejected {
		return adm, &fraud.HighRiskError{Assessment: assessment}
	}
	return adm, nil
}

func (s *Service) build(req domain.SubmitRequest, in input, t tenant, assessment fraud.Assessment, key idempotency.Key, fingerprint string) *domain.Donation {
	now := s.clock.Now()
	keyStr := string(key)

	donation := &domain.Donation{
		ID:                 s.genID.Generate(),
		OrgID:              req.OrgID,
		ContactID:          t.contact.ID,
		Amount:             in.amount,
		Currency:           in.currency,
		Type:               in.donationType,
		Method:             in.method,
		Status:             statusFor(assessment.ReviewStatus, in.status),
		Channel:            req.Channel,
		FundRestriction:    strings.TrimSpace(req.FundRestriction),
		IdempotencyKey:     &keyStr,
		RequestFingerprint: fingerprint,
		ReceiptNumber:      domain.ReceiptNumber(t.org.ReceiptPrefix(), in.donatedAt),
		Notes:              strings.TrimSpace(req.Notes),
		FraudScore:         assessment.Score,
		FraudFlags:         datatypes.JSONSlice[string](assessment.Flags),
		ReviewStatus:       assessment.ReviewStatus,
		DonatedAt:          in.donatedAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if t.campaign != nil {
		id := t.campaign.ID
		donation.CampaignID = &id
	}
	if in.transactionID != "" {
		txID := in.transactionID
		donation.TransactionID = &txID
	}
	return donation
}

// statusFor maps the verdict onto the stored status. Only approved gifts keep
// the status the caller asked for.
func statusFor(verdict fraud.ReviewStatus, requested domain.Status) domain.Status {
	switch verdict {
	case fraud.ReviewRejected:
		return domain.StatusFailed
	case fraud.ReviewPendingReview:
		return domain.StatusPending
	default:
		return requested
	}
}

func (s *Service) notify(ctx context.Context, run submission, donation *domain.Donation, t tenant) {
	msg := notification.Message{
		OrgID:         donation.OrgID.String(),
		OrgName:       t.org.Name,
		DonationID:    donation.ID.String(),
		ReceiptNumber: donation.ReceiptNumber,
		Amount:        donation.Amount,
		Currency:      donation.Currency,
		DonorName:     t.contact.Name,
		DonorEmail:    t.contact.Email,
		CreatedAt:     donation.CreatedAt,
	}
	if t.campaign != nil {
		msg.CampaignName = t.campaign.Name
	}
	s.notifier.DonationReceived(ctx, msg)
	logger.WithStage(run.log, obsmetrics.StageNotify).Debug("notification queued",
		zap.String("donation_id", donation.ID.String()),
	)
}
