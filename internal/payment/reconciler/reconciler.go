// Package reconciler converges stored donations with the processor's event
// stream. Every handler is safe to run more than once for the same event.
package reconciler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/clock"
	contactdomain "github.com/smallbiznis/donorflow/internal/contact/domain"
	donationdomain "github.com/smallbiznis/donorflow/internal/donation/domain"
	"github.com/smallbiznis/donorflow/internal/fraud/scorer"
	"github.com/smallbiznis/donorflow/internal/idempotency"
	"github.com/smallbiznis/donorflow/internal/notification"
	"github.com/smallbiznis/donorflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/donorflow/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/donorflow/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/donorflow/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	outcomeRecorded  = "recorded"
	outcomeRefunded  = "refunded"
	outcomeCancelled = "cancelled"
	outcomeUnmatched = "unmatched"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      paymentdomain.Repository
	Donations donationdomain.Repository
	Orgs      orgdomain.Repository
	Contacts  contactdomain.Repository

	Notifier  *notification.Notifier       `optional:"true"`
	Metrics   *obsmetrics.Metrics          `optional:"true"`
	Admission *obsmetrics.AdmissionMetrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      paymentdomain.Repository
	donations donationdomain.Repository
	orgs      orgdomain.Repository
	contacts  contactdomain.Repository
	reserver  *idempotency.Reserver
	notifier  *notification.Notifier
	metrics   *obsmetrics.Metrics
	admission *obsmetrics.AdmissionMetrics
}

func New(p Params) paymentdomain.Reconciler {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.reconciler"),
		genID:     p.GenID,
		clock:     clk,
		repo:      p.Repo,
		donations: p.Donations,
		orgs:      p.Orgs,
		contacts:  p.Contacts,
		reserver:  idempotency.NewReserver("transaction_id"),
		notifier:  p.Notifier,
		metrics:   p.Metrics,
		admission: p.Admission,
	}
}

// gift is the tenant context a settled payment is recorded under.
type gift struct {
	org             *orgdomain.Organization
	contact         *contactdomain.Contact
	campaign        *orgdomain.Campaign
	series          *donationdomain.RecurringDonation
	fundRestriction string
}

type settlement struct {
	outcome  string
	donation *donationdomain.Donation
	gift     gift
}

// Process records the event in the delivery log and applies it. An event
// already applied returns ErrEventAlreadyProcessed; a failed apply leaves
// the log entry unprocessed so the redelivery retries it.
func (s *Service) Process(ctx context.Context, event *paymentdomain.SettlementEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	log := logger.WithStage(logger.WithContext(ctx, s.log), obsmetrics.StageReconcile).With(
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", event.Type),
	)

	now := s.clock.Now()
	payload := event.RawPayload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		OrgID:           event.OrgID,
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		TransactionID:   event.TransactionID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.admission.IncSettlement(event.Type, obsmetrics.OutcomeDuplicate)
			log.Info("settlement event already processed")
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}

	var result settlement
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marked, err := s.repo.MarkProcessed(ctx, tx, stored.ID, now)
		if err != nil {
			return err
		}
		if !marked {
			return paymentdomain.ErrEventAlreadyProcessed
		}
		result, err = s.apply(ctx, tx, event, now)
		return err
	})
	if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
		s.admission.IncSettlement(event.Type, obsmetrics.OutcomeDuplicate)
		log.Info("settlement event processed by a concurrent delivery")
		return err
	}
	if err != nil {
		s.admission.IncSettlement(event.Type, obsmetrics.OutcomeFailed)
		log.Error("settlement event failed", zap.Error(err))
		return err
	}

	if inserted {
		s.metrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	}
	s.admission.IncSettlement(event.Type, result.outcome)
	log.Info("settlement event processed", zap.String("outcome", result.outcome))

	if result.donation != nil {
		s.notify(ctx, result)
	}
	return nil
}

func validateEvent(event *paymentdomain.SettlementEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	if event.OccurredAt.IsZero() {
		return paymentdomain.ErrInvalidEvent
	}

	switch event.Type {
	case paymentdomain.EventTypeCheckoutCompleted, paymentdomain.EventTypeInvoicePaid:
		if event.TransactionID == "" {
			return paymentdomain.ErrInvalidEvent
		}
		if event.Amount <= 0 {
			return paymentdomain.ErrInvalidAmount
		}
		event.Currency = strings.ToUpper(strings.TrimSpace(event.Currency))
		if len(event.Currency) != 3 {
			return paymentdomain.ErrInvalidCurrency
		}
		if event.Type == paymentdomain.EventTypeCheckoutCompleted && (event.OrgID == 0 || event.ContactID == 0) {
			return paymentdomain.ErrInvalidEvent
		}
		if event.Type == paymentdomain.EventTypeInvoicePaid && event.SubscriptionID == "" {
			return paymentdomain.ErrInvalidEvent
		}
	case paymentdomain.EventTypeSubscriptionDeleted:
		if event.SubscriptionID == "" {
			return paymentdomain.ErrInvalidEvent
		}
	case paymentdomain.EventTypeChargeRefunded:
		if len(event.References()) == 0 {
			return paymentdomain.ErrInvalidEvent
		}
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, event *paymentdomain.SettlementEvent, now time.Time) (settlement, error) {
	switch event.Type {
	case paymentdomain.EventTypeCheckoutCompleted:
		return s.settleCheckout(ctx, tx, event, now)
	case paymentdomain.EventTypeInvoicePaid:
		return s.settleInvoice(ctx, tx, event, now)
	case paymentdomain.EventTypeSubscriptionDeleted:
		return s.cancelSeries(ctx, tx, event, now)
	case paymentdomain.EventTypeChargeRefunded:
		return s.settleRefund(ctx, tx, event, now)
	default:
		return settlement{}, paymentdomain.ErrInvalidEvent
	}
}

func (s *Service) settleCheckout(ctx context.Context, tx *gorm.DB, event *paymentdomain.SettlementEvent, now time.Time) (settlement, error) {
	existing, err := s.donations.FindByTransactionID(ctx, tx, event.TransactionID)
	if err != nil || existing != nil {
		return settlement{outcome: obsmetrics.OutcomeDuplicate}, err
	}

	g, err := s.resolveGift(ctx, tx, event.OrgID, event.ContactID, event.CampaignID)
	if err != nil {
		return settlement{}, err
	}
	g.fundRestriction = strings.TrimSpace(event.FundRestriction)
	if event.Recurring {
		g.series, err = s.ensureSeries(ctx, tx, event, g, now)
		if err != nil {
			return settlement{}, err
		}
	}
	return s.recordGift(ctx, tx, event, g, now)
}

// settleInvoice records a recurring payment against its series. The series
// normally exists from checkout; when the invoice arrives first its
// subscription metadata is enough to create it.
func (s *Service) settleInvoice(ctx context.Context, tx *gorm.DB, event *paymentdomain.SettlementEvent, now time.Time) (settlement, error) {
	existing, err := s.donations.FindByTransactionID(ctx, tx, event.TransactionID)
	if err != nil || existing != nil {
		return settlement{outcome: obsmetrics.OutcomeDuplicate}, err
	}

	series, err := s.donations.FindRecurringBySubscription(ctx, tx, event.SubscriptionID)
	if err != nil {
		return settlement{}, err
	}
	if series == nil {
		if event.OrgID == 0 || event.ContactID == 0 {
			return settlement{}, paymentdomain.ErrSeriesNotFound
		}
		g, err := s.resolveGift(ctx, tx, event.OrgID, event.ContactID, event.CampaignID)
		if err != nil {
			return settlement{}, err
		}
		g.fundRestriction = strings.TrimSpace(event.FundRestriction)
		series, err = s.ensureSeries(ctx, tx, event, g, now)
		if err != nil {
			return settlement{}, err
		}
	}

	g, err := s.resolveGift(ctx, tx, series.OrgID, series.ContactID, series.CampaignID)
	if err != nil {
		return settlement{}, err
	}
	g.series = series
	g.fundRestriction = series.FundRestriction
	return s.recordGift(ctx, tx, event, g, now)
}

// cancelSeries is idempotent. A cancellation that overtakes its checkout
// stores the series as cancelled so the late checkout cannot reactivate it.
func (s *Service) cancelSeries(ctx context.Context, tx *gorm.DB, event *paymentdomain.SettlementEvent, now time.Time) (settlement, error) {
	changed, err := s.donations.CancelRecurring(ctx, tx, event.SubscriptionID, event.OccurredAt)
	if err != nil {
		return settlement{}, err
	}
	if changed > 0 {
		return settlement{outcome: outcomeCancelled}, nil
	}

	series, err := s.donations.FindRecurringBySubscription(ctx, tx, event.SubscriptionID)
	if err != nil {
		return settlement{}, err
	}
	if series != nil {
		return settlement{outcome: obsmetrics.OutcomeDuplicate}, nil
	}
	if event.OrgID == 0 || event.ContactID == 0 {
		return settlement{outcome: outcomeUnmatched}, nil
	}

	g, err := s.resolveGift(ctx, tx, event.OrgID, event.ContactID, event.CampaignID)
	if err != nil {
		return settlement{}, err
	}
	g.fundRestriction = strings.TrimSpace(event.FundRestriction)
	cancelledAt := event.OccurredAt
	if _, err := s.donations.UpsertRecurring(ctx, tx, &donationdomain.RecurringDonation{
		ID:              s.genID.Generate(),
		OrgID:           g.org.ID,
		ContactID:       g.contact.ID,
		CampaignID:      campaignID(g.campaign),
		SubscriptionID:  event.SubscriptionID,
		Amount:          event.Amount,
		Currency:        event.Currency,
		BillingInterval: string(typeFor(event.Interval)),
		FundRestriction: g.fundRestriction,
		Status:          donationdomain.RecurringStatusCancelled,
		CancelledAt:     &cancelledAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}); err != nil {
		return settlement{}, err
	}
	return settlement{outcome: outcomeCancelled}, nil
}

// settleRefund flips a donation to refunded once. The campaign total only
// gives back what a completed gift added.
func (s *Service) settleRefund(ctx context.Context, tx *gorm.DB, event *paymentdomain.SettlementEvent, now time.Time) (settlement, error) {
	for _, ref := range event.References() {
		existing, err := s.donations.FindByTransactionID(ctx, tx, ref)
		if err != nil {
			return settlement{}, err
		}
		if existing == nil {
			continue
		}

		_, changed, err := s.donations.MarkRefunded(ctx, tx, ref, now)
		if err != nil {
			return settlement{}, err
		}
		if !changed {
			return settlement{outcome: obsmetrics.OutcomeDuplicate}, nil
		}
		if existing.Status == donationdomain.StatusCompleted && existing.CampaignID != nil {
			if err := s.orgs.AdjustRaised(ctx, tx, existing.OrgID, *existing.CampaignID, -existing.Amount, now); err != nil {
				return settlement{}, err
			}
		}
		return settlement{outcome: outcomeRefunded}, nil
	}
	return settlement{outcome: outcomeUnmatched}, nil
}

// resolveGift checks the tenant references stamped on the payment. A
// campaign that no longer exists is dropped rather than failing a payment
// that has already cleared.
func (s *Service) resolveGift(ctx context.Context, tx *gorm.DB, orgID, contactID snowflake.ID, campaign *snowflake.ID) (gift, error) {
	var g gift

	org, err := s.orgs.FindByID(ctx, tx, orgID)
	if err != nil {
		return g, err
	}
	if org == nil {
		return g, paymentdomain.ErrInvalidEvent
	}
	contact, err := s.contacts.FindAnyByID(ctx, tx, contactID)
	if err != nil {
		return g, err
	}
	if contact == nil || contact.OrgID != org.ID {
		return g, paymentdomain.ErrInvalidEvent
	}
	g.org = org
	g.contact = contact

	if campaign != nil {
		found, err := s.orgs.FindCampaign(ctx, tx, org.ID, *campaign)
		if err != nil {
			return g, err
		}
		if found == nil {
			s.log.Warn("settlement references unknown campaign",
				zap.String("org_id", org.ID.String()),
				zap.String("campaign_id", campaign.String()),
			)
		}
		g.campaign = found
	}
	return g, nil
}

func (s *Service) ensureSeries(ctx context.Context, tx *gorm.DB, event *paymentdomain.SettlementEvent, g gift, now time.Time) (*donationdomain.RecurringDonation, error) {
	return s.donations.UpsertRecurring(ctx, tx, &donationdomain.RecurringDonation{
		ID:              s.genID.Generate(),
		OrgID:           g.org.ID,
		ContactID:       g.contact.ID,
		CampaignID:      campaignID(g.campaign),
		SubscriptionID:  event.SubscriptionID,
		Amount:          event.Amount,
		Currency:        event.Currency,
		BillingInterval: string(typeFor(event.Interval)),
		FundRestriction: g.fundRestriction,
		Status:          donationdomain.RecurringStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

// recordGift inserts the donation keyed on the processor reference and
// credits the campaign in the caller's transaction. Losing the insert race
// to a concurrent delivery counts as already settled.
func (s *Service) recordGift(ctx context.Context, tx *gorm.DB, event *paymentdomain.SettlementEvent, g gift, now time.Time) (settlement, error) {
	cleared := scorer.ProcessorCleared()
	ref := event.TransactionID

	donation := &donationdomain.Donation{
		ID:              s.genID.Generate(),
		OrgID:           g.org.ID,
		ContactID:       g.contact.ID,
		CampaignID:      campaignID(g.campaign),
		Amount:          event.Amount,
		Currency:        event.Currency,
		Type:            donationdomain.TypeOneTime,
		Method:          donationdomain.MethodCard,
		Status:          donationdomain.StatusCompleted,
		Channel:         donationdomain.ChannelWebhook,
		FundRestriction: g.fundRestriction,
		TransactionID:   &ref,
		ReceiptNumber:   donationdomain.ReceiptNumber(g.org.ReceiptPrefix(), event.OccurredAt),
		ApplicationFee:  event.ApplicationFee,
		FraudScore:      cleared.Score,
		FraudFlags:      datatypes.JSONSlice[string](cleared.Flags),
		ReviewStatus:    cleared.ReviewStatus,
		DonatedAt:       event.OccurredAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if g.series != nil {
		id := g.series.ID
		donation.RecurringDonationID = &id
		donation.Type = typeFor(g.series.BillingInterval)
	}

	res, err := s.reserver.Reserve(ctx, tx, donation)
	if err != nil {
		return settlement{}, err
	}
	if !res.Reserved {
		return settlement{outcome: obsmetrics.OutcomeDuplicate}, nil
	}
	if g.campaign != nil {
		if err := s.orgs.AdjustRaised(ctx, tx, g.org.ID, g.campaign.ID, donation.Amount, now); err != nil {
			return settlement{}, err
		}
	}
	return settlement{outcome: outcomeRecorded, donation: donation, gift: g}, nil
}

func (s *Service) notify(ctx context.Context, result settlement) {
	donation := result.donation
	msg := notification.Message{
		OrgID:         donation.OrgID.String(),
		OrgName:       result.gift.org.Name,
		DonationID:    donation.ID.String(),
		ReceiptNumber: donation.ReceiptNumber,
		Amount:        donation.Amount,
		Currency:      donation.Currency,
		DonorName:     result.gift.contact.Name,
		DonorEmail:    result.gift.contact.Email,
		CreatedAt:     donation.CreatedAt,
	}
	if result.gift.campaign != nil {
		msg.CampaignName = result.gift.campaign.Name
	}
	s.notifier.DonationReceived(ctx, msg)
}

func typeFor(interval string) donationdomain.Type {
	t, ok := donationdomain.ParseType(interval)
	switch {
	case !ok:
		return donationdomain.TypeMonthly
	case t == donationdomain.TypeMonthly, t == donationdomain.TypeQuarterly, t == donationdomain.TypeAnnual:
		return t
	default:
		return donationdomain.TypeMonthly
	}
}

func campaignID(c *orgdomain.Campaign) *snowflake.ID {
	if c == nil {
		return nil
	}
	id := c.ID
	return &id
}
