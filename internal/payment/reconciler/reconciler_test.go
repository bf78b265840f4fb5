package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/clock"
	contactdomain "github.com/smallbiznis/donorflow/internal/contact/domain"
	contactrepo "github.com/smallbiznis/donorflow/internal/contact/repository"
	donationdomain "github.com/smallbiznis/donorflow/internal/donation/domain"
	donationrepo "github.com/smallbiznis/donorflow/internal/donation/repository"
	fraud "github.com/smallbiznis/donorflow/internal/fraud/domain"
	orgdomain "github.com/smallbiznis/donorflow/internal/organization/domain"
	orgrepo "github.com/smallbiznis/donorflow/internal/organization/repository"
	paymentdomain "github.com/smallbiznis/donorflow/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/donorflow/internal/payment/repository"
	"github.com/smallbiznis/donorflow/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testStart = time.Date(2025, 6, 3, 14, 0, 0, 0, time.UTC)

type harness struct {
	svc      *Service
	db       *gorm.DB
	node     *snowflake.Node
	org      *orgdomain.Organization
	contact  *contactdomain.Contact
	campaign *orgdomain.Campaign
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	conn := dbtest.New(t,
		&orgdomain.Organization{},
		&orgdomain.Campaign{},
		&contactdomain.Contact{},
		&donationdomain.Donation{},
		&donationdomain.RecurringDonation{},
		&paymentdomain.EventRecord{},
	)
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	orgs := orgrepo.Provide()
	contacts := contactrepo.Provide()
	svc := New(Params{
		DB:        conn,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clock.NewFakeClock(testStart),
		Repo:      paymentrepo.Provide(),
		Donations: donationrepo.Provide(),
		Orgs:      orgs,
		Contacts:  contacts,
	}).(*Service)

	ctx := context.Background()
	org := &orgdomain.Organization{ID: node.Generate(), Name: "Riverside Arts", Slug: "riverside-arts", PlanTier: "growth", StripeAccountID: "acct_1", CreatedAt: testStart, UpdatedAt: testStart}
	require.NoError(t, orgs.InsertOrganization(ctx, conn, org))
	campaign := &orgdomain.Campaign{ID: node.Generate(), OrgID: org.ID, Name: "Spring Gala", Goal: 500_000, Currency: "USD", Status: orgdomain.CampaignStatusActive, CreatedAt: testStart, UpdatedAt: testStart}
	require.NoError(t, orgs.InsertCampaign(ctx, conn, campaign))
	contact := &contactdomain.Contact{ID: node.Generate(), OrgID: org.ID, Name: "Grace Hopper", Email: "grace@example.org", CreatedAt: testStart, UpdatedAt: testStart}
	require.NoError(t, contacts.Insert(ctx, conn, contact))

	return &harness{svc: svc, db: conn, node: node, org: org, contact: contact, campaign: campaign}
}

func (h *harness) checkout(eventID, ref string, amount int64) *paymentdomain.SettlementEvent {
	campaign := h.campaign.ID
	return &paymentdomain.SettlementEvent{
		Provider:        "stripe",
		ProviderEventID: eventID,
		Type:            paymentdomain.EventTypeCheckoutCompleted,
		OrgID:           h.org.ID,
		ContactID:       h.contact.ID,
		CampaignID:      &campaign,
		FundRestriction: "general",
		TransactionID:   ref,
		Amount:          amount,
		ApplicationFee:  amount / 50,
		Currency:        "usd",
		OccurredAt:      testStart,
	}
}

func (h *harness) subscriptionCheckout(eventID, subscription, invoice string, amount int64) *paymentdomain.SettlementEvent {
	event := h.checkout(eventID, invoice, amount)
	event.Recurring = true
	event.SubscriptionID = subscription
	event.InvoiceID = invoice
	return event
}

func invoicePaid(eventID, subscription, invoice string, amount int64) *paymentdomain.SettlementEvent {
	return &paymentdomain.SettlementEvent{
		Provider:        "stripe",
		ProviderEventID: eventID,
		Type:            paymentdomain.EventTypeInvoicePaid,
		TransactionID:   invoice,
		InvoiceID:       invoice,
		SubscriptionID:  subscription,
		Recurring:       true,
		Amount:          amount,
		Currency:        "usd",
		OccurredAt:      testStart,
	}
}

func (h *harness) donations(t *testing.T) []donationdomain.Donation {
	t.Helper()
	var items []donationdomain.Donation
	require.NoError(t, h.db.Order("created_at, id").Find(&items).Error)
	return items
}

func (h *harness) raised(t *testing.T) int64 {
	t.Helper()
	c, err := orgrepo.Provide().FindCampaign(context.Background(), h.db, h.org.ID, h.campaign.ID)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c.Raised
}

func (h *harness) series(t *testing.T, subscription string) *donationdomain.RecurringDonation {
	t.Helper()
	s, err := donationrepo.Provide().FindRecurringBySubscription(context.Background(), h.db, subscription)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestCheckoutRedeliveryRecordsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	event := h.checkout("evt_1", "pi_1", 5000)
	require.NoError(t, h.svc.Process(ctx, event))

	items := h.donations(t)
	require.Len(t, items, 1)
	d := items[0]
	assert.Equal(t, donationdomain.StatusCompleted, d.Status)
	assert.Equal(t, donationdomain.ChannelWebhook, d.Channel)
	assert.Equal(t, donationdomain.TypeOneTime, d.Type)
	assert.Equal(t, fraud.ReviewApproved, d.ReviewStatus)
	assert.Equal(t, 0, d.FraudScore)
	assert.Equal(t, []string{fraud.TagProcessorCleared}, []string(d.FraudFlags))
	assert.Equal(t, int64(100), d.ApplicationFee)
	assert.Equal(t, "USD", d.Currency)
	assert.Regexp(t, `^RIVE-20250603-[0-9A-Z]{6}$`, d.ReceiptNumber)
	require.NotNil(t, d.TransactionID)
	assert.Equal(t, "pi_1", *d.TransactionID)
	assert.Equal(t, int64(5000), h.raised(t))

	// Same event delivered again.
	err := h.svc.Process(ctx, h.checkout("evt_1", "pi_1", 5000))
	assert.ErrorIs(t, err, paymentdomain.ErrEventAlreadyProcessed)

	// A fresh event id for an already settled payment.
	require.NoError(t, h.svc.Process(ctx, h.checkout("evt_2", "pi_1", 5000)))

	assert.Len(t, h.donations(t), 1)
	assert.Equal(t, int64(5000), h.raised(t))

	var processed int64
	require.NoError(t, h.db.Model(&paymentdomain.EventRecord{}).Where("processed_at IS NOT NULL").Count(&processed).Error)
	assert.Equal(t, int64(2), processed)
}

func TestConcurrentDeliveriesRecordOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			eventID := "evt_race_" + string(rune('a'+i))
			errs[i] = h.svc.Process(ctx, h.checkout(eventID, "pi_race", 2000))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, h.donations(t), 1)
	assert.Equal(t, int64(2000), h.raised(t))
}

func TestSubscriptionLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.Process(ctx, h.subscriptionCheckout("evt_cs", "sub_1", "in_1", 2500)))
	series := h.series(t, "sub_1")
	assert.Equal(t, donationdomain.RecurringStatusActive, series.Status)
	assert.Equal(t, string(donationdomain.TypeMonthly), series.BillingInterval)

	// The first invoice converges with the checkout that produced it.
	require.NoError(t, h.svc.Process(ctx, invoicePaid("evt_in_1", "sub_1", "in_1", 2500)))
	require.Len(t, h.donations(t), 1)

	require.NoError(t, h.svc.Process(ctx, invoicePaid("evt_in_2", "sub_1", "in_2", 2500)))
	items := h.donations(t)
	require.Len(t, items, 2)
	for _, d := range items {
		require.NotNil(t, d.RecurringDonationID)
		assert.Equal(t, series.ID, *d.RecurringDonationID)
		assert.Equal(t, donationdomain.TypeMonthly, d.Type)
		require.NotNil(t, d.CampaignID)
		assert.Equal(t, h.campaign.ID, *d.CampaignID)
		assert.Equal(t, "general", d.FundRestriction)
	}
	assert.Equal(t, int64(5000), h.raised(t))

	cancel := &paymentdomain.SettlementEvent{
		Provider:        "stripe",
		ProviderEventID: "evt_del",
		Type:            paymentdomain.EventTypeSubscriptionDeleted,
		SubscriptionID:  "sub_1",
		OccurredAt:      testStart.Add(time.Hour),
	}
	require.NoError(t, h.svc.Process(ctx, cancel))
	series = h.series(t, "sub_1")
	assert.Equal(t, donationdomain.RecurringStatusCancelled, series.Status)
	require.NotNil(t, series.CancelledAt)

	again := *cancel
	again.ProviderEventID = "evt_del_2"
	require.NoError(t, h.svc.Process(ctx, &again))
	assert.Equal(t, donationdomain.RecurringStatusCancelled, h.series(t, "sub_1").Status)
}

func TestInvoiceBeforeCheckout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	invoice := invoicePaid("evt_in", "sub_2", "in_9", 1500)
	invoice.OrgID = h.org.ID
	invoice.ContactID = h.contact.ID
	invoice.Interval = "quarterly"
	require.NoError(t, h.svc.Process(ctx, invoice))

	require.NoError(t, h.svc.Process(ctx, h.subscriptionCheckout("evt_cs", "sub_2", "in_9", 1500)))

	items := h.donations(t)
	require.Len(t, items, 1)
	assert.Equal(t, donationdomain.TypeQuarterly, items[0].Type)
	assert.Equal(t, string(donationdomain.TypeQuarterly), h.series(t, "sub_2").BillingInterval)
}

func TestInvoiceWithoutSeriesIsRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.svc.Process(ctx, invoicePaid("evt_in", "sub_3", "in_20", 1000))
	require.ErrorIs(t, err, paymentdomain.ErrSeriesNotFound)
	assert.Empty(t, h.donations(t))

	stored, err := paymentrepo.Provide().FindEvent(ctx, h.db, "stripe", "evt_in")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.ProcessedAt)

	require.NoError(t, h.svc.Process(ctx, h.subscriptionCheckout("evt_cs", "sub_3", "in_19", 1000)))
	require.NoError(t, h.svc.Process(ctx, invoicePaid("evt_in", "sub_3", "in_20", 1000)))
	assert.Len(t, h.donations(t), 2)
}

func TestCancellationBeforeCheckoutStaysCancelled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.Process(ctx, &paymentdomain.SettlementEvent{
		Provider:        "stripe",
		ProviderEventID: "evt_del",
		Type:            paymentdomain.EventTypeSubscriptionDeleted,
		SubscriptionID:  "sub_4",
		OrgID:           h.org.ID,
		ContactID:       h.contact.ID,
		OccurredAt:      testStart,
	}))
	require.NoError(t, h.svc.Process(ctx, h.subscriptionCheckout("evt_cs", "sub_4", "in_30", 3000)))

	assert.Equal(t, donationdomain.RecurringStatusCancelled, h.series(t, "sub_4").Status)
	assert.Len(t, h.donations(t), 1)
}

func TestRefundReversesCampaignOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.Process(ctx, h.checkout("evt_cs", "pi_5", 4000)))
	require.Equal(t, int64(4000), h.raised(t))

	refund := func(eventID string) *paymentdomain.SettlementEvent {
		return &paymentdomain.SettlementEvent{
			Provider:        "stripe",
			ProviderEventID: eventID,
			Type:            paymentdomain.EventTypeChargeRefunded,
			TransactionID:   "pi_5",
			Amount:          4000,
			Currency:        "usd",
			OccurredAt:      testStart.Add(time.Hour),
		}
	}
	require.NoError(t, h.svc.Process(ctx, refund("evt_rf_1")))
	require.NoError(t, h.svc.Process(ctx, refund("evt_rf_2")))

	items := h.donations(t)
	require.Len(t, items, 1)
	assert.Equal(t, donationdomain.StatusRefunded, items[0].Status)
	assert.Equal(t, int64(0), h.raised(t))

	unknown := refund("evt_rf_3")
	unknown.TransactionID = "pi_unknown"
	require.NoError(t, h.svc.Process(ctx, unknown))
}

func TestRefundMatchesInvoiceReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.Process(ctx, h.subscriptionCheckout("evt_cs", "sub_6", "in_60", 2000)))
	require.NoError(t, h.svc.Process(ctx, &paymentdomain.SettlementEvent{
		Provider:        "stripe",
		ProviderEventID: "evt_rf",
		Type:            paymentdomain.EventTypeChargeRefunded,
		TransactionID:   "pi_for_invoice",
		InvoiceID:       "in_60",
		Amount:          2000,
		Currency:        "usd",
		OccurredAt:      testStart,
	}))
	assert.Equal(t, donationdomain.StatusRefunded, h.donations(t)[0].Status)
	assert.Equal(t, int64(0), h.raised(t))
}

func TestRejectsContactFromAnotherOrganization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stranger := &contactdomain.Contact{ID: h.node.Generate(), OrgID: snowflake.ID(42), Name: "Mallory", Email: "mallory@example.org", CreatedAt: testStart, UpdatedAt: testStart}
	require.NoError(t, contactrepo.Provide().Insert(ctx, h.db, stranger))

	event := h.checkout("evt_x", "pi_x", 1000)
	event.ContactID = stranger.ID
	assert.ErrorIs(t, h.svc.Process(ctx, event), paymentdomain.ErrInvalidEvent)
	assert.Empty(t, h.donations(t))
	assert.Equal(t, int64(0), h.raised(t))
}

func TestUnknownCampaignIsDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	event := h.checkout("evt_c", "pi_c", 1000)
	missing := h.node.Generate()
	event.CampaignID = &missing
	require.NoError(t, h.svc.Process(ctx, event))

	items := h.donations(t)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].CampaignID)
}

func TestValidateEvent(t *testing.T) {
	cases := []struct {
		name  string
		event *paymentdomain.SettlementEvent
		want  error
	}{
		{"nil", nil, paymentdomain.ErrInvalidEvent},
		{"no provider", &paymentdomain.SettlementEvent{ProviderEventID: "evt", Type: paymentdomain.EventTypeChargeRefunded, OccurredAt: testStart}, paymentdomain.ErrInvalidProvider},
		{"no amount", &paymentdomain.SettlementEvent{Provider: "stripe", ProviderEventID: "evt", Type: paymentdomain.EventTypeCheckoutCompleted, TransactionID: "pi", OrgID: 1, ContactID: 2, Currency: "usd", OccurredAt: testStart}, paymentdomain.ErrInvalidAmount},
		{"bad currency", &paymentdomain.SettlementEvent{Provider: "stripe", ProviderEventID: "evt", Type: paymentdomain.EventTypeCheckoutCompleted, TransactionID: "pi", OrgID: 1, ContactID: 2, Amount: 10, Currency: "dollars", OccurredAt: testStart}, paymentdomain.ErrInvalidCurrency},
		{"checkout without tenant", &paymentdomain.SettlementEvent{Provider: "stripe", ProviderEventID: "evt", Type: paymentdomain.EventTypeCheckoutCompleted, TransactionID: "pi", Amount: 10, Currency: "usd", OccurredAt: testStart}, paymentdomain.ErrInvalidEvent},
		{"refund without reference", &paymentdomain.SettlementEvent{Provider: "stripe", ProviderEventID: "evt", Type: paymentdomain.EventTypeChargeRefunded, OccurredAt: testStart}, paymentdomain.ErrInvalidEvent},
		{"unknown type", &paymentdomain.SettlementEvent{Provider: "stripe", ProviderEventID: "evt", Type: "payout.paid", OccurredAt: testStart}, paymentdomain.ErrInvalidEvent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, validateEvent(tc.event), tc.want)
		})
	}
}
