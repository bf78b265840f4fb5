package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/donorflow/internal/captcha"
	mock_captcha "github.com/smallbiznis/donorflow/internal/captcha/mock"
	"github.com/smallbiznis/donorflow/internal/clock"
	"github.com/smallbiznis/donorflow/internal/config"
	contactdomain "github.com/smallbiznis/donorflow/internal/contact/domain"
	contactrepo "github.com/smallbiznis/donorflow/internal/contact/repository"
	contactservice "github.com/smallbiznis/donorflow/internal/contact/service"
	"github.com/smallbiznis/donorflow/internal/donation/domain"
	"github.com/smallbiznis/donorflow/internal/donation/repository"
	fraud "github.com/smallbiznis/donorflow/internal/fraud/domain"
	fraudrepo "github.com/smallbiznis/donorflow/internal/fraud/repository"
	"github.com/smallbiznis/donorflow/internal/fraud/scorer"
	"github.com/smallbiznis/donorflow/internal/idempotency"
	"github.com/smallbiznis/donorflow/internal/notification"
	"github.com/smallbiznis/donorflow/internal/orgcontext"
	orgdomain "github.com/smallbiznis/donorflow/internal/organization/domain"
	orgrepo "github.com/smallbiznis/donorflow/internal/organization/repository"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
	"github.com/smallbiznis/donorflow/pkg/db/dbtest"
	"github.com/smallbiznis/donorflow/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testStart = time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)

type setup struct {
	cfg      config.Config
	policy   config.FraudPolicy
	limits   []ratelimit.Policy
	captcha  captcha.Verifier
	notifier *notification.Notifier
}

type harness struct {
	svc      *Service
	db       *gorm.DB
	clock    *clock.FakeClock
	org      *orgdomain.Organization
	contact  contactdomain.Contact
	campaign *orgdomain.Campaign
}

func newHarness(t *testing.T, opts ...func(*setup)) *harness {
	t.Helper()

	st := setup{
		cfg: config.Config{
			Donation: config.DonationConfig{
				MinimumAmount:   500,
				DefaultCurrency: "USD",
				RejectedPolicy:  config.RejectedPolicyAudit,
			},
			Captcha: config.CaptchaConfig{Required: true},
		},
		policy: config.DefaultFraudPolicy(),
		limits: []ratelimit.Policy{
			{Name: config.PolicyStaffDonation, MaxRequests: 100, Window: time.Minute},
			{Name: config.PolicyPublicDonation, MaxRequests: 10, Window: time.Hour},
		},
	}
	for _, opt := range opts {
		opt(&st)
	}

	conn := dbtest.New(t,
		&orgdomain.Organization{},
		&orgdomain.Campaign{},
		&contactdomain.Contact{},
		&domain.Donation{},
		&domain.RecurringDonation{},
		&ratelimit.RateWindowCounter{},
	)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testStart)
	log := zap.NewNop()

	orgs := orgrepo.Provide()
	contacts := contactservice.New(contactservice.Params{DB: conn, Log: log, GenID: node, Repo: contactrepo.Provide()})

	svc := New(Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Config:   st.cfg,
		Clock:    clk,
		Repo:     repository.Provide(),
		Orgs:     orgs,
		Contacts: contacts,
		Limiter:  ratelimit.NewLimiter(ratelimit.NewSQLStore(conn, clk), st.limits, clk, log),
		Scorer:   scorer.NewScorer(fraudrepo.NewHistoryReader(conn), config.NewStaticFraudPolicy(st.policy), clk, log),
		Captcha:  st.captcha,
		Notifier: st.notifier,
	}).(*Service)

	ctx := context.Background()
	org := &orgdomain.Organization{ID: node.Generate(), Name: "Harbor Food Bank", Slug: "harbor-food-bank", PlanTier: "growth", CreatedAt: testStart, UpdatedAt: testStart}
	require.NoError(t, orgs.InsertOrganization(ctx, conn, org))
	campaign := &orgdomain.Campaign{ID: node.Generate(), OrgID: org.ID, Name: "Winter Appeal", Goal: 1_000_000, Currency: "USD", Status: orgdomain.CampaignStatusActive, CreatedAt: testStart, UpdatedAt: testStart}
	require.NoError(t, orgs.InsertCampaign(ctx, conn, campaign))
	contact, err := contacts.FindOrCreate(ctx, org.ID, contactdomain.CreateContactRequest{Name: "Ada Lovelace", Email: "ada@example.org"})
	require.NoError(t, err)

	return &harness{svc: svc, db: conn, clock: clk, org: org, contact: contact, campaign: campaign}
}

func (h *harness) staff(amount string) domain.SubmitRequest {
	return domain.SubmitRequest{
		Channel:   domain.ChannelStaff,
		OrgID:     h.org.ID,
		ContactID: h.contact.ID.String(),
		Amount:    amount,
		Method:    "card",
	}
}

func (h *harness) count(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&domain.Donation{}).Count(&n).Error)
	return n
}

func (h *harness) raised(t *testing.T) int64 {
	t.Helper()
	c, err := orgrepo.Provide().FindCampaign(context.Background(), h.db, h.org.ID, h.campaign.ID)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c.Raised
}

func TestSubmitNewDonorIsApprovedAndReplayable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := h.staff("50.00")
	req.IdempotencyKey = "form-7f3a"

	adm, err := h.svc.Submit(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, adm.Donation)
	require.NotNil(t, adm.Assessment)
	require.NotNil(t, adm.Decision)

	assert.False(t, adm.Replayed)
	assert.LessOrEqual(t, adm.Assessment.Score, 10)
	assert.Equal(t, fraud.ReviewApproved, adm.Assessment.ReviewStatus)
	assert.ElementsMatch(t, []string{fraud.TagNewDonor, fraud.TagCardMethod}, adm.Assessment.Flags)
	assert.Equal(t, int64(5000), adm.Donation.Amount)
	assert.Equal(t, domain.StatusCompleted, adm.Donation.Status)
	assert.Regexp(t, `^HARB-20250602-[0-9A-Z]{6}$`, adm.Donation.ReceiptNumber)
	assert.True(t, adm.Decision.Allowed)

	again, err := h.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, adm.Donation.ID, again.Donation.ID)
	assert.Equal(t, adm.Assessment.Score, again.Assessment.Score)
	assert.Equal(t, int64(1), h.count(t))
}

func TestSubmitRepeatedSmallGiftsTripVelocityAndDuplicate(t *testing.T) {
	h := newHarness(t, func(s *setup) {
		s.policy.ReviewThreshold = 30
	})
	ctx := context.Background()

	var last domain.Admission
	for i := 0; i < 4; i++ {
		adm, err := h.svc.Submit(ctx, h.staff("20.00"))
		require.NoError(t, err, "submission %d", i+1)
		last = adm
		h.clock.Advance(time.Minute)
	}

	require.NotNil(t, last.Assessment)
	assert.Contains(t, last.Assessment.Flags, fraud.TagHighVelocity)
	assert.Contains(t, last.Assessment.Flags, fraud.TagDuplicateAmount)
	assert.Equal(t, 35, last.Assessment.Score)
	assert.Equal(t, fraud.ReviewPendingReview, last.Assessment.ReviewStatus)
	assert.Equal(t, domain.StatusPending, last.Donation.Status)
	assert.Equal(t, int64(4), h.count(t))

	ctx = orgcontext.WithOrgID(ctx, h.org.ID)
	queue, err := h.svc.ListPendingReview(ctx, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, last.Donation.ID, queue[0].ID)
}

func TestSubmitRejectedVerdictPolicies(t *testing.T) {
	strict := func(s *setup) {
		s.policy.ReviewThreshold = 5
		s.policy.RejectThreshold = 10
	}

	t.Run("audit keeps a failed row", func(t *testing.T) {
		h := newHarness(t, strict)
		req := h.staff("50.00")
		req.CampaignID = h.campaign.ID.String()

		adm, err := h.svc.Submit(context.Background(), req)
		var highRisk *fraud.HighRiskError
		require.ErrorAs(t, err, &highRisk)
		assert.Equal(t, 10, highRisk.Assessment.Score)
		require.NotNil(t, adm.Donation)
		assert.Equal(t, domain.StatusFailed, adm.Donation.Status)
		assert.Equal(t, fraud.ReviewRejected, adm.Donation.ReviewStatus)
		assert.Equal(t, int64(1), h.count(t))
		assert.Equal(t, int64(0), h.raised(t))
	})

	t.Run("refuse persists nothing", func(t *testing.T) {
		h := newHarness(t, strict, func(s *setup) {
			s.cfg.Donation.RejectedPolicy = config.RejectedPolicyRefuse
		})

		adm, err := h.svc.Submit(context.Background(), h.staff("50.00"))
		var highRisk *fraud.HighRiskError
		require.ErrorAs(t, err, &highRisk)
		assert.Nil(t, adm.Donation)
		assert.Equal(t, int64(0), h.count(t))
	})
}

func TestSubmitIncrementsCampaignOnlyWhenCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := h.staff("75.00")
	req.CampaignID = h.campaign.ID.String()
	_, err := h.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), h.raised(t))

	req = h.staff("30.00")
	req.CampaignID = h.campaign.ID.String()
	req.Status = "pending"
	_, err = h.svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), h.raised(t))
}

func TestSubmitRateLimitRunsBeforeValidation(t *testing.T) {
	h := newHarness(t, func(s *setup) {
		s.limits = []ratelimit.Policy{{Name: config.PolicyStaffDonation, MaxRequests: 1, Window: time.Minute}}
	})
	ctx := context.Background()

	_, err := h.svc.Submit(ctx, h.staff("not-money"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	adm, err := h.svc.Submit(ctx, h.staff("50.00"))
	var denied *ratelimit.DeniedError
	require.ErrorAs(t, err, &denied)
	require.NotNil(t, adm.Decision)
	assert.False(t, adm.Decision.Allowed)
	assert.Equal(t, time.Minute, adm.Decision.RetryAfter)
	assert.Nil(t, adm.Assessment)
	assert.Equal(t, int64(0), h.count(t))
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*domain.SubmitRequest)
		want   error
	}{
		{"negative amount", func(r *domain.SubmitRequest) { r.Amount = "-5" }, domain.ErrInvalidAmount},
		{"sub-cent amount", func(r *domain.SubmitRequest) { r.Amount = "10.005" }, domain.ErrInvalidAmount},
		{"below minimum", func(r *domain.SubmitRequest) { r.Amount = "4.99" }, domain.ErrBelowMinimum},
		{"unknown method", func(r *domain.SubmitRequest) { r.Method = "barter" }, domain.ErrInvalidMethod},
		{"unknown type", func(r *domain.SubmitRequest) { r.Type = "weekly" }, domain.ErrInvalidType},
		{"refunded status", func(r *domain.SubmitRequest) { r.Status = "refunded" }, domain.ErrInvalidStatus},
		{"bad currency", func(r *domain.SubmitRequest) { r.Currency = "dollars" }, domain.ErrInvalidCurrency},
		{"bad campaign", func(r *domain.SubmitRequest) { r.CampaignID = "x1" }, domain.ErrInvalidCampaign},
		{"future date", func(r *domain.SubmitRequest) {
			future := testStart.Add(72 * time.Hour)
			r.DonatedAt = &future
		}, domain.ErrInvalidDonatedAt},
		{"no contact", func(r *domain.SubmitRequest) { r.ContactID = "" }, domain.ErrMissingContact},
		{"unknown campaign", func(r *domain.SubmitRequest) { r.CampaignID = "42" }, orgdomain.ErrCampaignNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := h.staff("25.00")
			tc.mutate(&req)
			_, err := h.svc.Submit(ctx, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, int64(0), h.count(t))
}

func TestSubmitRejectsCrossTenantContact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	other := &orgdomain.Organization{ID: snowflake.ID(777), Name: "Other", Slug: "other", CreatedAt: testStart, UpdatedAt: testStart}
	require.NoError(t, orgrepo.Provide().InsertOrganization(ctx, h.db, other))

	req := h.staff("25.00")
	req.OrgID = other.ID
	_, err := h.svc.Submit(ctx, req)
	assert.ErrorIs(t, err, contactdomain.ErrCrossTenant)
	assert.Equal(t, int64(0), h.count(t))
}

func TestSubmitIdempotencyKeyReuseWithDifferentPayload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := h.staff("25.00")
	req.IdempotencyKey = "retry-1"
	_, err := h.svc.Submit(ctx, req)
	require.NoError(t, err)

	req.Amount = "26.00"
	_, err = h.svc.Submit(ctx, req)
	assert.ErrorIs(t, err, idempotency.ErrConflict)
	assert.Equal(t, int64(1), h.count(t))
}

func TestSubmitConcurrentSameKeyPersistsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := h.staff("40.00")
	req.IdempotencyKey = "double-click"

	const callers = 8
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[snowflake.ID]int{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adm, err := h.svc.Submit(ctx, req)
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			mu.Lock()
			ids[adm.Donation.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, int64(1), h.count(t))
}

func TestSubmitDuplicateTransactionReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := h.staff("25.00")
	req.TransactionID = "chk_1001"
	_, err := h.svc.Submit(ctx, req)
	require.NoError(t, err)

	_, err = h.svc.Submit(ctx, req)
	assert.ErrorIs(t, err, domain.ErrDuplicateTransaction)
}

func TestSubmitPublicCaptcha(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := mock_captcha.NewMockVerifier(ctrl)
	h := newHarness(t, func(s *setup) { s.captcha = verifier })
	ctx := context.Background()

	public := domain.SubmitRequest{
		Channel:  domain.ChannelPublic,
		OrgID:    h.org.ID,
		RemoteIP: "203.0.113.9",
		Donor:    &domain.Donor{Name: "Grace Hopper", Email: "grace@example.org"},
		Amount:   "15.00",
	}

	_, err := h.svc.Submit(ctx, public)
	assert.ErrorIs(t, err, domain.ErrCaptchaRequired)

	public.CaptchaToken = "bad"
	verifier.EXPECT().Verify(gomock.Any(), "bad", "203.0.113.9").Return(false, nil)
	_, err = h.svc.Submit(ctx, public)
	assert.ErrorIs(t, err, domain.ErrCaptchaFailed)

	public.CaptchaToken = "slow"
	verifier.EXPECT().Verify(gomock.Any(), "slow", "203.0.113.9").Return(false, context.DeadlineExceeded)
	_, err = h.svc.Submit(ctx, public)
	assert.ErrorIs(t, err, domain.ErrCaptchaUnavailable)

	public.CaptchaToken = "ok"
	verifier.EXPECT().Verify(gomock.Any(), "ok", "203.0.113.9").Return(true, nil)
	adm, err := h.svc.Submit(ctx, public)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelPublic, adm.Donation.Channel)
	assert.NotEqual(t, h.contact.ID, adm.Donation.ContactID)
	require.NotNil(t, adm.Decision)
	assert.Equal(t, config.PolicyPublicDonation, adm.Decision.Policy)
}

func TestSubmitPublicCannotClaimTransactionReference(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := mock_captcha.NewMockVerifier(ctrl)
	verifier.EXPECT().Verify(gomock.Any(), "ok", "203.0.113.9").Return(true, nil).AnyTimes()
	h := newHarness(t, func(s *setup) { s.captcha = verifier })
	ctx := context.Background()

	public := domain.SubmitRequest{
		Channel:       domain.ChannelPublic,
		OrgID:         h.org.ID,
		RemoteIP:      "203.0.113.9",
		CaptchaToken:  "ok",
		Donor:         &domain.Donor{Name: "Grace Hopper", Email: "grace@example.org"},
		Amount:        "15.00",
		TransactionID: "cs_live_settlement",
	}
	_, err := h.svc.Submit(ctx, public)
	assert.ErrorIs(t, err, domain.ErrInvalidTransaction)
	assert.Equal(t, int64(0), h.count(t))

	staff := h.staff("15.00")
	staff.TransactionID = "cs_live_settlement"
	adm, err := h.svc.Submit(ctx, staff)
	require.NoError(t, err)
	require.NotNil(t, adm.Donation.TransactionID)
	assert.Equal(t, "cs_live_settlement", *adm.Donation.TransactionID)
}

func TestSubmitPublicWithoutVerifierFailsClosed(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Submit(context.Background(), domain.SubmitRequest{
		Channel:      domain.ChannelPublic,
		OrgID:        h.org.ID,
		CaptchaToken: "tok",
		Donor:        &domain.Donor{Name: "Grace", Email: "grace@example.org"},
		Amount:       "15.00",
	})
	assert.ErrorIs(t, err, domain.ErrCaptchaUnavailable)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []notification.Message
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg notification.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	return d.err
}

func (d *recordingDispatcher) Backend() string { return "recording" }

func TestSubmitNotifiesWithoutFailingOnDispatchError(t *testing.T) {
	dispatcher := &recordingDispatcher{err: errors.New("smtp down")}
	notifier := notification.NewNotifier(dispatcher, time.Second, zap.NewNop(), nil)
	h := newHarness(t, func(s *setup) { s.notifier = notifier })

	req := h.staff("60.00")
	req.CampaignID = h.campaign.ID.String()
	adm, err := h.svc.Submit(context.Background(), req)
	require.NoError(t, err)
	notifier.Wait()

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	require.Len(t, dispatcher.msgs, 1)
	msg := dispatcher.msgs[0]
	assert.Equal(t, adm.Donation.ID.String(), msg.DonationID)
	assert.Equal(t, "ada@example.org", msg.DonorEmail)
	assert.Equal(t, "Winter Appeal", msg.CampaignName)
	assert.Equal(t, notification.KindDonationReceived, msg.Kind)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var ids []snowflake.ID
	for _, amount := range []string{"11.00", "12.00", "13.00"} {
		adm, err := h.svc.Submit(ctx, h.staff(amount))
		require.NoError(t, err)
		ids = append(ids, adm.Donation.ID)
		h.clock.Advance(10 * time.Minute)
	}

	ctx = orgcontext.WithOrgID(ctx, h.org.ID)
	first, err := h.svc.List(ctx, domain.ListRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.Donations, 2)
	assert.Equal(t, ids[2], first.Donations[0].ID)
	assert.Equal(t, ids[1], first.Donations[1].ID)
	require.True(t, first.PageInfo.HasMore)

	second, err := h.svc.List(ctx, domain.ListRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: first.PageInfo.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.Donations, 1)
	assert.Equal(t, ids[0], second.Donations[0].ID)
	assert.False(t, second.PageInfo.HasMore)

	got, err := h.svc.Get(ctx, ids[0].String())
	require.NoError(t, err)
	assert.Equal(t, int64(1100), got.Amount)

	_, err = h.svc.Get(orgcontext.WithOrgID(context.Background(), snowflake.ID(9)), ids[0].String())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.List(ctx, domain.ListRequest{Status: "lost"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"25":     2500,
		"25.5":   2550,
		"25.50":  2550,
		"0.01":   1,
		"1000.0": 100000,
	}
	for raw, want := range cases {
		got, err := ParseAmount(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"", "0", "-1", "abc", "1.001", "1e20"} {
		_, err := ParseAmount(raw)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, raw)
	}
}
