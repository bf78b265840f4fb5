package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/donorflow/internal/captcha"
	mock_captcha "github.com/smallbiznis/donorflow/internal/captcha/mock"
	"github.com/smallbiznis/donorflow/internal/clock"
	"github.com/smallbiznis/donorflow/internal/config"
	"github.com/smallbiznis/donorflow/internal/newsletter/domain"
	"github.com/smallbiznis/donorflow/internal/newsletter/repository"
	"github.com/smallbiznis/donorflow/internal/providers/email"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
	"github.com/smallbiznis/donorflow/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testStart = time.Date(2025, 4, 14, 8, 0, 0, 0, time.UTC)

type sentMail struct {
	to      []string
	subject string
	body    string
}

type outbox struct {
	email.DiscardProvider
	sent []sentMail
	err  error
}

func (o *outbox) Send(_ context.Context, to []string, subject, body string) error {
	o.sent = append(o.sent, sentMail{to: to, subject: subject, body: body})
	return o.err
}

type harness struct {
	svc    *Service
	db     *gorm.DB
	clock  *clock.FakeClock
	outbox *outbox
}

func newHarness(t *testing.T, verifier captcha.Verifier) *harness {
	t.Helper()
	conn := dbtest.New(t, &domain.Subscriber{}, &ratelimit.RateWindowCounter{})
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testStart)
	log := zap.NewNop()
	box := &outbox{}

	var cfg config.Config
	cfg.Newsletter = config.NewsletterConfig{
		ConfirmURL:     "https://donorflow.example/newsletter/confirm",
		UnsubscribeURL: "https://donorflow.example/newsletter/unsubscribe",
	}

	limiter := ratelimit.NewLimiter(ratelimit.NewSQLStore(conn, clk), []ratelimit.Policy{
		{Name: config.PolicyNewsletter, MaxRequests: 3, Window: 15 * time.Minute},
	}, clk, log)

	svc := New(Params{
		DB:      conn,
		Log:     log,
		GenID:   node,
		Config:  cfg,
		Clock:   clk,
		Repo:    repository.Provide(),
		Limiter: limiter,
		Captcha: verifier,
		Email:   box,
	}).(*Service)
	return &harness{svc: svc, db: conn, clock: clk, outbox: box}
}

func (h *harness) stored(t *testing.T, addr string) *domain.Subscriber {
	t.Helper()
	sub, err := repository.Provide().FindByEmail(context.Background(), h.db, addr)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return sub
}

func signup(addr string) domain.SubscribeRequest {
	return domain.SubscribeRequest{
		Email:          addr,
		CallerIdentity: ratelimit.IPIdentity("198.51.100.7"),
		RemoteIP:       "198.51.100.7",
		UserAgent:      "Mozilla/5.0",
	}
}

func TestSubscribeRecordsPendingAndMailsConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.svc.Subscribe(ctx, signup("  Ada@Example.org "))
	require.NoError(t, err)
	assert.Contains(t, res.Message, "check your email")
	require.NotNil(t, res.Decision)
	assert.Equal(t, config.PolicyNewsletter, res.Decision.Policy)

	sub := h.stored(t, "ada@example.org")
	assert.Equal(t, domain.StatusPending, sub.Status)
	assert.Equal(t, "landing_page", sub.Source)
	assert.Equal(t, "198.51.100.7", sub.IPAddress)
	assert.Len(t, sub.VerificationToken, 64)
	assert.NotEqual(t, sub.VerificationToken, sub.UnsubscribeToken)

	require.Len(t, h.outbox.sent, 1)
	assert.Equal(t, []string{"ada@example.org"}, h.outbox.sent[0].to)
	assert.Contains(t, h.outbox.sent[0].body, "token="+sub.VerificationToken)
	assert.Contains(t, h.outbox.sent[0].body, "token="+sub.UnsubscribeToken)
}

func TestSubscribeConfirmAndUnsubscribe(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.Subscribe(ctx, signup("grace@example.org"))
	require.NoError(t, err)
	pending := h.stored(t, "grace@example.org")

	h.clock.Advance(time.Hour)
	confirmed, err := h.svc.Confirm(ctx, pending.VerificationToken)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, confirmed.Status)
	require.NotNil(t, confirmed.VerifiedAt)

	// A second signup for an active address changes nothing and sends nothing.
	res, err := h.svc.Subscribe(ctx, signup("grace@example.org"))
	require.NoError(t, err)
	assert.Equal(t, "Thank you for subscribing!", res.Message)
	assert.Len(t, h.outbox.sent, 1)
	assert.Equal(t, pending.VerificationToken, h.stored(t, "grace@example.org").VerificationToken)

	gone, err := h.svc.Unsubscribe(ctx, pending.UnsubscribeToken)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnsubscribed, gone.Status)

	// Signing up again after leaving issues fresh tokens.
	_, err = h.svc.Subscribe(ctx, signup("grace@example.org"))
	require.NoError(t, err)
	again := h.stored(t, "grace@example.org")
	assert.Equal(t, domain.StatusPending, again.Status)
	assert.NotEqual(t, pending.VerificationToken, again.VerificationToken)
	assert.Equal(t, pending.ID, again.ID)
}

func TestSubscribeValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for _, addr := range []string{"", "not-an-email", "@example.org", "ada@", "ada@localhost", "a b@example.org"} {
		_, err := h.svc.Subscribe(ctx, signup(addr))
		if !errors.Is(err, domain.ErrInvalidEmail) {
			t.Fatalf("%q: expected invalid email, got %v", addr, err)
		}
	}

	req := signup("ada@example.org")
	req.Source = strings.Repeat("x", 65)
	_, err := h.svc.Subscribe(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidSource)
}

func TestSubscribeIsRateLimitedPerCaller(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.svc.Subscribe(ctx, signup("not-an-email"))
		require.ErrorIs(t, err, domain.ErrInvalidEmail)
	}
	res, err := h.svc.Subscribe(ctx, signup("ada@example.org"))
	var denied *ratelimit.DeniedError
	require.True(t, errors.As(err, &denied), "expected denial, got %v", err)
	require.NotNil(t, res.Decision)
	assert.False(t, res.Decision.Allowed)

	other := signup("ada@example.org")
	other.CallerIdentity = ratelimit.IPIdentity("203.0.113.1")
	_, err = h.svc.Subscribe(ctx, other)
	require.NoError(t, err)
}

func TestSubscribeCaptcha(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := mock_captcha.NewMockVerifier(ctrl)
	h := newHarness(t, verifier)
	ctx := context.Background()

	// No token, no check.
	_, err := h.svc.Subscribe(ctx, signup("one@example.org"))
	require.NoError(t, err)

	req := signup("two@example.org")
	req.CaptchaToken = "bad"
	verifier.EXPECT().Verify(gomock.Any(), "bad", "198.51.100.7").Return(false, nil)
	_, err = h.svc.Subscribe(ctx, req)
	assert.ErrorIs(t, err, domain.ErrCaptchaFailed)

	req.CaptchaToken = "unconfigured"
	verifier.EXPECT().Verify(gomock.Any(), "unconfigured", "198.51.100.7").Return(false, captcha.ErrNotConfigured)
	_, err = h.svc.Subscribe(ctx, req)
	require.NoError(t, err)
}

func TestConfirmUnknownToken(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.Confirm(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	_, err = h.svc.Unsubscribe(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestSubscribeSurvivesMailFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.outbox.err = errors.New("smtp down")

	_, err := h.svc.Subscribe(context.Background(), signup("ada@example.org"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, h.stored(t, "ada@example.org").Status)
}
