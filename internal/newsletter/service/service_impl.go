package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/captcha"
	"github.com/smallbiznis/donorflow/internal/clock"
	"github.com/smallbiznis/donorflow/internal/config"
	"github.com/smallbiznis/donorflow/internal/newsletter/domain"
	"github.com/smallbiznis/donorflow/internal/providers/email"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
	"github.com/smallbiznis/donorflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultSource = "landing_page"
	maxSource     = 64
	maxHeader     = 512

	msgSubscribed = "Thank you for subscribing!"
	msgConfirm    = "Thank you for subscribing! Please check your email to confirm."
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Config  config.Config
	Clock   clock.Clock
	Repo    domain.Repository
	Limiter *ratelimit.Limiter

	Captcha captcha.Verifier `optional:"true"`
	Email   email.Provider   `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	cfg     config.NewsletterConfig
	clock   clock.Clock
	repo    domain.Repository
	limiter *ratelimit.Limiter
	captcha captcha.Verifier
	email   email.Provider
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("newsletter.service"),
		genID:   p.GenID,
		cfg:     p.Config.Newsletter,
		clock:   clk,
		repo:    p.Repo,
		limiter: p.Limiter,
		captcha: p.Captcha,
		email:   p.Email,
	}
}

// Subscribe records a pending signup. An address that is already active gets
// the same answer as a new one.
func (s *Service) Subscribe(ctx context.Context, req domain.SubscribeRequest) (domain.SubscribeResult, error) {
	var res domain.SubscribeResult

	decision, err := s.limiter.Admit(ctx, config.PolicyNewsletter, req.CallerIdentity)
	if decision.Policy != "" {
		res.Decision = &decision
	}
	if err != nil {
		return res, err
	}

	addr, err := normalizeEmail(req.Email)
	if err != nil {
		return res, err
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = defaultSource
	}
	if len(source) > maxSource {
		return res, domain.ErrInvalidSource
	}

	if err := s.checkCaptcha(ctx, req); err != nil {
		return res, err
	}

	existing, err := s.repo.FindByEmail(ctx, s.db, addr)
	if err != nil {
		return res, err
	}
	if existing != nil && existing.Status == domain.StatusActive {
		res.Message = msgSubscribed
		return res, nil
	}

	verification, err := newToken()
	if err != nil {
		return res, err
	}
	unsubscribe, err := newToken()
	if err != nil {
		return res, err
	}

	now := s.clock.Now()
	sub := domain.Subscriber{
		Email:             addr,
		Source:            source,
		Status:            domain.StatusPending,
		VerificationToken: verification,
		UnsubscribeToken:  unsubscribe,
		IPAddress:         truncate(req.RemoteIP),
		UserAgent:         truncate(req.UserAgent),
		Referrer:          truncate(req.Referrer),
		UpdatedAt:         now,
	}

	if existing != nil {
		sub.ID = existing.ID
		err = s.repo.Resubscribe(ctx, s.db, &sub)
	} else {
		sub.ID = s.genID.Generate()
		sub.CreatedAt = now
		err = s.repo.Insert(ctx, s.db, &sub)
		if err != nil && db.IsUniqueViolation(err) {
			// A concurrent signup for the same address already holds the row.
			res.Message = msgConfirm
			return res, nil
		}
	}
	if err != nil {
		return res, err
	}

	s.log.Info("newsletter signup",
		zap.String("subscriber_id", sub.ID.String()),
		zap.String("source", source),
		zap.Bool("returning", existing != nil),
	)
	s.sendConfirmation(ctx, sub)

	res.Message = msgConfirm
	return res, nil
}

func (s *Service) Confirm(ctx context.Context, token string) (domain.Subscriber, error) {
	sub, err := s.byToken(ctx, token, s.repo.FindByVerificationToken)
	if err != nil {
		return domain.Subscriber{}, err
	}
	if sub.Status == domain.StatusActive {
		return *sub, nil
	}
	now := s.clock.Now()
	if err := s.repo.SetStatus(ctx, s.db, sub.ID, domain.StatusActive, &now, now); err != nil {
		return domain.Subscriber{}, err
	}
	sub.Status = domain.StatusActive
	sub.VerifiedAt = &now
	sub.UpdatedAt = now
	return *sub, nil
}

func (s *Service) Unsubscribe(ctx context.Context, token string) (domain.Subscriber, error) {
	sub, err := s.byToken(ctx, token, s.repo.FindByUnsubscribeToken)
	if err != nil {
		return domain.Subscriber{}, err
	}
	if sub.Status == domain.StatusUnsubscribed {
		return *sub, nil
	}
	now := s.clock.Now()
	if err := s.repo.SetStatus(ctx, s.db, sub.ID, domain.StatusUnsubscribed, nil, now); err != nil {
		return domain.Subscriber{}, err
	}
	sub.Status = domain.StatusUnsubscribed
	sub.UpdatedAt = now
	return *sub, nil
}

type tokenLookup func(ctx context.Context, db *gorm.DB, token string) (*domain.Subscriber, error)

func (s *Service) byToken(ctx context.Context, token string, find tokenLookup) (*domain.Subscriber, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrInvalidToken
	}
	sub, err := find(ctx, s.db, token)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrInvalidToken
	}
	return sub, nil
}

// checkCaptcha only runs when the form sent a token. A deployment without a
// captcha secret accepts signups unchecked.
func (s *Service) checkCaptcha(ctx context.Context, req domain.SubscribeRequest) error {
	token := strings.TrimSpace(req.CaptchaToken)
	if token == "" || s.captcha == nil {
		return nil
	}
	ok, err := s.captcha.Verify(ctx, token, req.RemoteIP)
	if errors.Is(err, captcha.ErrNotConfigured) {
		return nil
	}
	if err != nil {
		s.log.Warn("newsletter captcha verify failed", zap.Error(err))
		return domain.ErrCaptchaFailed
	}
	if !ok {
		return domain.ErrCaptchaFailed
	}
	return nil
}

// sendConfirmation never fails the signup.
func (s *Service) sendConfirmation(ctx context.Context, sub domain.Subscriber) {
	if s.email == nil || s.cfg.ConfirmURL == "" {
		return
	}
	confirm := withToken(s.cfg.ConfirmURL, sub.VerificationToken)
	body := fmt.Sprintf(`<p>Thank you for subscribing. Confirm your subscription:</p><p><a href="%s">Confirm subscription</a></p>`,
		html.EscapeString(confirm))
	if s.cfg.UnsubscribeURL != "" {
		body += fmt.Sprintf(`<p style="font-size:12px"><a href="%s">Unsubscribe</a></p>`,
			html.EscapeString(withToken(s.cfg.UnsubscribeURL, sub.UnsubscribeToken)))
	}
	if err := s.email.Send(ctx, []string{sub.Email}, "Confirm your newsletter subscription", body); err != nil {
		s.log.Warn("newsletter confirmation email failed",
			zap.String("subscriber_id", sub.ID.String()),
			zap.Error(err),
		)
	}
}

func withToken(base, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func normalizeEmail(raw string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(raw))
	at := strings.Index(addr, "@")
	if at <= 0 || at == len(addr)-1 || strings.ContainsAny(addr, " \t") || len(addr) > 320 {
		return "", domain.ErrInvalidEmail
	}
	if !strings.Contains(addr[at+1:], ".") {
		return "", domain.ErrInvalidEmail
	}
	return addr, nil
}

func truncate(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > maxHeader {
		return v[:maxHeader]
	}
	return v
}
