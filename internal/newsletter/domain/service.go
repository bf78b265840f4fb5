package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/donorflow/internal/ratelimit"
)

type SubscribeRequest struct {
	Email          string
	Source         string
	CaptchaToken   string
	CallerIdentity string
	RemoteIP       string
	UserAgent      string
	Referrer       string
}

type SubscribeResult struct {
	Message  string              `json:"message"`
	Decision *ratelimit.Decision `json:"-"`
}

type Service interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (SubscribeResult, error)
	Confirm(ctx context.Context, token string) (Subscriber, error)
	Unsubscribe(ctx context.Context, token string) (Subscriber, error)
}

var (
	ErrInvalidEmail  = errors.New("invalid_email")
	ErrInvalidSource = errors.New("invalid_source")
	ErrInvalidToken  = errors.New("invalid_token")
	ErrCaptchaFailed = errors.New("captcha_failed")
)
