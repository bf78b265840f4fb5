// Package captcha verifies challenge tokens against a Turnstile-compatible
// siteverify endpoint.
package captcha

//go:generate mockgen -destination=mock/mock_verifier.go -package=mock_captcha . Verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/donorflow/internal/config"
	"github.com/smallbiznis/donorflow/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Verifier reports whether a challenge token was solved. An error means the
// challenge service could not answer; callers fail closed on it.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

var ErrNotConfigured = errors.New("captcha_not_configured")

var Module = fx.Module("captcha",
	fx.Provide(New),
)

type HTTPVerifier struct {
	secret    string
	verifyURL string
	timeout   time.Duration
	client    *http.Client
	log       *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) Verifier {
	return NewHTTPVerifier(cfg.Captcha, tracing.WrapHTTPClient(&http.Client{}, "captcha"), log)
}

func NewHTTPVerifier(cfg config.CaptchaConfig, client *http.Client, log *zap.Logger) *HTTPVerifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPVerifier{
		secret:    cfg.Secret,
		verifyURL: cfg.VerifyURL,
		timeout:   timeout,
		client:    client,
		log:       log.Named("captcha"),
	}
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if v.secret == "" || v.verifyURL == "" {
		return false, ErrNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("captcha verify: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return false, fmt.Errorf("captcha verify: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return false, fmt.Errorf("captcha verify: status %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return false, fmt.Errorf("captcha verify: decode: %w", err)
	}
	if !out.Success {
		v.log.Debug("captcha rejected", zap.Strings("error_codes", out.ErrorCodes))
	}
	return out.Success, nil
}
