package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/donorflow/internal/clock"
	"github.com/smallbiznis/donorflow/internal/config"
	"github.com/smallbiznis/donorflow/internal/observability/logger"
	"github.com/smallbiznis/donorflow/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/donorflow/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Reconciler paymentdomain.Reconciler
	Adapters   *adapters.Registry
	Cfg        config.Config
	Clock      clock.Clock `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	reconciler paymentdomain.Reconciler
	adapters   *adapters.Registry
	secrets    map[string]paymentdomain.AdapterConfig
}

func NewService(p Params) paymentdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	now := func() time.Time { return clk.Now() }

	return &Service{
		log:        p.Log.Named("payment.webhook"),
		reconciler: p.Reconciler,
		adapters:   p.Adapters,
		secrets: map[string]paymentdomain.AdapterConfig{
			"stripe": {
				Provider:      "stripe",
				WebhookSecret: p.Cfg.Stripe.WebhookSecret,
				Tolerance:     p.Cfg.Stripe.WebhookTolerance,
				Now:           now,
			},
		},
	}
}

// IngestWebhook authenticates a processor callback before anything reads
// it. Ignored and already-processed events return nil so the processor
// stops redelivering them.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.Has(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	cfg, ok := s.secrets[provider]
	if !ok {
		return paymentdomain.ErrProviderNotConfigured
	}
	adapter, err := s.adapters.Adapter(provider, cfg)
	if err != nil {
		return err
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("provider", provider))

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		log.Warn("payment webhook rejected", zap.Error(err))
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			log.Debug("payment webhook ignored")
			return nil
		}
		log.Warn("payment webhook unparseable", zap.Error(err))
		return err
	}
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	err = s.reconciler.Process(ctx, event)
	if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
		return nil
	}
	return err
}
