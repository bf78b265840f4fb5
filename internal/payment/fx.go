package payment

import (
	"github.com/smallbiznis/donorflow/internal/payment/adapters"
	"github.com/smallbiznis/donorflow/internal/payment/adapters/stripe"
	"github.com/smallbiznis/donorflow/internal/payment/reconciler"
	"github.com/smallbiznis/donorflow/internal/payment/repository"
	"github.com/smallbiznis/donorflow/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves processor webhooks and turns settled charges into
// donations.
var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(stripe.NewFactory())
	}),
	fx.Provide(reconciler.New),
	fx.Provide(webhook.NewService),
	fx.Invoke(func(r *adapters.Registry, log *zap.Logger) {
		log.Named("payment").Info("webhook processors registered", zap.Strings("providers", r.Providers()))
	}),
)
