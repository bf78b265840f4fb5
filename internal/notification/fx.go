package notification

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/donorflow/internal/config"
	obsmetrics "github.com/smallbiznis/donorflow/internal/observability/metrics"
	"github.com/smallbiznis/donorflow/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewDispatcher),
	fx.Provide(ProvideNotifier),
	fx.Invoke(registerNotifier),
)

// WorkerModule runs the queue consumer; only the worker binary includes it.
var WorkerModule = fx.Module("notification.worker",
	fx.Provide(ProvideWorker),
	fx.Invoke(registerWorker),
)

type DispatcherParams struct {
	fx.In

	Config config.Config
	Email  email.Provider
	Redis  redis.UniversalClient `optional:"true"`
	Log    *zap.Logger
}

func NewDispatcher(p DispatcherParams) Dispatcher {
	switch p.Config.Notification.Backend {
	case "redis":
		if p.Redis != nil {
			return NewRedisQueue(p.Redis, p.Config.Notification.Queue)
		}
		p.Log.Warn("notification backend redis requested without a redis client, using noop")
	case "email":
		return NewEmailDispatcher(p.Email)
	}
	return Noop{}
}

func ProvideNotifier(cfg config.Config, dispatcher Dispatcher, log *zap.Logger, metrics *obsmetrics.AdmissionMetrics) *Notifier {
	return NewNotifier(dispatcher, cfg.Notification.Timeout, log, metrics)
}

// registerNotifier lets in-flight thank-you dispatches finish at shutdown,
// up to the stop deadline.
func registerNotifier(lc fx.Lifecycle, n *Notifier, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := n.Drain(ctx); err != nil {
				log.Warn("notification dispatches abandoned at shutdown", zap.Error(err))
			}
			return nil
		},
	})
}

func ProvideWorker(cfg config.Config, client redis.UniversalClient, provider email.Provider, log *zap.Logger, metrics *obsmetrics.AdmissionMetrics) *Worker {
	return NewWorker(client, cfg.Notification.Queue, NewEmailDispatcher(provider), cfg.Notification.Timeout, log, metrics)
}

func registerWorker(lc fx.Lifecycle, w *Worker) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go w.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
