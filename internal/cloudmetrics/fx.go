package cloudmetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/donorflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("cloud.metrics",
	fx.Provide(NewPusher),
	fx.Invoke(registerPushLoop),
)

type loopParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	DB        *gorm.DB
	Log       *zap.Logger
	Pusher    Pusher `optional:"true"`
}

func registerPushLoop(p loopParams) {
	if p.Pusher == nil {
		return
	}
	log := p.Log.Named("cloudmetrics")
	interval := p.Config.Cloud.Metrics.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	registry := prometheus.NewRegistry()
	collector := NewCollector(p.DB, registry)
	gatherer := ServiceGatherer(prometheus.Gatherers{registry, prometheus.DefaultGatherer})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting cloud metrics push loop", zap.Duration("interval", interval))
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					pushOnce(ctx, collector, p.Pusher, gatherer, log)
					select {
					case <-ticker.C:
					case <-ctx.Done():
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			if closer, ok := p.Pusher.(interface{ Close() error }); ok {
				return closer.Close()
			}
			return nil
		},
	})
}

func pushOnce(ctx context.Context, c *Collector, pusher Pusher, gatherer prometheus.Gatherer, log *zap.Logger) {
	pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()
	if err := c.Refresh(pushCtx); err != nil {
		log.Warn("refresh platform gauges failed", zap.Error(err))
	}
	if err := pusher.Push(pushCtx, gatherer); err != nil {
		log.Warn("cloud metrics push failed", zap.Error(err))
	}
}
