package ratelimit

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/donorflow/internal/clock"
	"github.com/smallbiznis/donorflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewCounterStore),
	fx.Provide(New),
	fx.Invoke(registerSweeper),
)

type StoreParams struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	Clock  clock.Clock
	Log    *zap.Logger
	Redis  redis.UniversalClient `optional:"true"`
}

// NewCounterStore selects the shared counter backend named by
// RATE_LIMIT_BACKEND.
func NewCounterStore(p StoreParams) (CounterStore, error) {
	backend := p.Config.RateLimit.Backend
	log := p.Log.Named("ratelimit")

	switch backend {
	case config.RateLimitBackendRedis, "":
		if p.Redis == nil {
			return nil, fmt.Errorf("rate limit backend %q requires a redis client", config.RateLimitBackendRedis)
		}
		log.Info("rate limit counters in redis")
		return NewRedisStore(p.Redis), nil
	case config.RateLimitBackendSQL:
		log.Info("rate limit counters in sql", zap.String("dialect", p.DB.Dialector.Name()))
		return NewSQLStore(p.DB, p.Clock), nil
	case config.RateLimitBackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(p.Config.Receipt.AWSRegion),
		)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		log.Info("rate limit counters in dynamodb", zap.String("table", p.Config.RateLimit.DynamoTable))
		return NewDynamoStore(dynamodb.NewFromConfig(awsCfg), p.Config.RateLimit.DynamoTable, p.Clock), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend %q", backend)
	}
}

func registerSweeper(lc fx.Lifecycle, cfg config.Config, store CounterStore, log *zap.Logger) {
	sqlStore, ok := store.(*SQLStore)
	if !ok {
		return
	}
	sweeper := NewSweeper(sqlStore, cfg.RateLimit.SweepInterval, log)

	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go sweeper.RunForever(ctx)
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
