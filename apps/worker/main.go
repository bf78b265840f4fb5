package main

import (
	"github.com/smallbiznis/donorflow/internal/cache"
	"github.com/smallbiznis/donorflow/internal/config"
	"github.com/smallbiznis/donorflow/internal/notification"
	"github.com/smallbiznis/donorflow/internal/observability"
	"github.com/smallbiznis/donorflow/internal/providers/email"
	"go.uber.org/fx"
)

// The worker drains the thank-you queue that the API fills when
// NOTIFY_BACKEND=redis.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		cache.Module,
		email.Module,
		notification.WorkerModule,
	)
	app.Run()
}
