package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/clock"
	"github.com/smallbiznis/donorflow/internal/config"
	"github.com/smallbiznis/donorflow/internal/migration"
	"github.com/smallbiznis/donorflow/internal/observability"
	"github.com/smallbiznis/donorflow/internal/server"
	"github.com/smallbiznis/donorflow/pkg/db"
	"go.uber.org/fx"
)

// The single-binary build: migrations, the HTTP surface and every domain
// module in one process. The notification queue consumer runs in
// apps/worker.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

// RegisterSnowflake honors SNOWFLAKE_NODE and otherwise takes node 1.
func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	id := cfg.SnowflakeNode
	if id == 0 {
		id = 1
	}
	return snowflake.NewNode(id)
}
