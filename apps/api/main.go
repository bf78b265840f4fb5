package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/clock"
	"github.com/smallbiznis/donorflow/internal/config"
	"github.com/smallbiznis/donorflow/internal/observability"
	"github.com/smallbiznis/donorflow/internal/server"
	"github.com/smallbiznis/donorflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// defaultNode keeps API replicas clear of the single binary's node 1.
const defaultNode = 2

// The API-only deployment. Schema migrations are left to cmd/donorflow or a
// release job, so scaled replicas never race on them.
func main() {
	fx.New(
		config.Module,
		observability.Module,
		fx.Provide(newSnowflake),
		db.Module,
		clock.Module,
		server.Module,
	).Run()
}

func newSnowflake(cfg config.Config, log *zap.Logger) (*snowflake.Node, error) {
	id := cfg.SnowflakeNode
	if id == 0 {
		id = defaultNode
	}
	node, err := snowflake.NewNode(id)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", id, err)
	}
	log.Info("id generator ready", zap.Int64("snowflake_node", id))
	return node, nil
}
