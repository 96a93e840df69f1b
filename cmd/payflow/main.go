package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/intent"
	"github.com/smallbiznis/payflow/internal/logger"
	"github.com/smallbiznis/payflow/internal/migration"
	"github.com/smallbiznis/payflow/internal/observability/metrics"
	"github.com/smallbiznis/payflow/internal/processor"
	"github.com/smallbiznis/payflow/internal/ratelimit"
	"github.com/smallbiznis/payflow/internal/server"
	"github.com/smallbiznis/payflow/internal/sweeper"
	"github.com/smallbiznis/payflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		metrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		processor.Module,
		intent.Module,
		ratelimit.Module,
		sweeper.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			nodeID = parsed
		}
	}
	return snowflake.NewNode(nodeID)
}
