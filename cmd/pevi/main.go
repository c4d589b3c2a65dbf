package main

import (
	"log"
	"os"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	peviasynq "pevi-platform/pkg/asynq"
	"pevi-platform/pkg/config"
	"pevi-platform/pkg/db"
	"pevi-platform/pkg/health"
	"pevi-platform/pkg/logger"
	"pevi-platform/pkg/redis"
	"pevi-platform/pkg/secretmanager"
	"pevi-platform/pkg/server"
	"pevi-platform/pkg/stellar"
	"pevi-platform/services/activity"
	"pevi-platform/services/bootstrap"
	"pevi-platform/services/campaign"
	"pevi-platform/services/donation"
	"pevi-platform/services/escrow"
	"pevi-platform/services/escrowgw"
	"pevi-platform/services/milestone"
	"pevi-platform/services/notify"
)

func main() {
	opts := []fx.Option{}
	if os.Getenv("VAULT_ADDR") != "" {
		opts = append(opts, secretmanager.Module)
	}

	opts = append(opts,
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		fx.Provide(provideSnowflakeNode),

		peviasynq.Client,
		peviasynq.Server,

		stellar.Module,
		escrowgw.Module,

		bootstrap.Module,
		campaign.Module,
		milestone.Module,
		activity.Module,
		donation.Module,
		escrow.Module,
		notify.Module,
		notify.TaskModule,

		health.Module,
		server.Module,
		fxLogger,
	)

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
