package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/stratusbill/walletd/internal/billingcycle"
	"github.com/stratusbill/walletd/internal/billingrecord"
	"github.com/stratusbill/walletd/internal/clock"
	"github.com/stratusbill/walletd/internal/config"
	"github.com/stratusbill/walletd/internal/logger"
	"github.com/stratusbill/walletd/internal/migration"
	"github.com/stratusbill/walletd/internal/pricing"
	"github.com/stratusbill/walletd/internal/provisioning"
	"github.com/stratusbill/walletd/internal/reconciliation"
	"github.com/stratusbill/walletd/internal/scheduler"
	"github.com/stratusbill/walletd/internal/server"
	"github.com/stratusbill/walletd/internal/simulation"
	"github.com/stratusbill/walletd/internal/telemetry"
	"github.com/stratusbill/walletd/internal/wallet"
	"github.com/stratusbill/walletd/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		pricing.Module,
		telemetry.Module,
		wallet.Module,
		billingrecord.Module,
		provisioning.Module,
		billingcycle.Module,
		reconciliation.Module,
		scheduler.Module,
		simulation.Module,

		server.Module,
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
