package migration

import (
	billingrecorddomain "github.com/stratusbill/walletd/internal/billingrecord/domain"
	"github.com/stratusbill/walletd/internal/config"
	reconciliationdomain "github.com/stratusbill/walletd/internal/reconciliation/domain"
	walletdomain "github.com/stratusbill/walletd/internal/wallet/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// Versioned SQL migrations are postgres-only. Other drivers (sqlite
		// for local runs, mysql) fall back to schema sync from the models.
		if cfg.DBType != "postgres" {
			if !cfg.AutoMigrateEnabled {
				return nil
			}
			return conn.AutoMigrate(
				&walletdomain.Wallet{},
				&walletdomain.Transaction{},
				&billingrecorddomain.VMBillingRecord{},
				&reconciliationdomain.Reconciliation{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
