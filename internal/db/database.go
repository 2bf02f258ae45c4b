package db

import (
	"fmt"

	"crosspay/internal/config"
	"crosspay/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB connects to the configured database and migrates the schema.
func InitDB() error {
	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	var err error
	DB, err = gorm.Open(postgres.Open(config.AppConfig.Database.DSN), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	logrus.Info("database connected")

	if err := Migrate(DB); err != nil {
		return err
	}

	if err := seedChainPairs(DB); err != nil {
		return err
	}

	return initTreasuryBalances(DB)
}

// Migrate runs schema migration for all engine entities.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.WalletAddress{},
		&models.Balance{},
		&models.SupportedChainPair{},
		&models.Quote{},
		&models.SpendingApproval{},
		&models.Execution{},
		&models.Settlement{},
		&models.TreasuryBalance{},
		&models.DailySpending{},
		&models.CircuitBreakerState{},
		&models.AuditLogEntry{},
	); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}

// seedChainPairs upserts the configured supported chain pairs. Pairs removed
// from configuration are disabled rather than deleted, so historical quotes
// keep a valid reference.
func seedChainPairs(db *gorm.DB) error {
	if config.AppConfig == nil {
		return nil
	}

	configured := map[string]bool{}
	for _, pair := range config.AppConfig.Pairs {
		funding := models.Chain(pair.Funding)
		execution := models.Chain(pair.Execution)
		if !models.IsValidChain(funding) || !models.IsValidChain(execution) {
			return fmt.Errorf("unknown chain in supported pair %s->%s", pair.Funding, pair.Execution)
		}
		if funding == execution {
			return fmt.Errorf("supported pair must use distinct chains, got %s->%s", pair.Funding, pair.Execution)
		}
		configured[pair.Funding+"->"+pair.Execution] = true

		var existing models.SupportedChainPair
		err := db.Where("funding_chain = ? AND execution_chain = ?", funding, execution).First(&existing).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			if err := db.Create(&models.SupportedChainPair{
				FundingChain:   funding,
				ExecutionChain: execution,
				Enabled:        true,
			}).Error; err != nil {
				return fmt.Errorf("failed to seed chain pair: %w", err)
			}
		case err != nil:
			return err
		default:
			if !existing.Enabled {
				if err := db.Model(&existing).Update("enabled", true).Error; err != nil {
					return err
				}
			}
		}
	}

	var all []models.SupportedChainPair
	if err := db.Find(&all).Error; err != nil {
		return err
	}
	for _, pair := range all {
		key := string(pair.FundingChain) + "->" + string(pair.ExecutionChain)
		if pair.Enabled && !configured[key] {
			if err := db.Model(&pair).Update("enabled", false).Error; err != nil {
				return err
			}
			logrus.WithField("pair", key).Warn("chain pair no longer configured, disabled")
		}
	}
	return nil
}

// initTreasuryBalances creates a zero balance row for every configured
// (chain, asset) so risk reads never race row creation.
func initTreasuryBalances(db *gorm.DB) error {
	if config.AppConfig == nil {
		return nil
	}
	for name, chain := range config.AppConfig.Chains {
		if !chain.Enabled {
			continue
		}
		for _, asset := range chain.Assets {
			var count int64
			if err := db.Model(&models.TreasuryBalance{}).
				Where("chain = ? AND asset = ?", name, asset).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				if err := db.Create(&models.TreasuryBalance{
					Chain: models.Chain(name),
					Asset: asset,
				}).Error; err != nil {
					return fmt.Errorf("failed to init treasury balance %s/%s: %w", name, asset, err)
				}
			}
		}
	}
	return nil
}
