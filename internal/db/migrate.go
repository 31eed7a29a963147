package db

import (
	"stocktrader/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Ledger{},
		&models.Position{},
		&models.Trade{},
		&models.Decision{},
		&models.PortfolioSnapshot{},
	)
}

// Reset drops all trading tables and recreates them. Used by the
// --restart flag for a clean paper-trading run.
func Reset(db *DB) error {
	if db == nil || db.Gorm == nil {
		return nil
	}
	if err := db.Gorm.Migrator().DropTable(
		&models.PortfolioSnapshot{},
		&models.Decision{},
		&models.Trade{},
		&models.Position{},
		&models.Ledger{},
	); err != nil {
		return err
	}
	return AutoMigrate(db)
}
