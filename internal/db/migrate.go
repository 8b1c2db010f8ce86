package db

import (
	"fmt"

	"github.com/zulandar/dropline/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model Dropline persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.Contact{},
		&models.MissedCall{},
		&models.CallAttempt{},
		&models.PassSession{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Reset drops and re-creates every table. Used by `db reset` on sqlite,
// where there is no server-side database to drop.
func Reset(db *gorm.DB) error {
	if err := db.Migrator().DropTable(AllModels()...); err != nil {
		return fmt.Errorf("db: drop tables: %w", err)
	}
	return AutoMigrate(db)
}
