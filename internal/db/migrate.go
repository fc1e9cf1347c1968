package db

import (
	"fmt"

	"github.com/zulandar/throughput/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model managed by throughput.
func AllModels() []interface{} {
	return []interface{}{
		&models.CapacityCell{},
		&models.ScheduleRecord{},
		&models.ScheduleChain{},
		&models.ScheduleBatch{},
		&models.Sequence{},
		&models.StockMovement{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedSequence ensures the named sequence row exists without resetting it.
func SeedSequence(db *gorm.DB, name string) error {
	seq := models.Sequence{Name: name}
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seq)
	if result.Error != nil {
		return fmt.Errorf("db: seed sequence %q: %w", name, result.Error)
	}
	return nil
}
