package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockMovement is an append-only buffer-stock movement. The projected
// buffer of a material on a day is the sum of its deltas up to that day.
type StockMovement struct {
	ID            uint            `gorm:"primaryKey;autoIncrement"`
	Material      string          `gorm:"size:64;not null;index:idx_stock_material_date,priority:1"`
	EffectiveDate string          `gorm:"size:10;not null;index:idx_stock_material_date,priority:2"`
	QtyDelta      decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	DocRef        string          `gorm:"size:64"`
	CreatedAt     time.Time
}

// TableName pins the table name used by the aggregation queries.
func (StockMovement) TableName() string { return "stock_movements" }
