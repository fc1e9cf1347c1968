package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CapacityCell is the finite-hours capacity of one process on one calendar day.
// OccupiedHours is a materialized view of the committed ScheduleRecords keyed
// to the cell and must always be recomputable from them.
type CapacityCell struct {
	ID              uint            `gorm:"primaryKey;autoIncrement"`
	Process         string          `gorm:"size:64;not null;uniqueIndex:idx_cell_process_date,priority:1"`
	Date            string          `gorm:"size:10;not null;uniqueIndex:idx_cell_process_date,priority:2;index"`
	ShiftHours      decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	Workstations    int             `gorm:"not null;default:1"`
	TotalHours      decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	OccupiedHours   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0"`
	RemainingHours  decimal.Decimal `gorm:"type:decimal(20,4);not null;index"`
	TotalOverridden bool            `gorm:"default:false"`
	UpdatedAt       time.Time
}

// TableName pins the table name used by the aggregation queries.
func (CapacityCell) TableName() string { return "capacity_cells" }
