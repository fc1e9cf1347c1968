package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Record claim states. A provisional record is visible to other allocators
// as a claim on its cell but is not yet counted in the cell's occupied hours.
const (
	RecordProvisional = "provisional"
	RecordCommitted   = "committed"
)

// ScheduleRecord is one link of a chain: the hours and quantity placed on a
// single effective date.
type ScheduleRecord struct {
	ID              uint            `gorm:"primaryKey;autoIncrement"`
	Sequence        int64           `gorm:"not null;uniqueIndex"`
	ChainID         string          `gorm:"size:36;not null;index"`
	SourceNo        string          `gorm:"size:64;not null;index"`
	OrderNo         string          `gorm:"size:64;index"`
	PrevRecordID    *uint
	Process         string          `gorm:"size:64;not null;index:idx_record_cell,priority:1"`
	Material        string          `gorm:"size:64;not null"`
	PlannedDate     string          `gorm:"size:10;not null"`
	EffectiveDate   string          `gorm:"size:10;not null;index:idx_record_cell,priority:2"`
	Hours           decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	Qty             decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	CumulativeQty   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0"`
	RemainingQty    decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0"`
	NextPlannedDate string          `gorm:"size:10"`
	State           string          `gorm:"size:16;not null;default:provisional;index"`
	TerminalState   string          `gorm:"size:16;default:CONTINUING"`
	DerivedChainID  string          `gorm:"size:36;index"`
	DerivedQty      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0"`
	CreatedAt       time.Time
}

// TableName pins the table name used by the aggregation queries.
func (ScheduleRecord) TableName() string { return "schedule_records" }

// RecordRef is the document reference of stock movements booked for a record.
func RecordRef(id uint) string { return fmt.Sprintf("record:%d", id) }
