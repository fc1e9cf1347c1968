package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScheduleChain is the persisted progress of one demand line: the demand
// itself plus its aggregate allocation state.
type ScheduleChain struct {
	ID             string          `gorm:"primaryKey;size:36"`
	BatchID        string          `gorm:"size:36;index"`
	SourceNo       string          `gorm:"size:64;not null;index"`
	OrderNo        string          `gorm:"size:64;index:idx_chain_match,priority:1"`
	Process        string          `gorm:"size:64;not null;index:idx_chain_match,priority:3"`
	Material       string          `gorm:"size:64;not null;index:idx_chain_match,priority:2"`
	TotalQty       decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	HourlyQuota    decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	EarliestDate   string          `gorm:"size:10;not null"`
	AllocatedQty   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0"`
	RemainingQty   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0"`
	State          string          `gorm:"size:16;not null;default:PENDING;index"`
	Reason         string          `gorm:"type:text"`
	Depth          int             `gorm:"default:0"`
	ParentRecordID *uint
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Records []ScheduleRecord `gorm:"foreignKey:ChainID"`
}

// TableName pins the table name used by the aggregation queries.
func (ScheduleChain) TableName() string { return "schedule_chains" }

// ScheduleBatch records the outcome of one top-level scheduling trigger.
type ScheduleBatch struct {
	ID        string `gorm:"primaryKey;size:36"`
	Processed int
	Succeeded int
	Failed    int
	Failures  string `gorm:"type:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chain states. COMPLETE, EXHAUSTED, RECURSION_LIMIT and FAILED are terminal.
const (
	ChainPending        = "PENDING"
	ChainAllocating     = "ALLOCATING"
	ChainContinuing     = "CONTINUING"
	ChainComplete       = "COMPLETE"
	ChainExhausted      = "EXHAUSTED"
	ChainRecursionLimit = "RECURSION_LIMIT"
	ChainFailed         = "FAILED"
)

// IsTerminal reports whether a chain state is final.
func IsTerminal(state string) bool {
	switch state {
	case ChainComplete, ChainExhausted, ChainRecursionLimit, ChainFailed:
		return true
	}
	return false
}
