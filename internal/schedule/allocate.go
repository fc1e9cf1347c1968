package schedule

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/zulandar/throughput/internal/ledger"
	"github.com/zulandar/throughput/internal/models"
	"github.com/zulandar/throughput/internal/query"
	"gorm.io/gorm"
)

// Allocation is the best placement of a demand on one effective date.
type Allocation struct {
	EffectiveDate string
	Hours         decimal.Decimal
	Qty           decimal.Decimal
}

// RequiredHours converts a quantity into process hours at quota units per
// hour, rounded up to the hours precision so the hours always cover qty.
func RequiredHours(qty, quota decimal.Decimal) decimal.Decimal {
	return qty.Div(quota).RoundCeil(ledger.HoursPlaces)
}

// QtyForHours is the whole-unit output of hours at quota, rounded half-up.
func QtyForHours(hours, quota decimal.Decimal) decimal.Decimal {
	return hours.Mul(quota).Round(0)
}

// Allocate computes the single best allocation of line on or after planned.
//
// The effective date is the first materialized cell at or after planned
// with remaining hours. Hours already claimed on that cell by provisional
// records with a lower sequence than position are deducted, so chains
// allocating in the same pass cannot both take the same hours before the
// ledger commit. It returns *CapacityNotFoundError when no cell has spare
// hours. The result may carry zero hours when earlier claims use the whole
// cell.
func Allocate(db *gorm.DB, line DemandLine, planned string, required decimal.Decimal, position int64) (*Allocation, error) {
	effective, err := query.MinWhere[string](db, "capacity_cells", "date",
		query.Eq("process", line.Process),
		query.Gte("date", planned),
		query.Gt("remaining_hours", decimal.Zero),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule: find effective date for %s: %w", line.Process, err)
	}
	if effective == nil {
		return nil, &CapacityNotFoundError{Process: line.Process, From: planned}
	}

	remaining, err := query.LookupWhere[decimal.Decimal](db, "capacity_cells", "remaining_hours",
		query.Eq("process", line.Process),
		query.Eq("date", *effective),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule: remaining hours %s/%s: %w", line.Process, *effective, err)
	}
	dailyRemaining := decimal.Zero
	if remaining != nil {
		dailyRemaining = *remaining
	}

	claimed, err := query.SumWhere(db, "schedule_records", "hours",
		query.Eq("process", line.Process),
		query.Eq("effective_date", *effective),
		query.Lt("sequence", position),
		query.Eq("state", models.RecordProvisional),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule: claimed hours %s/%s: %w", line.Process, *effective, err)
	}

	available := decimal.Max(decimal.Zero, dailyRemaining.Sub(claimed)).Truncate(ledger.HoursPlaces)
	hours := decimal.Min(available, required)

	return &Allocation{
		EffectiveDate: *effective,
		Hours:         hours,
		Qty:           QtyForHours(hours, line.HourlyQuota),
	}, nil
}
