// Package ledger maintains the per-(process, date) capacity state.
//
// A cell's occupied hours are a materialized view of the committed schedule
// records keyed to it. CommitAllocation updates the view incrementally under
// a row lock; RecomputeCell rebuilds it from the records and is the path used
// after any deletion or bulk edit, so the two can never drift apart for long.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/zulandar/throughput/internal/models"
	"github.com/zulandar/throughput/internal/query"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HoursPlaces is the precision hours are kept at.
const HoursPlaces = 2

// ErrNotMaterialized is returned when a write targets a cell the calendar job
// has not created.
var ErrNotMaterialized = errors.New("capacity cell not materialized")

// CapacityOverrunError reports an allocation that would push occupied hours
// past the cell total. The commit is rejected as a whole.
type CapacityOverrunError struct {
	Process   string
	Date      string
	Total     decimal.Decimal
	Occupied  decimal.Decimal
	Requested decimal.Decimal
}

func (e *CapacityOverrunError) Error() string {
	return fmt.Sprintf("capacity overrun on %s/%s: occupied %s + requested %s > total %s",
		e.Process, e.Date, e.Occupied.StringFixed(HoursPlaces), e.Requested.StringFixed(HoursPlaces), e.Total.StringFixed(HoursPlaces))
}

// GetCell returns the cell for process on date. When the cell has not been
// materialized it returns a zero-capacity sentinel with ID 0.
func GetCell(db *gorm.DB, process, date string) (*models.CapacityCell, error) {
	var cell models.CapacityCell
	result := db.Where("process = ? AND date = ?", process, date).Limit(1).Find(&cell)
	if result.Error != nil {
		return nil, fmt.Errorf("ledger: get %s/%s: %w", process, date, result.Error)
	}
	if result.RowsAffected == 0 {
		return sentinel(process, date), nil
	}
	return &cell, nil
}

// Materialized reports whether cell is a real row rather than the sentinel.
func Materialized(cell *models.CapacityCell) bool {
	return cell != nil && cell.ID != 0
}

func sentinel(process, date string) *models.CapacityCell {
	return &models.CapacityCell{
		Process:        process,
		Date:           date,
		ShiftHours:     decimal.Zero,
		TotalHours:     decimal.Zero,
		OccupiedHours:  decimal.Zero,
		RemainingHours: decimal.Zero,
	}
}

// lockCell reads the cell inside tx with SELECT ... FOR UPDATE.
func lockCell(tx *gorm.DB, process, date string) (*models.CapacityCell, error) {
	var cell models.CapacityCell
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("process = ? AND date = ?", process, date).
		Limit(1).
		Find(&cell)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%s/%s: %w", process, date, ErrNotMaterialized)
	}
	return &cell, nil
}

// CommitAllocation adds hours to the cell's occupied hours and, when recordID
// is non-zero, promotes that provisional record to committed in the same
// transaction. The remaining hours are re-checked under the row lock; an
// allocation that no longer fits fails with *CapacityOverrunError and changes
// nothing.
func CommitAllocation(db *gorm.DB, process, date string, hours decimal.Decimal, recordID uint) (*models.CapacityCell, error) {
	if hours.IsNegative() {
		return nil, fmt.Errorf("ledger: commit %s/%s: negative hours %s", process, date, hours)
	}
	hours = hours.Round(HoursPlaces)

	var out *models.CapacityCell
	err := db.Transaction(func(tx *gorm.DB) error {
		cell, err := lockCell(tx, process, date)
		if err != nil {
			return err
		}

		occupied := cell.OccupiedHours.Add(hours)
		if occupied.GreaterThan(cell.TotalHours) {
			return &CapacityOverrunError{
				Process:   process,
				Date:      date,
				Total:     cell.TotalHours,
				Occupied:  cell.OccupiedHours,
				Requested: hours,
			}
		}
		cell.OccupiedHours = occupied
		cell.RemainingHours = cell.TotalHours.Sub(occupied)

		if err := tx.Model(cell).Updates(map[string]interface{}{
			"occupied_hours":  cell.OccupiedHours,
			"remaining_hours": cell.RemainingHours,
		}).Error; err != nil {
			return fmt.Errorf("update cell: %w", err)
		}

		if recordID != 0 {
			result := tx.Model(&models.ScheduleRecord{}).
				Where("id = ? AND state = ?", recordID, models.RecordProvisional).
				Update("state", models.RecordCommitted)
			if result.Error != nil {
				return fmt.Errorf("promote record %d: %w", recordID, result.Error)
			}
			if result.RowsAffected != 1 {
				return fmt.Errorf("promote record %d: no provisional record", recordID)
			}
		}

		out = cell
		return nil
	})
	if err != nil {
		var overrun *CapacityOverrunError
		if errors.As(err, &overrun) {
			return nil, err
		}
		return nil, fmt.Errorf("ledger: commit %s/%s: %w", process, date, err)
	}
	return out, nil
}

// OccupiedFromRecords sums the hours of the committed records keyed to a cell.
func OccupiedFromRecords(db *gorm.DB, process, date string) (decimal.Decimal, error) {
	sum, err := query.SumWhere(db, "schedule_records", "hours",
		query.Eq("process", process),
		query.Eq("effective_date", date),
		query.Eq("state", models.RecordCommitted),
	)
	if err != nil {
		return decimal.Zero, err
	}
	return sum.Round(HoursPlaces), nil
}

// RecomputeCell rebuilds occupied and remaining hours from the committed
// records. A cell that is not materialized is returned as the sentinel.
func RecomputeCell(db *gorm.DB, process, date string) (*models.CapacityCell, error) {
	var out *models.CapacityCell
	err := db.Transaction(func(tx *gorm.DB) error {
		cell, err := lockCell(tx, process, date)
		if err != nil {
			return err
		}
		occupied, err := OccupiedFromRecords(tx, process, date)
		if err != nil {
			return err
		}
		cell.OccupiedHours = occupied
		cell.RemainingHours = cell.TotalHours.Sub(occupied)
		if err := tx.Model(cell).Updates(map[string]interface{}{
			"occupied_hours":  cell.OccupiedHours,
			"remaining_hours": cell.RemainingHours,
		}).Error; err != nil {
			return fmt.Errorf("update cell: %w", err)
		}
		out = cell
		return nil
	})
	if errors.Is(err, ErrNotMaterialized) {
		return sentinel(process, date), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: recompute %s/%s: %w", process, date, err)
	}
	return out, nil
}

// ManualOverride sets the total hours of a cell, for example for a holiday or
// a shortened shift. Occupied hours are untouched and the calendar job will
// not overwrite the total until ResetOverride is called.
func ManualOverride(db *gorm.DB, process, date string, total decimal.Decimal) (*models.CapacityCell, error) {
	if total.IsNegative() {
		return nil, fmt.Errorf("ledger: override %s/%s: negative total %s", process, date, total)
	}
	total = total.Round(HoursPlaces)
	return setTotal(db, process, date, func(*models.CapacityCell) (decimal.Decimal, bool) {
		return total, true
	})
}

// ResetOverride restores the calendar total (shift hours × workstations).
func ResetOverride(db *gorm.DB, process, date string) (*models.CapacityCell, error) {
	return setTotal(db, process, date, func(c *models.CapacityCell) (decimal.Decimal, bool) {
		return c.ShiftHours.Mul(decimal.NewFromInt(int64(c.Workstations))).Round(HoursPlaces), false
	})
}

func setTotal(db *gorm.DB, process, date string, next func(*models.CapacityCell) (decimal.Decimal, bool)) (*models.CapacityCell, error) {
	var out *models.CapacityCell
	err := db.Transaction(func(tx *gorm.DB) error {
		cell, err := lockCell(tx, process, date)
		if err != nil {
			return err
		}
		cell.TotalHours, cell.TotalOverridden = next(cell)
		cell.RemainingHours = cell.TotalHours.Sub(cell.OccupiedHours)
		if err := tx.Model(cell).Updates(map[string]interface{}{
			"total_hours":      cell.TotalHours,
			"remaining_hours":  cell.RemainingHours,
			"total_overridden": cell.TotalOverridden,
		}).Error; err != nil {
			return fmt.Errorf("update cell: %w", err)
		}
		out = cell
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: set total %s/%s: %w", process, date, err)
	}
	return out, nil
}
