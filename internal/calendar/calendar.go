// Package calendar maintains the capacity cells the scheduler allocates
// against: it materializes a rolling horizon of working days for every
// configured process and prunes past cells nothing references.
package calendar

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/throughput/internal/config"
	"github.com/zulandar/throughput/internal/ledger"
	"github.com/zulandar/throughput/internal/models"
	"gorm.io/gorm"
)

// Result counts what a Materialize pass changed.
type Result struct {
	Created   int
	Updated   int
	Unchanged int
	Skipped   int // rest days and holidays
}

// WorkingDay reports whether process works on date.
func WorkingDay(cal config.CalendarConfig, p config.ProcessConfig, date time.Time) bool {
	day := date.Format(time.DateOnly)
	for _, h := range cal.Holidays {
		if h == day {
			return false
		}
	}
	for _, rest := range p.RestWeekdays {
		if wd, ok := config.ParseWeekday(rest); ok && wd == date.Weekday() {
			return false
		}
	}
	return true
}

// Materialize ensures a cell exists for every working day of every process in
// [from, from + horizon). Existing cells keep their occupied hours; their
// total follows the configured shift unless it was overridden by hand.
func Materialize(db *gorm.DB, cal config.CalendarConfig, from time.Time) (*Result, error) {
	res := &Result{}
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)

	for _, p := range cal.Processes {
		shift := decimal.NewFromFloat(p.ShiftHours).Round(ledger.HoursPlaces)
		total := shift.Mul(decimal.NewFromInt(int64(p.Workstations))).Round(ledger.HoursPlaces)

		for i := 0; i < cal.HorizonDays; i++ {
			date := from.AddDate(0, 0, i)
			if !WorkingDay(cal, p, date) {
				res.Skipped++
				continue
			}
			changed, created, err := upsertCell(db, p.Name, date.Format(time.DateOnly), shift, p.Workstations, total)
			if err != nil {
				return res, err
			}
			switch {
			case created:
				res.Created++
			case changed:
				res.Updated++
			default:
				res.Unchanged++
			}
		}
	}
	return res, nil
}

func upsertCell(db *gorm.DB, process, date string, shift decimal.Decimal, stations int, total decimal.Decimal) (changed, created bool, err error) {
	err = db.Transaction(func(tx *gorm.DB) error {
		var cell models.CapacityCell
		result := tx.Where("process = ? AND date = ?", process, date).Limit(1).Find(&cell)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			created = true
			return tx.Create(&models.CapacityCell{
				Process:        process,
				Date:           date,
				ShiftHours:     shift,
				Workstations:   stations,
				TotalHours:     total,
				OccupiedHours:  decimal.Zero,
				RemainingHours: total,
			}).Error
		}

		updates := map[string]interface{}{}
		if !cell.ShiftHours.Equal(shift) {
			updates["shift_hours"] = shift
		}
		if cell.Workstations != stations {
			updates["workstations"] = stations
		}
		if !cell.TotalOverridden && !cell.TotalHours.Equal(total) {
			updates["total_hours"] = total
			updates["remaining_hours"] = total.Sub(cell.OccupiedHours)
		}
		if len(updates) == 0 {
			return nil
		}
		changed = true
		return tx.Model(&cell).Updates(updates).Error
	})
	if err != nil {
		return false, false, fmt.Errorf("calendar: upsert %s/%s: %w", process, date, err)
	}
	return changed, created, nil
}

// Prune deletes cells dated strictly before before that no schedule record
// references, and returns how many were removed.
func Prune(db *gorm.DB, before string) (int64, error) {
	if _, err := time.Parse(time.DateOnly, before); err != nil {
		return 0, fmt.Errorf("calendar: prune: invalid date %q", before)
	}
	result := db.Where("date < ?", before).
		Where("NOT EXISTS (SELECT 1 FROM schedule_records r WHERE r.process = capacity_cells.process AND r.effective_date = capacity_cells.date)").
		Delete(&models.CapacityCell{})
	if result.Error != nil {
		return 0, fmt.Errorf("calendar: prune before %s: %w", before, result.Error)
	}
	return result.RowsAffected, nil
}
