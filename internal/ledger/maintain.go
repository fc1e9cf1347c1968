package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/zulandar/throughput/internal/models"
	"gorm.io/gorm"
)

// CellKey identifies a capacity cell.
type CellKey struct {
	Process string
	Date    string
}

// Drift describes a cell whose occupied hours disagree with its records.
type Drift struct {
	CellKey
	Occupied    decimal.Decimal
	FromRecords decimal.Decimal
}

// DeleteRecord removes one schedule record and recomputes its cell.
func DeleteRecord(db *gorm.DB, id uint) error {
	var rec models.ScheduleRecord
	result := db.Where("id = ?", id).Limit(1).Find(&rec)
	if result.Error != nil {
		return fmt.Errorf("ledger: find record %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}
	if err := db.Delete(&models.ScheduleRecord{}, id).Error; err != nil {
		return fmt.Errorf("ledger: delete record %d: %w", id, err)
	}
	if _, err := RecomputeCell(db, rec.Process, rec.EffectiveDate); err != nil {
		return err
	}
	return nil
}

// DeleteChainRecords removes every record of a chain and recomputes each
// affected cell from scratch. It returns the recomputed cells.
func DeleteChainRecords(db *gorm.DB, chainID string) ([]CellKey, error) {
	var keys []CellKey
	if err := db.Model(&models.ScheduleRecord{}).
		Select("DISTINCT process, effective_date AS date").
		Where("chain_id = ?", chainID).
		Order("effective_date ASC").
		Scan(&keys).Error; err != nil {
		return nil, fmt.Errorf("ledger: cells of chain %s: %w", chainID, err)
	}

	if err := db.Where("chain_id = ?", chainID).Delete(&models.ScheduleRecord{}).Error; err != nil {
		return nil, fmt.Errorf("ledger: delete records of chain %s: %w", chainID, err)
	}

	for _, k := range keys {
		if _, err := RecomputeCell(db, k.Process, k.Date); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// Reconcile recomputes every cell of process, or every cell when process is
// empty, and returns how many were rebuilt.
func Reconcile(db *gorm.DB, process string) (int, error) {
	keys, err := cellKeys(db, process)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if _, err := RecomputeCell(db, k.Process, k.Date); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// Verify lists cells whose occupied hours differ from the committed records
// keyed to them. An empty result means the ledger is consistent.
func Verify(db *gorm.DB, process string) ([]Drift, error) {
	q := db.Model(&models.CapacityCell{})
	if process != "" {
		q = q.Where("process = ?", process)
	}
	var cells []models.CapacityCell
	if err := q.Order("process ASC, date ASC").Find(&cells).Error; err != nil {
		return nil, fmt.Errorf("ledger: list cells: %w", err)
	}

	var drifts []Drift
	for _, c := range cells {
		sum, err := OccupiedFromRecords(db, c.Process, c.Date)
		if err != nil {
			return nil, fmt.Errorf("ledger: verify %s/%s: %w", c.Process, c.Date, err)
		}
		if !sum.Equal(c.OccupiedHours.Round(HoursPlaces)) {
			drifts = append(drifts, Drift{
				CellKey:     CellKey{Process: c.Process, Date: c.Date},
				Occupied:    c.OccupiedHours,
				FromRecords: sum,
			})
		}
	}
	return drifts, nil
}

func cellKeys(db *gorm.DB, process string) ([]CellKey, error) {
	q := db.Model(&models.CapacityCell{}).Select("process, date")
	if process != "" {
		q = q.Where("process = ?", process)
	}
	var keys []CellKey
	if err := q.Order("process ASC, date ASC").Scan(&keys).Error; err != nil {
		return nil, fmt.Errorf("ledger: list cells: %w", err)
	}
	return keys, nil
}
