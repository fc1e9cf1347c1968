package report

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/zulandar/throughput/internal/models"
	"gorm.io/gorm"
)

// CellRow is one capacity cell as reported.
type CellRow struct {
	Process         string          `json:"process"`
	Date            string          `json:"date"`
	TotalHours      decimal.Decimal `json:"total_hours"`
	OccupiedHours   decimal.Decimal `json:"occupied_hours"`
	RemainingHours  decimal.Decimal `json:"remaining_hours"`
	TotalOverridden bool            `json:"total_overridden"`
}

// CellFilters narrows ListCells. Empty fields are ignored.
type CellFilters struct {
	Process string
	From    string
	To      string
}

// ListCells returns cells ordered by process and date.
func ListCells(db *gorm.DB, f CellFilters) ([]CellRow, error) {
	q := db.Model(&models.CapacityCell{})
	if f.Process != "" {
		q = q.Where("process = ?", f.Process)
	}
	if f.From != "" {
		q = q.Where("date >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where("date <= ?", f.To)
	}
	var cells []models.CapacityCell
	if err := q.Order("process ASC, date ASC").Find(&cells).Error; err != nil {
		return nil, err
	}
	rows := make([]CellRow, len(cells))
	for i, c := range cells {
		rows[i] = CellRow{
			Process:         c.Process,
			Date:            c.Date,
			TotalHours:      c.TotalHours,
			OccupiedHours:   c.OccupiedHours,
			RemainingHours:  c.RemainingHours,
			TotalOverridden: c.TotalOverridden,
		}
	}
	return rows, nil
}

// ChainStateCount holds the number of chains in one state.
type ChainStateCount struct {
	State string `json:"state"`
	Count int    `json:"count"`
}

// ChainSummary returns chain counts grouped by state.
func ChainSummary(db *gorm.DB) ([]ChainStateCount, error) {
	var rows []ChainStateCount
	if err := db.Model(&models.ScheduleChain{}).
		Select("state, count(*) as count").
		Group("state").
		Order("state ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// RecordsBySource returns every record of a source document in sequence order.
func RecordsBySource(db *gorm.DB, sourceNo string) ([]models.ScheduleRecord, error) {
	var recs []models.ScheduleRecord
	if err := db.Where("source_no = ?", sourceNo).Order("sequence ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("records of %s: %w", sourceNo, err)
	}
	return recs, nil
}

// BatchDetail is a batch with the chains it touched.
type BatchDetail struct {
	Batch  models.ScheduleBatch   `json:"batch"`
	Chains []models.ScheduleChain `json:"chains"`
}

// GetBatch loads a batch and its chains. It returns nil when the batch does
// not exist.
func GetBatch(db *gorm.DB, id string) (*BatchDetail, error) {
	var batch models.ScheduleBatch
	result := db.Where("id = ?", id).Limit(1).Find(&batch)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	var chains []models.ScheduleChain
	if err := db.Where("batch_id = ?", id).Order("created_at ASC").Find(&chains).Error; err != nil {
		return nil, err
	}
	return &BatchDetail{Batch: batch, Chains: chains}, nil
}
