package schedule

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DemandLine is a quantity of output to schedule against one process.
type DemandLine struct {
	Process      string
	Material     string
	TotalQty     decimal.Decimal
	HourlyQuota  decimal.Decimal
	EarliestDate string
	SourceNo     string
	OrderNo      string

	// Set on lines derived by downstream propagation.
	Depth          int
	ParentRecordID *uint
}

// Validate checks that every required field is present.
func (l DemandLine) Validate() error {
	fail := func(field, problem string) error {
		return &ValidationError{SourceNo: l.SourceNo, Field: field, Problem: problem}
	}
	switch {
	case l.SourceNo == "":
		return fail("source_no", "is required")
	case l.Process == "":
		return fail("process", "is required")
	case l.Material == "":
		return fail("material", "is required")
	case !l.TotalQty.IsPositive():
		return fail("total_qty", "must be positive")
	case !l.HourlyQuota.IsPositive():
		return fail("hourly_quota", "must be positive")
	case l.EarliestDate == "":
		return fail("earliest_date", "is required")
	}
	if _, err := time.Parse(time.DateOnly, l.EarliestDate); err != nil {
		return fail("earliest_date", "must be YYYY-MM-DD")
	}
	return nil
}

// AddDays shifts a YYYY-MM-DD date by n calendar days.
func AddDays(date string, n int) (string, error) {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return "", fmt.Errorf("schedule: parse date %q: %w", date, err)
	}
	return t.AddDate(0, 0, n).Format(time.DateOnly), nil
}

// demandFile is the on-disk batch format.
type demandFile struct {
	Lines []struct {
		Process      string          `yaml:"process"`
		Material     string          `yaml:"material"`
		TotalQty     decimal.Decimal `yaml:"total_qty"`
		HourlyQuota  decimal.Decimal `yaml:"hourly_quota"`
		EarliestDate string          `yaml:"earliest_date"`
		SourceNo     string          `yaml:"source_no"`
		OrderNo      string          `yaml:"order_no"`
	} `yaml:"lines"`
}

// ParseDemands reads a YAML batch of demand lines. Quantities are read as
// exact decimals. Lines are returned in file order and are not validated;
// validation happens per line when the batch runs.
func ParseDemands(data []byte) ([]DemandLine, error) {
	var f demandFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("schedule: parse demands: %w", err)
	}
	lines := make([]DemandLine, len(f.Lines))
	for i, l := range f.Lines {
		lines[i] = DemandLine{
			Process:      l.Process,
			Material:     l.Material,
			TotalQty:     l.TotalQty,
			HourlyQuota:  l.HourlyQuota,
			EarliestDate: l.EarliestDate,
			SourceNo:     l.SourceNo,
			OrderNo:      l.OrderNo,
		}
	}
	return lines, nil
}
