package calendar

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/throughput/internal/config"
	"github.com/zulandar/throughput/internal/ledger"
	"github.com/zulandar/throughput/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.CapacityCell{}, &models.ScheduleRecord{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func testCalendar() config.CalendarConfig {
	return config.CalendarConfig{
		HorizonDays: 7,
		Schedule:    "0 1 * * *",
		Holidays:    []string{"2025-01-08"},
		Processes: []config.ProcessConfig{
			{Name: "painting", ShiftHours: 8, Workstations: 2, RestWeekdays: []string{"sat", "sun"}},
			{Name: "assembly", ShiftHours: 7.5, Workstations: 1},
		},
	}
}

// 2025-01-06 is a Monday.
var monday = time.Date(2025, 1, 6, 9, 30, 0, 0, time.UTC)

func cellOn(t *testing.T, db *gorm.DB, process, date string) *models.CapacityCell {
	t.Helper()
	c, err := ledger.GetCell(db, process, date)
	if err != nil {
		t.Fatalf("get cell: %v", err)
	}
	return c
}

func TestWorkingDay(t *testing.T) {
	cal := testCalendar()
	painting := cal.Processes[0]
	tests := []struct {
		date string
		want bool
	}{
		{"2025-01-06", true},
		{"2025-01-08", false}, // holiday
		{"2025-01-11", false}, // saturday
		{"2025-01-12", false}, // sunday
	}
	for _, tt := range tests {
		d, _ := time.Parse(time.DateOnly, tt.date)
		if got := WorkingDay(cal, painting, d); got != tt.want {
			t.Errorf("WorkingDay(%s) = %v, want %v", tt.date, got, tt.want)
		}
	}
}

func TestMaterialize_Creates(t *testing.T) {
	db := testDB(t)

	res, err := Materialize(db, testCalendar(), monday)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	// painting: 7 days - holiday - weekend = 4; assembly: 7 - holiday = 6.
	if res.Created != 10 {
		t.Errorf("Created = %d, want 10", res.Created)
	}
	if res.Skipped != 4 {
		t.Errorf("Skipped = %d, want 4", res.Skipped)
	}

	c := cellOn(t, db, "painting", "2025-01-06")
	if !c.TotalHours.Equal(decimal.NewFromInt(16)) {
		t.Errorf("painting total = %s, want 16", c.TotalHours)
	}
	if ledger.Materialized(cellOn(t, db, "painting", "2025-01-11")) {
		t.Error("saturday cell should not be materialized")
	}
	if ledger.Materialized(cellOn(t, db, "assembly", "2025-01-08")) {
		t.Error("holiday cell should not be materialized")
	}
}

func TestMaterialize_Idempotent(t *testing.T) {
	db := testDB(t)
	if _, err := Materialize(db, testCalendar(), monday); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	res, err := Materialize(db, testCalendar(), monday)
	if err != nil {
		t.Fatalf("materialize again: %v", err)
	}
	if res.Created != 0 || res.Updated != 0 || res.Unchanged != 10 {
		t.Errorf("second pass = %+v, want 10 unchanged", res)
	}
}

func TestMaterialize_KeepsOccupiedAndOverrides(t *testing.T) {
	db := testDB(t)
	if _, err := Materialize(db, testCalendar(), monday); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	rec := models.ScheduleRecord{
		Sequence: 1, ChainID: "c", SourceNo: "SO-1", Process: "painting", Material: "PANEL",
		PlannedDate: "2025-01-06", EffectiveDate: "2025-01-06",
		Hours: decimal.NewFromInt(6), Qty: decimal.NewFromInt(30), State: models.RecordProvisional,
	}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("create record: %v", err)
	}
	if _, err := ledger.CommitAllocation(db, "painting", "2025-01-06", decimal.NewFromInt(6), rec.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := ledger.ManualOverride(db, "painting", "2025-01-07", decimal.NewFromInt(4)); err != nil {
		t.Fatalf("override: %v", err)
	}

	cal := testCalendar()
	cal.Processes[0].Workstations = 3
	res, err := Materialize(db, cal, monday)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if res.Updated != 4 {
		t.Errorf("Updated = %d, want 4", res.Updated)
	}

	c := cellOn(t, db, "painting", "2025-01-06")
	if !c.TotalHours.Equal(decimal.NewFromInt(24)) || !c.RemainingHours.Equal(decimal.NewFromInt(18)) {
		t.Errorf("total/remaining = %s/%s, want 24/18", c.TotalHours, c.RemainingHours)
	}
	if !c.OccupiedHours.Equal(decimal.NewFromInt(6)) {
		t.Errorf("occupied = %s, want 6", c.OccupiedHours)
	}
	over := cellOn(t, db, "painting", "2025-01-07")
	if !over.TotalHours.Equal(decimal.NewFromInt(4)) {
		t.Errorf("overridden total = %s, want 4", over.TotalHours)
	}
	if over.Workstations != 3 {
		t.Errorf("overridden workstations = %d, want 3", over.Workstations)
	}
}

func TestPrune(t *testing.T) {
	db := testDB(t)
	if _, err := Materialize(db, testCalendar(), monday); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	rec := models.ScheduleRecord{
		Sequence: 1, ChainID: "c", SourceNo: "SO-1", Process: "painting", Material: "PANEL",
		PlannedDate: "2025-01-06", EffectiveDate: "2025-01-06",
		Hours: decimal.NewFromInt(1), Qty: decimal.NewFromInt(5), State: models.RecordCommitted,
	}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("create record: %v", err)
	}

	n, err := Prune(db, "2025-01-08")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	// 01-06 and 01-07 for both processes, minus the referenced painting cell.
	if n != 3 {
		t.Errorf("pruned = %d, want 3", n)
	}
	if !ledger.Materialized(cellOn(t, db, "painting", "2025-01-06")) {
		t.Error("referenced cell was pruned")
	}

	if _, err := Prune(db, "yesterday"); err == nil {
		t.Error("expected error for invalid date")
	}
}

func TestParseSchedule(t *testing.T) {
	if _, err := ParseSchedule("0 1 * * *"); err != nil {
		t.Errorf("valid schedule: %v", err)
	}
	if _, err := ParseSchedule("not a cron expr"); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestJob_RunOnce(t *testing.T) {
	db := testDB(t)
	var out bytes.Buffer
	var drifted []ledger.Drift
	job := &Job{
		DB:       db,
		Calendar: testCalendar(),
		Out:      &out,
		Now:      func() time.Time { return monday },
		OnDrift:  func(_ context.Context, d []ledger.Drift) { drifted = d },
	}
	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !strings.Contains(out.String(), "10 created") {
		t.Errorf("output = %q, want created count", out.String())
	}

	// Corrupt one cell; the next pass reports and repairs it.
	db.Model(&models.CapacityCell{}).
		Where("process = ? AND date = ?", "assembly", "2025-01-07").
		Updates(map[string]interface{}{"occupied_hours": 3, "remaining_hours": 4.5})
	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(drifted) != 1 || drifted[0].Date != "2025-01-07" {
		t.Errorf("drift = %+v, want one cell on 2025-01-07", drifted)
	}
	c := cellOn(t, db, "assembly", "2025-01-07")
	if !c.OccupiedHours.IsZero() {
		t.Errorf("occupied after reconcile = %s, want 0", c.OccupiedHours)
	}
}

func TestJob_RunStopsOnCancel(t *testing.T) {
	db := testDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{DB: db, Calendar: testCalendar(), Now: func() time.Time { return monday }}

	done := make(chan error, 1)
	go func() { done <- job.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
