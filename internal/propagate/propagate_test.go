package propagate

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/throughput/internal/config"
	"github.com/zulandar/throughput/internal/ledger"
	"github.com/zulandar/throughput/internal/models"
	"github.com/zulandar/throughput/internal/schedule"
	"github.com/zulandar/throughput/internal/sequence"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.CapacityCell{},
		&models.ScheduleRecord{},
		&models.ScheduleChain{},
		&models.ScheduleBatch{},
		&models.Sequence{},
		&models.StockMovement{},
	))
	return db
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, label string) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "%s = %s, want %s", label, got, want)
}

var paintToAssembly = config.RouteConfig{
	From:        "painting",
	To:          "assembly",
	Material:    "CABINET",
	HourlyQuota: 10,
	Ratio:       1,
	LeadDays:    1,
}

func record(qty string) models.ScheduleRecord {
	return models.ScheduleRecord{
		ID:            7,
		Process:       "painting",
		Material:      "PANEL",
		SourceNo:      "SO-1",
		OrderNo:       "ORD-1",
		EffectiveDate: "2025-01-10",
		Qty:           d(qty),
	}
}

func stock(t *testing.T, db *gorm.DB, material, date, qty string) {
	t.Helper()
	require.NoError(t, db.Create(&models.StockMovement{Material: material, EffectiveDate: date, QtyDelta: d(qty)}).Error)
}

func seedCells(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, c := range []models.CapacityCell{
		{Process: "painting", Date: "2025-01-10", ShiftHours: d("10"), Workstations: 1, TotalHours: d("10"), RemainingHours: d("10")},
		{Process: "assembly", Date: "2025-01-11", ShiftHours: d("8"), Workstations: 1, TotalHours: d("8"), RemainingHours: d("8")},
	} {
		c := c
		require.NoError(t, db.Create(&c).Error)
	}
}

var assemblyToPacking = config.RouteConfig{
	From:        "assembly",
	To:          "packing",
	Material:    "BOX",
	HourlyQuota: 10,
	Ratio:       1,
	LeadDays:    1,
}

func newController(t *testing.T, db *gorm.DB, routes ...config.RouteConfig) *schedule.Controller {
	t.Helper()
	seq, err := sequence.NewDB(db, "schedule_record")
	require.NoError(t, err)
	if len(routes) == 0 {
		routes = []config.RouteConfig{paintToAssembly}
	}
	return schedule.New(db, seq, schedule.Options{
		Deriver: New(db, routes),
		Now:     func() time.Time { return time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC) },
	})
}

func painting(sourceNo, qty string) schedule.DemandLine {
	return schedule.DemandLine{
		Process:      "painting",
		Material:     "PANEL",
		TotalQty:     d(qty),
		HourlyQuota:  d("5"),
		EarliestDate: "2025-01-10",
		SourceNo:     sourceNo,
		OrderNo:      "ORD-1",
	}
}

func TestDerive_NoRoute(t *testing.T) {
	db := testDB(t)
	deriver := New(db, []config.RouteConfig{paintToAssembly})

	rec := record("30")
	rec.Process = "assembly"
	line, err := deriver.DeriveDownstreamDemand(context.Background(), rec)
	require.NoError(t, err)
	assert.Nil(t, line)
}

func TestDerive_Shortfall(t *testing.T) {
	tests := []struct {
		name      string
		stock     []string // date, qty
		ratio     float64
		qty       string
		wantTotal string // "" means no line
	}{
		{name: "no buffer", qty: "30", ratio: 1, wantTotal: "30"},
		{name: "partial buffer", stock: []string{"2025-01-05", "12"}, qty: "30", ratio: 1, wantTotal: "18"},
		{name: "buffer covers", stock: []string{"2025-01-11", "40"}, qty: "30", ratio: 1, wantTotal: ""},
		{name: "stock after lead date ignored", stock: []string{"2025-01-12", "40"}, qty: "30", ratio: 1, wantTotal: "30"},
		{name: "ratio rounds", qty: "5", ratio: 2.5, wantTotal: "13"},
		{name: "negative buffer is zero", stock: []string{"2025-01-01", "-10"}, qty: "4", ratio: 1, wantTotal: "4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testDB(t)
			if len(tt.stock) == 2 {
				stock(t, db, "PANEL", tt.stock[0], tt.stock[1])
			}
			route := paintToAssembly
			route.Ratio = tt.ratio
			deriver := New(db, []config.RouteConfig{route})

			line, err := deriver.DeriveDownstreamDemand(context.Background(), record(tt.qty))
			require.NoError(t, err)
			if tt.wantTotal == "" {
				assert.Nil(t, line)
				return
			}
			require.NotNil(t, line)
			assertDec(t, tt.wantTotal, line.TotalQty, "TotalQty")
			assert.Equal(t, "assembly", line.Process)
			assert.Equal(t, "CABINET", line.Material)
			assert.Equal(t, "2025-01-11", line.EarliestDate)
			assert.Equal(t, "ORD-1", line.OrderNo)
		})
	}
}

func TestDerive_BooksCoveredStock(t *testing.T) {
	db := testDB(t)
	stock(t, db, "PANEL", "2025-01-05", "20")
	deriver := New(db, []config.RouteConfig{paintToAssembly})

	first, err := deriver.DeriveDownstreamDemand(context.Background(), record("15"))
	require.NoError(t, err)
	assert.Nil(t, first)

	second, err := deriver.DeriveDownstreamDemand(context.Background(), record("15"))
	require.NoError(t, err)
	require.NotNil(t, second)
	assertDec(t, "10", second.TotalQty, "second shortfall")

	buffer, err := ProjectedBuffer(db, "PANEL", "2025-01-11")
	require.NoError(t, err)
	assert.True(t, buffer.IsZero(), "buffer = %s, want 0", buffer)

	var consumed []models.StockMovement
	require.NoError(t, db.Where("doc_ref = ?", models.RecordRef(7)).Find(&consumed).Error)
	assert.Len(t, consumed, 2)
}

func TestRouteDeriver_WithController(t *testing.T) {
	db := testDB(t)
	seedCells(t, db)
	stock(t, db, "PANEL", "2025-01-01", "10")

	res, err := newController(t, db).RunBatch(context.Background(), []schedule.DemandLine{painting("SO-1", "30")})
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed, "failed: %+v", res.Failed)
	require.Equal(t, 2, res.Succeeded, "failed: %+v", res.Failed)

	down := res.Chains[1]
	assert.Equal(t, "assembly", down.Process)
	assertDec(t, "20", down.TotalQty, "downstream total")
}

func TestReplay_ReleasesBookedStock(t *testing.T) {
	db := testDB(t)
	seedCells(t, db)
	require.NoError(t, db.Create(&models.CapacityCell{
		Process: "packing", Date: "2025-01-12", ShiftHours: d("8"), Workstations: 1, TotalHours: d("8"), RemainingHours: d("8"),
	}).Error)
	stock(t, db, "CABINET", "2025-01-01", "10")
	ctrl := newController(t, db, paintToAssembly, assemblyToPacking)
	ctx := context.Background()

	_, err := ctrl.RunBatch(ctx, []schedule.DemandLine{painting("SO-1", "30")})
	require.NoError(t, err)

	// A second painting line for the order grows and replays the assembly
	// chain, which books the cabinet stock again from its new record.
	res, err := ctrl.RunBatch(ctx, []schedule.DemandLine{painting("SO-2", "10")})
	require.NoError(t, err)
	assert.Empty(t, res.Failed)

	var bookings []models.StockMovement
	require.NoError(t, db.Where("doc_ref <> ''").Find(&bookings).Error)
	require.Len(t, bookings, 1)
	assertDec(t, "-10", bookings[0].QtyDelta, "booked delta")

	buffer, err := ProjectedBuffer(db, "CABINET", "2025-01-12")
	require.NoError(t, err)
	assert.True(t, buffer.IsZero(), "buffer = %s, want 0", buffer)

	var packing []models.ScheduleChain
	require.NoError(t, db.Where("process = ?", "packing").Find(&packing).Error)
	require.Len(t, packing, 1)
	assertDec(t, "30", packing[0].TotalQty, "packing total")

	cell, err := ledger.GetCell(db, "packing", "2025-01-12")
	require.NoError(t, err)
	assertDec(t, "3", cell.OccupiedHours, "packing occupied")
}

func TestDeleteChain_ReturnsBookedStock(t *testing.T) {
	db := testDB(t)
	seedCells(t, db)
	stock(t, db, "PANEL", "2025-01-01", "10")
	ctrl := newController(t, db)
	ctx := context.Background()

	res, err := ctrl.RunBatch(ctx, []schedule.DemandLine{painting("SO-1", "30")})
	require.NoError(t, err)
	require.Len(t, res.Chains, 2)

	buffer, err := ProjectedBuffer(db, "PANEL", "2025-01-11")
	require.NoError(t, err)
	assert.True(t, buffer.IsZero(), "buffer before delete = %s, want 0", buffer)

	_, err = ctrl.DeleteChain(ctx, res.Chains[0].ChainID)
	require.NoError(t, err)

	buffer, err = ProjectedBuffer(db, "PANEL", "2025-01-11")
	require.NoError(t, err)
	assertDec(t, "10", buffer, "buffer after delete")

	// The assembly chain served only the deleted chain.
	var n int64
	db.Model(&models.ScheduleChain{}).Where("process = ?", "assembly").Count(&n)
	assert.Zero(t, n)

	cell, err := ledger.GetCell(db, "assembly", "2025-01-11")
	require.NoError(t, err)
	assert.True(t, cell.OccupiedHours.IsZero(), "assembly occupied = %s, want 0", cell.OccupiedHours)

	drift, err := ledger.Verify(db, "")
	require.NoError(t, err)
	assert.Empty(t, drift)
}
