// Package propagate derives demand for dependent processes from committed
// schedule records, using configured routes and the projected buffer stock
// of the upstream output.
package propagate

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/zulandar/throughput/internal/config"
	"github.com/zulandar/throughput/internal/models"
	"github.com/zulandar/throughput/internal/query"
	"github.com/zulandar/throughput/internal/schedule"
	"gorm.io/gorm"
)

// RouteDeriver implements schedule.Deriver over the configured routes.
type RouteDeriver struct {
	db     *gorm.DB
	routes map[string]config.RouteConfig
}

// New indexes routes by upstream process. The last route wins when a process
// is listed twice.
func New(db *gorm.DB, routes []config.RouteConfig) *RouteDeriver {
	idx := make(map[string]config.RouteConfig, len(routes))
	for _, r := range routes {
		idx[r.From] = r
	}
	return &RouteDeriver{db: db, routes: idx}
}

// Route returns the route leaving process, if any.
func (d *RouteDeriver) Route(process string) (config.RouteConfig, bool) {
	r, ok := d.routes[process]
	return r, ok
}

// ProjectedBuffer is the stock of material available on date: the sum of all
// movements effective on or before it, never below zero.
func ProjectedBuffer(db *gorm.DB, material, date string) (decimal.Decimal, error) {
	sum, err := query.SumWhere(db, "stock_movements", "qty_delta",
		query.Eq("material", material),
		query.Lte("effective_date", date),
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("propagate: buffer of %s on %s: %w", material, date, err)
	}
	return decimal.Max(decimal.Zero, sum), nil
}

// DeriveDownstreamDemand returns the shortfall the dependent process must
// produce for rec, or nil when the record's process has no route or the
// buffer covers the need. The covered part is booked as a negative stock
// movement referencing the record, so the same stock is not counted twice.
func (d *RouteDeriver) DeriveDownstreamDemand(ctx context.Context, rec models.ScheduleRecord) (*schedule.DemandLine, error) {
	route, ok := d.routes[rec.Process]
	if !ok || !rec.Qty.IsPositive() {
		return nil, nil
	}

	earliest, err := schedule.AddDays(rec.EffectiveDate, route.LeadDays)
	if err != nil {
		return nil, err
	}
	need := rec.Qty.Mul(decimal.NewFromFloat(route.Ratio)).Round(0)
	if !need.IsPositive() {
		return nil, nil
	}

	var shortfall decimal.Decimal
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		buffer, err := ProjectedBuffer(tx, rec.Material, earliest)
		if err != nil {
			return err
		}
		covered := decimal.Min(need, buffer)
		shortfall = need.Sub(covered)
		if !covered.IsPositive() {
			return nil
		}
		return tx.Create(&models.StockMovement{
			Material:      rec.Material,
			EffectiveDate: earliest,
			QtyDelta:      covered.Neg(),
			DocRef:        models.RecordRef(rec.ID),
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("propagate: record %d: %w", rec.ID, err)
	}
	if !shortfall.IsPositive() {
		return nil, nil
	}

	material := route.Material
	if material == "" {
		material = rec.Material
	}
	return &schedule.DemandLine{
		Process:      route.To,
		Material:     material,
		TotalQty:     shortfall,
		HourlyQuota:  decimal.NewFromFloat(route.HourlyQuota),
		EarliestDate: earliest,
		SourceNo:     rec.SourceNo,
		OrderNo:      rec.OrderNo,
	}, nil
}
