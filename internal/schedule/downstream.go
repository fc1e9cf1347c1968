package schedule

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/throughput/internal/ledger"
	"github.com/zulandar/throughput/internal/models"
	"github.com/zulandar/throughput/internal/query"
)

// derive asks the Deriver for downstream demand after a committed record and
// queues whatever it returns on the chain state. Derivation problems never
// fail the upstream chain.
func (c *Controller) derive(ctx context.Context, state *ChainState, rec models.ScheduleRecord) {
	if c.opts.Deriver == nil {
		return
	}
	line, err := c.opts.Deriver.DeriveDownstreamDemand(ctx, rec)
	if err != nil {
		log.Printf("schedule: derive downstream of record %d: %v", rec.ID, err)
		return
	}
	if line == nil {
		return
	}
	line.Depth = state.depth + 1
	if line.ParentRecordID == nil {
		id := rec.ID
		line.ParentRecordID = &id
	}
	if line.OrderNo == "" {
		line.OrderNo = rec.OrderNo
	}
	if line.OrderNo == "" {
		line.OrderNo = rec.SourceNo
	}
	if line.Depth > c.opts.MaxPropagationDepth {
		log.Printf("schedule: drop downstream demand for %s/%s from record %d: propagation depth %d > %d",
			line.Process, line.Material, rec.ID, line.Depth, c.opts.MaxPropagationDepth)
		return
	}
	state.derived = append(state.derived, *line)
}

// submitDerived places a propagated demand line. A matching chain (same
// order, material and downstream process, still planned in the future) is
// grown by the shortfall and replayed; otherwise a new chain is created.
// Exactly one of the two happens, and the parent record is linked to the
// chain it fed. A nil state with a nil error means the parent record was
// withdrawn before the line ran, so the line is obsolete.
func (c *Controller) submitDerived(ctx context.Context, batchID string, line DemandLine) (*ChainState, error) {
	if err := line.Validate(); err != nil {
		return nil, err
	}
	db := c.db.WithContext(ctx)
	if line.ParentRecordID != nil {
		n, err := query.CountWhere(db, "schedule_records", query.Eq("id", *line.ParentRecordID))
		if err != nil {
			return nil, fmt.Errorf("schedule: find parent record %d: %w", *line.ParentRecordID, err)
		}
		if n == 0 {
			log.Printf("schedule: drop downstream demand for %s/%s: record %d was withdrawn",
				line.Process, line.Material, *line.ParentRecordID)
			return nil, nil
		}
	}

	today := c.opts.Now().Format(time.DateOnly)
	match, err := query.LookupWhere[string](db, "schedule_chains", "id",
		query.Eq("order_no", line.OrderNo),
		query.Eq("material", line.Material),
		query.Eq("process", line.Process),
		query.Gt("earliest_date", today),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule: match downstream chain: %w", err)
	}

	var state *ChainState
	if match == nil {
		state, err = c.RunChain(ctx, batchID, line)
	} else {
		var existing models.ScheduleChain
		if err := db.Where("id = ?", *match).First(&existing).Error; err != nil {
			return nil, fmt.Errorf("schedule: load downstream chain %s: %w", *match, err)
		}
		state, err = c.ReplayChain(ctx, batchID, existing.ID, existing.TotalQty.Add(line.TotalQty))
	}
	if err != nil {
		return nil, err
	}

	if line.ParentRecordID != nil {
		if err := db.Model(&models.ScheduleRecord{}).Where("id = ?", *line.ParentRecordID).Updates(map[string]interface{}{
			"derived_chain_id": state.ChainID,
			"derived_qty":      line.TotalQty,
		}).Error; err != nil {
			log.Printf("schedule: link record %d to chain %s: %v", *line.ParentRecordID, state.ChainID, err)
		}
	}
	return state, nil
}

// cascade tracks one withdrawal so a route cycle visits each chain once.
type cascade struct {
	batchID  string
	seen     map[string]bool
	replayed []*ChainState
}

func newCascade(batchID string) *cascade {
	return &cascade{batchID: batchID, seen: make(map[string]bool)}
}

// withdraw reverses what a chain's records propagated. Stock booked for them
// is released, and every downstream chain they fed shrinks by their share: a
// chain left with nothing is discarded, any other is replayed at its reduced
// total. The chain's own records are left for the caller to delete.
func (c *Controller) withdraw(ctx context.Context, cas *cascade, chainID string) error {
	if cas.seen[chainID] {
		return nil
	}
	cas.seen[chainID] = true

	db := c.db.WithContext(ctx)
	var recs []models.ScheduleRecord
	if err := db.Where("chain_id = ?", chainID).Order("sequence ASC").Find(&recs).Error; err != nil {
		return fmt.Errorf("schedule: records of chain %s: %w", chainID, err)
	}
	if len(recs) == 0 {
		return nil
	}

	refs := make([]string, 0, len(recs))
	shares := make(map[string]decimal.Decimal)
	var children []string
	for _, r := range recs {
		refs = append(refs, models.RecordRef(r.ID))
		if r.DerivedChainID == "" || !r.DerivedQty.IsPositive() {
			continue
		}
		if _, ok := shares[r.DerivedChainID]; !ok {
			children = append(children, r.DerivedChainID)
		}
		shares[r.DerivedChainID] = shares[r.DerivedChainID].Add(r.DerivedQty)
	}
	if err := db.Where("doc_ref IN ?", refs).Delete(&models.StockMovement{}).Error; err != nil {
		return fmt.Errorf("schedule: release stock of chain %s: %w", chainID, err)
	}

	for _, id := range children {
		if cas.seen[id] {
			continue
		}
		var child models.ScheduleChain
		found := db.Where("id = ?", id).Limit(1).Find(&child)
		if found.Error != nil {
			return fmt.Errorf("schedule: load downstream chain %s: %w", id, found.Error)
		}
		if found.RowsAffected == 0 {
			continue
		}
		total := child.TotalQty.Sub(shares[id])
		if !total.IsPositive() {
			if err := c.discard(ctx, cas, id); err != nil {
				return err
			}
			continue
		}
		state, err := c.replay(ctx, cas, id, total)
		if err != nil {
			return err
		}
		if state.State != models.ChainComplete {
			log.Printf("schedule: downstream chain %s replayed at %s ended %s: %s", id, total, state.State, state.Reason)
		}
		cas.replayed = append(cas.replayed, state)
	}
	return nil
}

// discard withdraws a chain's downstream effects, then deletes its records,
// the links pointing at it, and the chain itself.
func (c *Controller) discard(ctx context.Context, cas *cascade, chainID string) error {
	if err := c.withdraw(ctx, cas, chainID); err != nil {
		return err
	}
	db := c.db.WithContext(ctx)
	if _, err := ledger.DeleteChainRecords(db, chainID); err != nil {
		return fmt.Errorf("schedule: discard chain %s: %w", chainID, err)
	}
	if err := db.Model(&models.ScheduleRecord{}).Where("derived_chain_id = ?", chainID).Updates(map[string]interface{}{
		"derived_chain_id": "",
		"derived_qty":      decimal.Zero,
	}).Error; err != nil {
		return fmt.Errorf("schedule: unlink chain %s: %w", chainID, err)
	}
	if err := db.Where("id = ?", chainID).Delete(&models.ScheduleChain{}).Error; err != nil {
		return fmt.Errorf("schedule: discard chain %s: %w", chainID, err)
	}
	return nil
}
