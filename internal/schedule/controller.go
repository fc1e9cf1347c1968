// Package schedule places demand lines against finite daily process capacity.
//
// A demand line is satisfied by a chain of schedule records. Each step picks
// the earliest date with spare hours, claims as much as fits, commits it to
// the capacity ledger, and carries the unscheduled remainder forward to the
// following day until the demand is placed, capacity runs out, or the chain
// reaches its depth limit.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zulandar/throughput/internal/ledger"
	"github.com/zulandar/throughput/internal/models"
	"github.com/zulandar/throughput/internal/query"
	"github.com/zulandar/throughput/internal/sequence"
	"gorm.io/gorm"
)

// Deriver turns a committed record into demand for a dependent process, or
// returns nil when the dependent process has enough buffer.
type Deriver interface {
	DeriveDownstreamDemand(ctx context.Context, rec models.ScheduleRecord) (*DemandLine, error)
}

// Options bounds the controller.
type Options struct {
	MaxChainDepth       int
	CommitRetries       int
	MaxPropagationDepth int
	Deriver             Deriver
	Now                 func() time.Time
}

// Controller runs demand lines to a terminal state, one chain at a time.
type Controller struct {
	db   *gorm.DB
	seq  sequence.Allocator
	opts Options
}

// ChainState is the externally visible progress of one chain.
type ChainState struct {
	ChainID      string
	SourceNo     string
	Process      string
	Material     string
	TotalQty     decimal.Decimal
	AllocatedQty decimal.Decimal
	RemainingQty decimal.Decimal
	State        string
	Reason       string
	Steps        int
	Records      []models.ScheduleRecord

	depth    int
	derived  []DemandLine
	cascaded []*ChainState
}

// Terminal reports whether the chain reached a final state.
func (s *ChainState) Terminal() bool { return models.IsTerminal(s.State) }

// New creates a controller. Zero options take the configured defaults.
func New(db *gorm.DB, seq sequence.Allocator, opts Options) *Controller {
	if opts.MaxChainDepth <= 0 {
		opts.MaxChainDepth = 365
	}
	if opts.CommitRetries < 0 {
		opts.CommitRetries = 0
	}
	if opts.MaxPropagationDepth <= 0 {
		opts.MaxPropagationDepth = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{db: db, seq: seq, opts: opts}
}

// RunChain schedules one validated demand line as a new chain.
func (c *Controller) RunChain(ctx context.Context, batchID string, line DemandLine) (*ChainState, error) {
	if err := line.Validate(); err != nil {
		return nil, err
	}
	chain := models.ScheduleChain{
		ID:             uuid.NewString(),
		BatchID:        batchID,
		SourceNo:       line.SourceNo,
		OrderNo:        line.OrderNo,
		Process:        line.Process,
		Material:       line.Material,
		TotalQty:       line.TotalQty,
		HourlyQuota:    line.HourlyQuota,
		EarliestDate:   line.EarliestDate,
		AllocatedQty:   decimal.Zero,
		RemainingQty:   line.TotalQty,
		State:          models.ChainPending,
		Depth:          line.Depth,
		ParentRecordID: line.ParentRecordID,
	}
	if err := c.db.WithContext(ctx).Create(&chain).Error; err != nil {
		return nil, fmt.Errorf("schedule: create chain for %s: %w", line.SourceNo, err)
	}
	return c.run(ctx, &chain, line)
}

// ReplayChain discards a chain's records, recomputing every cell they
// occupied, and schedules it again with a new total quantity. What the old
// records propagated is withdrawn first; downstream chains replayed as a
// result are reported on the returned state.
func (c *Controller) ReplayChain(ctx context.Context, batchID, chainID string, total decimal.Decimal) (*ChainState, error) {
	cas := newCascade(batchID)
	state, err := c.replay(ctx, cas, chainID, total)
	if err != nil {
		return nil, err
	}
	state.cascaded = cas.replayed
	return state, nil
}

func (c *Controller) replay(ctx context.Context, cas *cascade, chainID string, total decimal.Decimal) (*ChainState, error) {
	db := c.db.WithContext(ctx)
	var chain models.ScheduleChain
	if err := db.Where("id = ?", chainID).First(&chain).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("schedule: %w: %s", ErrChainNotFound, chainID)
		}
		return nil, fmt.Errorf("schedule: get chain %s: %w", chainID, err)
	}
	if err := c.withdraw(ctx, cas, chainID); err != nil {
		return nil, fmt.Errorf("schedule: replay %s: %w", chainID, err)
	}
	if _, err := ledger.DeleteChainRecords(db, chainID); err != nil {
		return nil, fmt.Errorf("schedule: replay %s: %w", chainID, err)
	}

	chain.BatchID = cas.batchID
	chain.TotalQty = total
	chain.AllocatedQty = decimal.Zero
	chain.RemainingQty = total
	chain.State = models.ChainPending
	chain.Reason = ""
	chain.Records = nil
	if err := db.Save(&chain).Error; err != nil {
		return nil, fmt.Errorf("schedule: reset chain %s: %w", chainID, err)
	}
	return c.run(ctx, &chain, chainDemand(chain))
}

// chainDemand rebuilds the demand line a chain was created from.
func chainDemand(chain models.ScheduleChain) DemandLine {
	return DemandLine{
		Process:        chain.Process,
		Material:       chain.Material,
		TotalQty:       chain.TotalQty,
		HourlyQuota:    chain.HourlyQuota,
		EarliestDate:   chain.EarliestDate,
		SourceNo:       chain.SourceNo,
		OrderNo:        chain.OrderNo,
		Depth:          chain.Depth,
		ParentRecordID: chain.ParentRecordID,
	}
}

// run drives the chain state machine:
// PENDING → ALLOCATING → {CONTINUING → ALLOCATING, COMPLETE, EXHAUSTED}.
// Infrastructure errors end the chain FAILED; records committed before the
// failure stay in place.
func (c *Controller) run(ctx context.Context, chain *models.ScheduleChain, line DemandLine) (*ChainState, error) {
	state := &ChainState{
		ChainID:      chain.ID,
		SourceNo:     line.SourceNo,
		Process:      line.Process,
		Material:     line.Material,
		TotalQty:     line.TotalQty,
		AllocatedQty: decimal.Zero,
		RemainingQty: line.TotalQty,
		depth:        line.Depth,
	}
	c.transition(ctx, chain, state, models.ChainAllocating)

	planned := line.EarliestDate
	var prev *models.ScheduleRecord
	for {
		if err := ctx.Err(); err != nil {
			c.finish(ctx, chain, state, models.ChainFailed, err)
			return state, nil
		}
		if state.Steps >= c.opts.MaxChainDepth {
			c.finish(ctx, chain, state, models.ChainRecursionLimit,
				&RecursionLimitExceeded{ChainID: chain.ID, Depth: c.opts.MaxChainDepth})
			return state, nil
		}
		state.Steps++

		required := RequiredHours(state.RemainingQty, line.HourlyQuota)
		rec, alloc, err := c.step(ctx, line, chain.ID, planned, required, state.RemainingQty, prev)
		var notFound *CapacityNotFoundError
		switch {
		case errors.As(err, &notFound):
			c.finish(ctx, chain, state, models.ChainExhausted, err)
			return state, nil
		case err != nil:
			c.finish(ctx, chain, state, models.ChainFailed, err)
			return state, nil
		}

		if rec == nil {
			// Earlier claims hold the whole cell; look from the next day.
			if planned, err = AddDays(alloc.EffectiveDate, 1); err != nil {
				c.finish(ctx, chain, state, models.ChainFailed, err)
				return state, nil
			}
			continue
		}

		prev = rec
		state.Records = append(state.Records, *rec)
		state.AllocatedQty = rec.CumulativeQty
		state.RemainingQty = rec.RemainingQty
		c.derive(ctx, state, *rec)

		if !rec.RemainingQty.IsPositive() {
			c.finish(ctx, chain, state, models.ChainComplete, nil)
			return state, nil
		}
		c.transition(ctx, chain, state, models.ChainContinuing)
		planned = rec.NextPlannedDate
	}
}

// step runs one allocation and commits it. A commit that overruns the cell
// because a concurrent writer took the hours first is retried with a fresh
// sequence number; the abandoned number is never reused. A nil record with a
// non-nil allocation means the effective date had no hours left.
func (c *Controller) step(ctx context.Context, line DemandLine, chainID, planned string, required, remainingQty decimal.Decimal, prev *models.ScheduleRecord) (*models.ScheduleRecord, *Allocation, error) {
	db := c.db.WithContext(ctx)
	for attempt := 0; ; attempt++ {
		position, err := c.seq.Next(ctx)
		if err != nil {
			return nil, nil, err
		}

		alloc, err := Allocate(db, line, planned, required, position)
		if err != nil {
			return nil, nil, err
		}
		if !alloc.Hours.IsPositive() {
			return nil, alloc, nil
		}

		next, err := AddDays(alloc.EffectiveDate, 1)
		if err != nil {
			return nil, nil, err
		}
		rec := models.ScheduleRecord{
			Sequence:        position,
			ChainID:         chainID,
			SourceNo:        line.SourceNo,
			OrderNo:         line.OrderNo,
			Process:         line.Process,
			Material:        line.Material,
			PlannedDate:     planned,
			EffectiveDate:   alloc.EffectiveDate,
			Hours:           alloc.Hours,
			Qty:             decimal.Min(alloc.Qty, remainingQty),
			CumulativeQty:   decimal.Zero,
			RemainingQty:    remainingQty,
			NextPlannedDate: next,
			State:           models.RecordProvisional,
			TerminalState:   models.ChainContinuing,
		}
		if prev != nil {
			rec.PrevRecordID = &prev.ID
		}
		if err := db.Create(&rec).Error; err != nil {
			return nil, nil, fmt.Errorf("schedule: claim %s/%s: %w", line.Process, alloc.EffectiveDate, err)
		}

		_, err = ledger.CommitAllocation(db, line.Process, alloc.EffectiveDate, alloc.Hours, rec.ID)
		if err != nil {
			if delErr := ledger.DeleteRecord(db, rec.ID); delErr != nil {
				log.Printf("schedule: release claim %d: %v", rec.ID, delErr)
			}
			var overrun *ledger.CapacityOverrunError
			if errors.As(err, &overrun) && attempt < c.opts.CommitRetries {
				log.Printf("schedule: chain %s: %v; retrying (%d/%d)", chainID, err, attempt+1, c.opts.CommitRetries)
				continue
			}
			return nil, nil, err
		}

		cumulative, err := query.SumWhere(db, "schedule_records", "qty",
			query.Eq("chain_id", chainID),
			query.Lte("sequence", position),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("schedule: cumulative qty of %s: %w", chainID, err)
		}
		rec.CumulativeQty = cumulative
		rec.RemainingQty = line.TotalQty.Sub(cumulative)
		if !rec.RemainingQty.IsPositive() {
			rec.TerminalState = models.ChainComplete
		}
		rec.State = models.RecordCommitted
		if err := db.Model(&rec).Updates(map[string]interface{}{
			"cumulative_qty": rec.CumulativeQty,
			"remaining_qty":  rec.RemainingQty,
			"terminal_state": rec.TerminalState,
		}).Error; err != nil {
			return nil, nil, fmt.Errorf("schedule: finalize record %d: %w", rec.ID, err)
		}
		return &rec, alloc, nil
	}
}

// transition moves a non-terminal chain to state and persists it.
func (c *Controller) transition(ctx context.Context, chain *models.ScheduleChain, state *ChainState, to string) {
	state.State = to
	chain.State = to
	chain.AllocatedQty = state.AllocatedQty
	chain.RemainingQty = state.RemainingQty
	if err := c.db.WithContext(ctx).Model(chain).Updates(map[string]interface{}{
		"state":         chain.State,
		"allocated_qty": chain.AllocatedQty,
		"remaining_qty": chain.RemainingQty,
	}).Error; err != nil {
		log.Printf("schedule: persist chain %s state %s: %v", chain.ID, to, err)
	}
}

// finish records the terminal state and its reason.
func (c *Controller) finish(ctx context.Context, chain *models.ScheduleChain, state *ChainState, to string, reason error) {
	ctx = context.WithoutCancel(ctx)
	if reason != nil {
		state.Reason = reason.Error()
	}
	chain.Reason = state.Reason
	if err := c.db.WithContext(ctx).Model(chain).Update("reason", chain.Reason).Error; err != nil {
		log.Printf("schedule: persist chain %s reason: %v", chain.ID, err)
	}
	c.transition(ctx, chain, state, to)
}
