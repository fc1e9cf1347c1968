package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/zulandar/throughput/internal/models"
	"gorm.io/gorm"
)

// Failure is one demand line that did not reach COMPLETE.
type Failure struct {
	SourceNo string `json:"source_no"`
	ChainID  string `json:"chain_id,omitempty"`
	State    string `json:"state"`
	Reason   string `json:"reason"`
}

// BatchResult is the sole feedback channel of a scheduling trigger.
type BatchResult struct {
	ID        string
	Processed int
	Succeeded int
	Failed    []Failure
	Chains    []*ChainState
}

// queued is a pending line; derived lines go through the downstream upsert.
type queued struct {
	line    DemandLine
	derived bool
}

// RunBatch processes lines sequentially in the order given. Each chain runs
// to a terminal state before the next line starts, and downstream demand a
// chain produces is queued behind the lines already waiting. A failing line
// never aborts its siblings; there is no rollback of committed records.
func (c *Controller) RunBatch(ctx context.Context, lines []DemandLine) (*BatchResult, error) {
	res := &BatchResult{ID: uuid.NewString()}

	queue := make([]queued, 0, len(lines))
	for _, l := range lines {
		queue = append(queue, queued{line: l})
	}
	c.drain(ctx, res, queue)

	if err := saveBatch(c.db.WithContext(ctx), res); err != nil {
		return res, err
	}
	return res, nil
}

// drain runs queued lines until none are left, appending derived demand as
// it appears. Downstream chains replayed along the way are listed in the
// result but are not counted as processed lines.
func (c *Controller) drain(ctx context.Context, res *BatchResult, queue []queued) {
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		var (
			state *ChainState
			err   error
		)
		if item.derived {
			state, err = c.submitDerived(ctx, res.ID, item.line)
			if err == nil && state == nil {
				continue
			}
		} else {
			state, err = c.RunChain(ctx, res.ID, item.line)
		}
		res.Processed++
		if err != nil {
			var verr *ValidationError
			st := models.ChainFailed
			if errors.As(err, &verr) {
				st = "REJECTED"
			}
			res.Failed = append(res.Failed, Failure{SourceNo: item.line.SourceNo, State: st, Reason: err.Error()})
			continue
		}

		res.Chains = append(res.Chains, state)
		if state.State == models.ChainComplete {
			res.Succeeded++
		} else {
			res.Failed = append(res.Failed, Failure{
				SourceNo: state.SourceNo,
				ChainID:  state.ChainID,
				State:    state.State,
				Reason:   state.Reason,
			})
		}
		res.Chains = append(res.Chains, state.cascaded...)
		for _, s := range append([]*ChainState{state}, state.cascaded...) {
			for _, d := range s.derived {
				queue = append(queue, queued{line: d, derived: true})
			}
		}
	}
}

func saveBatch(db *gorm.DB, res *BatchResult) error {
	failures, err := json.Marshal(res.Failed)
	if err != nil {
		return fmt.Errorf("schedule: marshal failures: %w", err)
	}
	if res.Failed == nil {
		failures = []byte("[]")
	}
	batch := models.ScheduleBatch{
		ID:        res.ID,
		Processed: res.Processed,
		Succeeded: res.Succeeded,
		Failed:    len(res.Failed),
		Failures:  string(failures),
	}
	if err := db.Create(&batch).Error; err != nil {
		return fmt.Errorf("schedule: save batch %s: %w", res.ID, err)
	}
	return nil
}

// GetChain loads a chain with its records in sequence order.
func GetChain(db *gorm.DB, id string) (*models.ScheduleChain, error) {
	var chain models.ScheduleChain
	err := db.Preload("Records", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("sequence ASC")
	}).Where("id = ?", id).First(&chain).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("schedule: %w: %s", ErrChainNotFound, id)
		}
		return nil, fmt.Errorf("schedule: get chain %s: %w", id, err)
	}
	return &chain, nil
}

// DeleteChain removes a chain and its records and withdraws what they
// propagated: booked stock is released and downstream chains shrink by the
// demand the chain fed them. Downstream chains that keep demand from other
// sources are replayed, and whatever those replays derive runs as a batch.
// The batch is saved only when something ran.
func (c *Controller) DeleteChain(ctx context.Context, id string) (*BatchResult, error) {
	db := c.db.WithContext(ctx)
	if _, err := GetChain(db, id); err != nil {
		return nil, err
	}

	res := &BatchResult{ID: uuid.NewString()}
	cas := newCascade(res.ID)
	if err := c.discard(ctx, cas, id); err != nil {
		return nil, fmt.Errorf("schedule: delete chain %s: %w", id, err)
	}

	var queue []queued
	for _, s := range cas.replayed {
		res.Chains = append(res.Chains, s)
		for _, d := range s.derived {
			queue = append(queue, queued{line: d, derived: true})
		}
	}
	c.drain(ctx, res, queue)

	if len(res.Chains) == 0 && res.Processed == 0 {
		return res, nil
	}
	if err := saveBatch(db, res); err != nil {
		return res, err
	}
	return res, nil
}
