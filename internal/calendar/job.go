package calendar

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/throughput/internal/config"
	"github.com/zulandar/throughput/internal/ledger"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates a 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("calendar: schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Job is one maintenance pass: materialize the horizon, prune the past, and
// check the ledger against its records.
type Job struct {
	DB       *gorm.DB
	Calendar config.CalendarConfig
	Out      io.Writer
	Now      func() time.Time

	// OnDrift is called when the ledger check finds cells out of step with
	// their records. The cells are rebuilt after the call.
	OnDrift func(ctx context.Context, drift []ledger.Drift)
}

// RunOnce performs a single pass.
func (j *Job) RunOnce(ctx context.Context) error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	today := now()
	db := j.DB.WithContext(ctx)

	res, err := Materialize(db, j.Calendar, today)
	if err != nil {
		return err
	}
	pruned, err := Prune(db, today.Format(time.DateOnly))
	if err != nil {
		return err
	}
	if j.Out != nil {
		fmt.Fprintf(j.Out, "calendar: %d created, %d updated, %d unchanged, %d rest days, %d pruned\n",
			res.Created, res.Updated, res.Unchanged, res.Skipped, pruned)
	}

	drift, err := ledger.Verify(db, "")
	if err != nil {
		return err
	}
	if len(drift) == 0 {
		return nil
	}
	if j.OnDrift != nil {
		j.OnDrift(ctx, drift)
	}
	n, err := ledger.Reconcile(db, "")
	if err != nil {
		return err
	}
	log.Printf("calendar: ledger drift on %d cells; reconciled %d", len(drift), n)
	return nil
}

// Run executes the job once immediately and then on the configured cron
// schedule until ctx is cancelled.
func (j *Job) Run(ctx context.Context) error {
	if _, err := ParseSchedule(j.Calendar.Schedule); err != nil {
		return err
	}
	if err := j.RunOnce(ctx); err != nil {
		log.Printf("calendar: run: %v", err)
	}

	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(j.Calendar.Schedule, func() {
		if err := j.RunOnce(ctx); err != nil {
			log.Printf("calendar: run: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("calendar: schedule job: %w", err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
