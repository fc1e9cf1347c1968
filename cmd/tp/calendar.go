package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/throughput/internal/calendar"
	"github.com/zulandar/throughput/internal/ledger"
	"github.com/zulandar/throughput/internal/notify"
)

func newCalendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Capacity calendar maintenance",
	}

	cmd.AddCommand(newCalendarMaterializeCmd())
	cmd.AddCommand(newCalendarPruneCmd())
	cmd.AddCommand(newCalendarRunCmd())
	return cmd
}

func newCalendarMaterializeCmd() *cobra.Command {
	var configPath, from string

	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Create or refresh capacity cells for the configured horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalendarMaterialize(cmd, configPath, from)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Throughput config file")
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD, default today)")
	return cmd
}

func runCalendarMaterialize(cmd *cobra.Command, configPath, from string) error {
	out := cmd.OutOrStdout()
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	start := time.Now()
	if from != "" {
		if start, err = time.Parse(time.DateOnly, from); err != nil {
			return fmt.Errorf("invalid --from %q: want YYYY-MM-DD", from)
		}
	}

	res, err := calendar.Materialize(gormDB, cfg.Calendar, start)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Materialized %d days from %s: %d created, %d updated, %d unchanged, %d rest days\n",
		cfg.Calendar.HorizonDays, start.Format(time.DateOnly), res.Created, res.Updated, res.Unchanged, res.Skipped)
	return nil
}

func newCalendarPruneCmd() *cobra.Command {
	var configPath, before string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete past cells that no record references",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalendarPrune(cmd, configPath, before)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Throughput config file")
	cmd.Flags().StringVar(&before, "before", "", "prune cells dated before this day (YYYY-MM-DD, default today)")
	return cmd
}

func runCalendarPrune(cmd *cobra.Command, configPath, before string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if before == "" {
		before = time.Now().Format(time.DateOnly)
	}
	n, err := calendar.Prune(gormDB, before)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d cells before %s\n", n, before)
	return nil
}

func newCalendarRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run calendar maintenance on its cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalendarJob(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Throughput config file")
	return cmd
}

func runCalendarJob(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	notifier, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job := &calendar.Job{
		DB:       gormDB,
		Calendar: cfg.Calendar,
		Out:      cmd.OutOrStdout(),
		OnDrift: func(ctx context.Context, drift []ledger.Drift) {
			if err := notifier.Send(ctx, notify.FormatDrift(drift)); err != nil {
				log.Printf("calendar: %v", err)
			}
		},
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Calendar job scheduled %q (Ctrl-C to stop)\n", cfg.Calendar.Schedule)
	return job.Run(ctx)
}
