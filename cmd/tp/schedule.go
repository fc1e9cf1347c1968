package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/throughput/internal/notify"
	"github.com/zulandar/throughput/internal/schedule"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule demand against process capacity",
	}

	cmd.AddCommand(newScheduleRunCmd())
	return cmd
}

func newScheduleRunCmd() *cobra.Command {
	var (
		configPath string
		file       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Schedule a batch of demand lines from a YAML file",
		Long: `Reads demand lines from a YAML file and schedules them in file order.

Each line becomes a chain of schedule records placed on the earliest days
with free capacity. Lines that fail validation are skipped; the rest of the
batch still runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleRun(cmd, configPath, file)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Throughput config file")
	cmd.Flags().StringVarP(&file, "file", "f", "", "demand file (YAML)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func runScheduleRun(cmd *cobra.Command, configPath, file string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read demand file: %w", err)
	}
	lines, err := schedule.ParseDemands(data)
	if err != nil {
		return err
	}

	ctrl, closer, err := newController(ctx, cfg, gormDB)
	if err != nil {
		return err
	}
	defer closer.Close()

	res, err := ctrl.RunBatch(ctx, lines)
	if err != nil {
		return err
	}
	printBatch(out, res)

	notifier, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return err
	}
	if notifier.Enabled() {
		if err := notifier.Send(ctx, notify.FormatBatch(res)); err != nil {
			log.Printf("schedule: %v", err)
		}
	}
	return nil
}

func printBatch(out io.Writer, res *schedule.BatchResult) {
	fmt.Fprintf(out, "Batch %s: %d processed, %d succeeded, %d failed\n\n",
		res.ID, res.Processed, res.Succeeded, len(res.Failed))

	if len(res.Chains) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tCHAIN\tPROCESS\tSTATE\tALLOCATED\tTOTAL\tRECORDS\tLAST DATE")
		for _, c := range res.Chains {
			last := "-"
			if n := len(c.Records); n > 0 {
				last = c.Records[n-1].EffectiveDate
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				c.SourceNo, shortID(c.ChainID), c.Process, formatState(out, c.State),
				formatQty(c.AllocatedQty), formatQty(c.TotalQty), len(c.Records), last)
		}
		w.Flush()
	}

	if len(res.Failed) > 0 {
		fmt.Fprintln(out, "\nNot completed:")
		for _, f := range res.Failed {
			fmt.Fprintf(out, "  %s [%s] %s\n", f.SourceNo, formatState(out, f.State), f.Reason)
		}
	}
}
