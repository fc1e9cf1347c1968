package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/zulandar/throughput/internal/ledger"
	"github.com/zulandar/throughput/internal/models"
	"github.com/zulandar/throughput/internal/report"
	"gorm.io/gorm"
)

func newCellCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cell",
		Short: "Inspect and adjust capacity cells",
	}

	cmd.AddCommand(newCellListCmd())
	cmd.AddCommand(newCellShowCmd())
	cmd.AddCommand(newCellRecomputeCmd())
	cmd.AddCommand(newCellOverrideCmd())
	cmd.AddCommand(newCellResetCmd())
	return cmd
}

func newCellListCmd() *cobra.Command {
	var configPath, process, from, to string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List capacity cells",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			rows, err := report.ListCells(gormDB, report.CellFilters{Process: process, From: from, To: to})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No cells found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROCESS\tDATE\tTOTAL\tOCCUPIED\tREMAINING\tUSED")
			for _, r := range rows {
				total := formatHours(r.TotalHours)
				if r.TotalOverridden {
					total += "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Process, r.Date, total,
					formatHours(r.OccupiedHours), formatHours(r.RemainingHours), utilization(r.OccupiedHours, r.TotalHours))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Throughput config file")
	cmd.Flags().StringVar(&process, "process", "", "filter by process")
	cmd.Flags().StringVar(&from, "from", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last date (YYYY-MM-DD)")
	return cmd
}

// cellCommand builds a "<verb> <process> <date>" subcommand around fn.
func cellCommand(use, short string, fn func(gormDB *gorm.DB, process, date string) (*models.CapacityCell, error)) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   use + " <process> <date>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			cell, err := fn(gormDB, args[0], args[1])
			if err != nil {
				return err
			}
			printCell(cmd, cell)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Throughput config file")
	return cmd
}

func newCellShowCmd() *cobra.Command {
	return cellCommand("show", "Show one capacity cell", ledger.GetCell)
}

func newCellRecomputeCmd() *cobra.Command {
	return cellCommand("recompute", "Rebuild a cell's occupied hours from its committed records", ledger.RecomputeCell)
}

func newCellResetCmd() *cobra.Command {
	return cellCommand("reset", "Restore a cell's calendar total after an override", ledger.ResetOverride)
}

func newCellOverrideCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "override <process> <date> <hours>",
		Short: "Set a cell's total hours by hand",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("invalid hours %q", args[2])
			}
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			cell, err := ledger.ManualOverride(gormDB, args[0], args[1], hours)
			if err != nil {
				return err
			}
			printCell(cmd, cell)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Throughput config file")
	return cmd
}

func printCell(cmd *cobra.Command, cell *models.CapacityCell) {
	out := cmd.OutOrStdout()
	if !ledger.Materialized(cell) {
		fmt.Fprintf(out, "%s %s: not materialized\n", cell.Process, cell.Date)
		return
	}
	fmt.Fprintf(out, "Process:    %s\n", cell.Process)
	fmt.Fprintf(out, "Date:       %s\n", cell.Date)
	fmt.Fprintf(out, "Shift:      %s h x %d\n", formatHours(cell.ShiftHours), cell.Workstations)
	total := formatHours(cell.TotalHours)
	if cell.TotalOverridden {
		total += " (overridden)"
	}
	fmt.Fprintf(out, "Total:      %s h\n", total)
	fmt.Fprintf(out, "Occupied:   %s h\n", formatHours(cell.OccupiedHours))
	fmt.Fprintf(out, "Remaining:  %s h\n", formatHours(cell.RemainingHours))
}
