package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/zulandar/throughput/internal/models"
	"github.com/zulandar/throughput/internal/propagate"
)

func newStockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Buffer stock used by downstream propagation",
	}

	cmd.AddCommand(newStockAddCmd())
	cmd.AddCommand(newStockShowCmd())
	return cmd
}

func newStockAddCmd() *cobra.Command {
	var configPath, material, date, qty, ref string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a stock movement (negative qty for consumption)",
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := decimal.NewFromString(qty)
			if err != nil {
				return fmt.Errorf("invalid --qty %q", qty)
			}
			if date == "" {
				date = time.Now().Format(time.DateOnly)
			}
			if _, err := time.Parse(time.DateOnly, date); err != nil {
				return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
			}
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			mv := models.StockMovement{Material: material, EffectiveDate: date, QtyDelta: delta, DocRef: ref}
			if err := gormDB.Create(&mv).Error; err != nil {
				return fmt.Errorf("record stock movement: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s %s on %s\n", formatQty(delta), material, date)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Throughput config file")
	cmd.Flags().StringVar(&material, "material", "", "material code")
	cmd.Flags().StringVar(&date, "date", "", "effective date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&qty, "qty", "", "quantity delta")
	cmd.Flags().StringVar(&ref, "ref", "", "source document reference")
	cmd.MarkFlagRequired("material")
	cmd.MarkFlagRequired("qty")
	return cmd
}

func newStockShowCmd() *cobra.Command {
	var configPath, date string

	cmd := &cobra.Command{
		Use:   "show <material>",
		Short: "Show the projected buffer of a material on a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = time.Now().Format(time.DateOnly)
			}
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			buffer, err := propagate.ProjectedBuffer(gormDB, args[0], date)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s on %s: %s\n", args[0], date, formatQty(buffer))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Throughput config file")
	cmd.Flags().StringVar(&date, "date", "", "projection date (YYYY-MM-DD, default today)")
	return cmd
}
