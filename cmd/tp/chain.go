package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/throughput/internal/schedule"
)

func newChainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Inspect and remove schedule chains",
	}

	cmd.AddCommand(newChainShowCmd())
	cmd.AddCommand(newChainDeleteCmd())
	return cmd
}

func newChainShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <chain-id>",
		Short: "Show a chain and its records in sequence order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChainShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Throughput config file")
	return cmd
}

func runChainShow(cmd *cobra.Command, configPath, id string) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	chain, err := schedule.GetChain(gormDB, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Chain:      %s\n", chain.ID)
	fmt.Fprintf(out, "Source:     %s", chain.SourceNo)
	if chain.OrderNo != "" {
		fmt.Fprintf(out, " (order %s)", chain.OrderNo)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Process:    %s / %s\n", chain.Process, chain.Material)
	fmt.Fprintf(out, "State:      %s\n", formatState(out, chain.State))
	if chain.Reason != "" {
		fmt.Fprintf(out, "Reason:     %s\n", chain.Reason)
	}
	fmt.Fprintf(out, "Quantity:   %s of %s allocated, %s remaining\n",
		formatQty(chain.AllocatedQty), formatQty(chain.TotalQty), formatQty(chain.RemainingQty))
	if chain.ParentRecordID != nil {
		fmt.Fprintf(out, "Derived:    from record %d (depth %d)\n", *chain.ParentRecordID, chain.Depth)
	}

	if len(chain.Records) == 0 {
		fmt.Fprintln(out, "\nNo records.")
		return nil
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tPLANNED\tEFFECTIVE\tHOURS\tQTY\tCUMULATIVE\tREMAINING\tSTATE")
	for _, r := range chain.Records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Sequence, r.PlannedDate, r.EffectiveDate, formatHours(r.Hours),
			formatQty(r.Qty), formatQty(r.CumulativeQty), formatQty(r.RemainingQty), r.TerminalState)
	}
	return w.Flush()
}

func newChainDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <chain-id>",
		Short: "Delete a chain and release the capacity its records hold",
		Long: `Deletes a chain and its records and releases the capacity they hold.

Stock booked for the chain's records is returned to the buffer. Downstream
chains the chain fed shrink by its share; those left with no demand are
deleted too, the rest are rescheduled at their reduced quantity.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChainDelete(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Throughput config file")
	return cmd
}

func runChainDelete(cmd *cobra.Command, configPath, id string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	ctrl, closer, err := newController(ctx, cfg, gormDB)
	if err != nil {
		return err
	}
	defer closer.Close()

	res, err := ctrl.DeleteChain(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted chain %s\n", id)
	if len(res.Chains) > 0 || res.Processed > 0 {
		fmt.Fprintln(out, "\nRescheduled downstream:")
		printBatch(out, res)
	}
	return nil
}
