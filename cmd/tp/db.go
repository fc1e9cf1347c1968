package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/throughput/internal/config"
	"github.com/zulandar/throughput/internal/db"
	"github.com/zulandar/throughput/internal/ledger"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBReconcileCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Throughput database",
		Long:  "Creates the database (MySQL), migrates all tables and seeds the sequence counter.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Throughput config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config from %s\n", configPath)

	if cfg.Database.Driver == "mysql" {
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return err
		}
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Name)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if cfg.Sequence.Backend == "db" {
		if err := db.SeedSequence(gormDB, cfg.Sequence.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Sequence %q ready\n", cfg.Sequence.Name)
	}

	fmt.Fprintln(out, "\nThroughput database initialized successfully.")
	return nil
}

func newDBReconcileCmd() *cobra.Command {
	var (
		configPath string
		process    string
		check      bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild occupied hours from committed records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReconcile(cmd, configPath, process, check)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Throughput config file")
	cmd.Flags().StringVar(&process, "process", "", "limit to one process")
	cmd.Flags().BoolVar(&check, "check", false, "report drift without rebuilding")
	return cmd
}

func runDBReconcile(cmd *cobra.Command, configPath, process string, check bool) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	drift, err := ledger.Verify(gormDB, process)
	if err != nil {
		return err
	}
	for _, d := range drift {
		fmt.Fprintf(out, "drift %s %s: ledger %s, records %s\n", d.Process, d.Date, formatHours(d.Occupied), formatHours(d.FromRecords))
	}
	if check {
		if len(drift) > 0 {
			return fmt.Errorf("%d cells out of step with their records", len(drift))
		}
		fmt.Fprintln(out, "Ledger consistent.")
		return nil
	}

	n, err := ledger.Reconcile(gormDB, process)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Reconciled %d cells (%d had drifted).\n", n, len(drift))
	return nil
}
