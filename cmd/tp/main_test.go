package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/zulandar/throughput/internal/config"
	"github.com/zulandar/throughput/internal/db"
	"github.com/zulandar/throughput/internal/models"
	"gorm.io/gorm"
)

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "tp dev") {
		t.Errorf("expected output to contain 'tp dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(buf.String(), "tp 1.0.0 (commit: abc123, built: 2026-01-01)") {
		t.Errorf("unexpected version output: %s", buf.String())
	}
}

func TestRootCmdHelp(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("help failed: %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"db", "calendar", "schedule", "cell", "chain", "stock", "serve"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q, got: %s", sub, out)
		}
	}
}

func TestSubcommands(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		subs []string
	}{
		{newDBCmd(), []string{"init", "reconcile"}},
		{newCalendarCmd(), []string{"materialize", "prune", "run"}},
		{newScheduleCmd(), []string{"run"}},
		{newCellCmd(), []string{"list", "show", "recompute", "override", "reset"}},
		{newChainCmd(), []string{"show", "delete"}},
		{newStockCmd(), []string{"add", "show"}},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.Use, func(t *testing.T) {
			names := make(map[string]bool)
			for _, c := range tt.cmd.Commands() {
				names[c.Name()] = true
			}
			for _, s := range tt.subs {
				if !names[s] {
					t.Errorf("%s: missing subcommand %q", tt.cmd.Use, s)
				}
			}
		})
	}
}

func TestExecute_ReturnsExitCode(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"cell", "show", "--config", "/nonexistent.yaml", "painting", "2025-01-10"})
	if code := execute(cmd); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

const testConfig = `database:
  driver: sqlite
  path: %s
calendar:
  horizon_days: 3
  processes:
    - name: painting
      shift_hours: 10
      workstations: 1
    - name: assembly
      shift_hours: 8
      workstations: 1
routes:
  - from: painting
    to: assembly
    hourly_quota: 10
`

const testDemands = `lines:
  - source_no: SO-1
    order_no: ORD-1
    process: painting
    material: PANEL
    total_qty: 80
    hourly_quota: 5
    earliest_date: "2025-01-10"
  - source_no: SO-BAD
    process: painting
    total_qty: 10
    hourly_quota: 5
    earliest_date: "2025-01-10"
`

// setupWorkspace writes a sqlite config and demand file to a temp dir.
func setupWorkspace(t *testing.T) (configPath, demandPath string) {
	t.Helper()
	dir := t.TempDir()
	configPath = filepath.Join(dir, "throughput.yaml")
	demandPath = filepath.Join(dir, "demands.yaml")
	dbPath := filepath.Join(dir, "tp.db")
	if err := os.WriteFile(configPath, []byte(strings.Replace(testConfig, "%s", dbPath, 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(demandPath, []byte(testDemands), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath, demandPath
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("tp %s: %v\n%s", strings.Join(args, " "), err, buf.String())
	}
	return buf.String()
}

func openDB(t *testing.T, configPath string) *gorm.DB {
	t.Helper()
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	return gormDB
}

func TestEndToEnd(t *testing.T) {
	configPath, demandPath := setupWorkspace(t)

	out := run(t, "db", "init", "-c", configPath)
	if !strings.Contains(out, "Migrated 6 tables") {
		t.Errorf("db init output: %s", out)
	}

	out = run(t, "calendar", "materialize", "-c", configPath, "--from", "2025-01-10")
	if !strings.Contains(out, "6 created") {
		t.Errorf("materialize output: %s", out)
	}

	out = run(t, "schedule", "run", "-c", configPath, "-f", demandPath)
	if !strings.Contains(out, "4 processed, 3 succeeded, 1 failed") {
		t.Errorf("schedule output: %s", out)
	}
	if !strings.Contains(out, "SO-BAD [REJECTED]") {
		t.Errorf("expected rejected line in output: %s", out)
	}

	gormDB := openDB(t, configPath)
	var chain models.ScheduleChain
	if err := gormDB.Where("source_no = ? AND process = ?", "SO-1", "painting").First(&chain).Error; err != nil {
		t.Fatalf("find chain: %v", err)
	}

	out = run(t, "chain", "show", "-c", configPath, chain.ID)
	for _, want := range []string{"COMPLETE", "80 of 80 allocated", "2025-01-11", "6.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("chain show missing %q: %s", want, out)
		}
	}

	out = run(t, "cell", "show", "-c", configPath, "painting", "2025-01-11")
	if !strings.Contains(out, "Occupied:   6.00 h") {
		t.Errorf("cell show output: %s", out)
	}

	out = run(t, "cell", "list", "-c", configPath, "--process", "assembly")
	if !strings.Contains(out, "2025-01-11") {
		t.Errorf("cell list output: %s", out)
	}

	out = run(t, "db", "reconcile", "-c", configPath, "--check")
	if !strings.Contains(out, "Ledger consistent.") {
		t.Errorf("reconcile output: %s", out)
	}

	out = run(t, "chain", "delete", "-c", configPath, chain.ID)
	if !strings.Contains(out, "Deleted chain "+chain.ID) {
		t.Errorf("chain delete output: %s", out)
	}
	out = run(t, "cell", "show", "-c", configPath, "painting", "2025-01-10")
	if !strings.Contains(out, "Occupied:   0.00 h") {
		t.Errorf("cell after delete: %s", out)
	}

	// The assembly chains existed only to serve the deleted painting chain.
	var downstream int64
	gormDB.Model(&models.ScheduleChain{}).Where("process = ?", "assembly").Count(&downstream)
	if downstream != 0 {
		t.Errorf("assembly chains after delete = %d, want 0", downstream)
	}
	out = run(t, "db", "reconcile", "-c", configPath, "--check")
	if !strings.Contains(out, "Ledger consistent.") {
		t.Errorf("reconcile after delete: %s", out)
	}
}

func TestCellOverrideAndReset(t *testing.T) {
	configPath, _ := setupWorkspace(t)
	run(t, "db", "init", "-c", configPath)
	run(t, "calendar", "materialize", "-c", configPath, "--from", "2025-01-10")

	out := run(t, "cell", "override", "-c", configPath, "painting", "2025-01-10", "4")
	if !strings.Contains(out, "Total:      4.00 h (overridden)") {
		t.Errorf("override output: %s", out)
	}
	out = run(t, "cell", "reset", "-c", configPath, "painting", "2025-01-10")
	if !strings.Contains(out, "Total:      10.00 h\n") {
		t.Errorf("reset output: %s", out)
	}

	out = run(t, "cell", "show", "-c", configPath, "painting", "2030-01-01")
	if !strings.Contains(out, "not materialized") {
		t.Errorf("unmaterialized output: %s", out)
	}
}

func TestStockCommands(t *testing.T) {
	configPath, _ := setupWorkspace(t)
	run(t, "db", "init", "-c", configPath)

	run(t, "stock", "add", "-c", configPath, "--material", "PANEL", "--date", "2025-01-05", "--qty", "25", "--ref", "GR-1")
	run(t, "stock", "add", "-c", configPath, "--material", "PANEL", "--date", "2025-01-07", "--qty", "-5")

	out := run(t, "stock", "show", "-c", configPath, "PANEL", "--date", "2025-01-06")
	if !strings.Contains(out, "PANEL on 2025-01-06: 25") {
		t.Errorf("stock show output: %s", out)
	}
	out = run(t, "stock", "show", "-c", configPath, "PANEL", "--date", "2025-01-07")
	if !strings.Contains(out, "PANEL on 2025-01-07: 20") {
		t.Errorf("stock show output: %s", out)
	}
}
