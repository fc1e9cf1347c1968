package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/zulandar/throughput/internal/models"
	"golang.org/x/term"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// colorEnabled reports whether out is a terminal that should get colored
// output. NO_COLOR disables color everywhere.
func colorEnabled(out io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// stateColor picks the color for a chain state.
func stateColor(state string) *color.Color {
	switch state {
	case models.ChainComplete:
		return green
	case models.ChainExhausted, models.ChainRecursionLimit:
		return yellow
	case models.ChainFailed, "REJECTED":
		return red
	default:
		return cyan
	}
}

// formatState renders a chain state, colored when out is a terminal.
func formatState(out io.Writer, state string) string {
	if !colorEnabled(out) {
		return state
	}
	c := *stateColor(state)
	c.EnableColor()
	return c.Sprint(state)
}

// formatHours renders hours with two decimals.
func formatHours(h decimal.Decimal) string {
	return h.StringFixed(2)
}

// formatQty renders a quantity without trailing zeros.
func formatQty(q decimal.Decimal) string {
	return q.String()
}

// utilization renders occupied/total as a percentage.
func utilization(occupied, total decimal.Decimal) string {
	if !total.IsPositive() {
		return "-"
	}
	return fmt.Sprintf("%s%%", occupied.Div(total).Mul(decimal.NewFromInt(100)).StringFixed(0))
}

// shortID abbreviates a uuid for tables.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
