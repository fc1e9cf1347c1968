// Package notify posts scheduling alerts (failed batches, ledger drift) to
// operator chat webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/throughput/internal/config"
	"github.com/zulandar/throughput/internal/ledger"
	"github.com/zulandar/throughput/internal/schedule"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// Event is one alert, rendered natively by each sink.
type Event struct {
	Title    string
	Body     string
	Severity string // "info", "warning", "error", "success"
	Fields   []Field
}

// Color returns the sidebar color for the event's severity.
func (e Event) Color() string { return severityColor(e.Severity) }

// Field is a key-value pair displayed with an event.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Sink delivers events to one platform.
type Sink interface {
	Name() string
	Send(ctx context.Context, evt Event) error
}

// Notifier fans an event out to every configured sink.
type Notifier struct {
	sinks []Sink
}

// New creates a notifier over the given sinks.
func New(sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks}
}

// FromConfig builds the sinks named in cfg. A config with no webhooks yields
// a notifier that sends nothing.
func FromConfig(cfg config.NotifyConfig) (*Notifier, error) {
	var sinks []Sink
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, NewSlack(cfg.SlackWebhookURL))
	}
	if cfg.DiscordWebhookID != "" {
		d, err := NewDiscord(cfg.DiscordWebhookID, cfg.DiscordWebhookToken)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, d)
	}
	return New(sinks...), nil
}

// Enabled reports whether any sink is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.sinks) > 0 }

// Send delivers evt to every sink. A failing sink does not stop the others;
// all failures are returned together.
func (n *Notifier) Send(ctx context.Context, evt Event) error {
	if n == nil {
		return nil
	}
	var errs []error
	for _, s := range n.sinks {
		if err := s.Send(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("notify: %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// maxListed caps the failures or cells spelled out in one event body.
const maxListed = 10

// FormatBatch summarizes a batch. Batches where every line completed are
// reported as success.
func FormatBatch(res *schedule.BatchResult) Event {
	evt := Event{
		Title:    fmt.Sprintf("Schedule batch %s", shortID(res.ID)),
		Severity: "success",
		Fields: []Field{
			{Name: "Processed", Value: fmt.Sprint(res.Processed), Short: true},
			{Name: "Succeeded", Value: fmt.Sprint(res.Succeeded), Short: true},
			{Name: "Failed", Value: fmt.Sprint(len(res.Failed)), Short: true},
		},
	}
	if len(res.Failed) == 0 {
		evt.Body = "All demand lines scheduled."
		return evt
	}
	evt.Severity = "warning"
	var b strings.Builder
	for i, f := range res.Failed {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more\n", len(res.Failed)-maxListed)
			break
		}
		fmt.Fprintf(&b, "%s [%s] %s\n", f.SourceNo, f.State, f.Reason)
	}
	evt.Body = strings.TrimRight(b.String(), "\n")
	return evt
}

// FormatDrift reports cells whose occupied hours disagree with their records.
func FormatDrift(drift []ledger.Drift) Event {
	var b strings.Builder
	for i, d := range drift {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more\n", len(drift)-maxListed)
			break
		}
		fmt.Fprintf(&b, "%s %s: ledger %s, records %s\n", d.Process, d.Date, d.Occupied, d.FromRecords)
	}
	return Event{
		Title:    fmt.Sprintf("Capacity ledger drift on %d cells", len(drift)),
		Body:     strings.TrimRight(b.String(), "\n"),
		Severity: "error",
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
