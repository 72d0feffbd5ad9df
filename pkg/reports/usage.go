package reports

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/rmax-ai/skaler/pkg/store"
)

// UsageReport generates CSV reports with per-provider dispatch totals.
type UsageReport struct {
	store ReportStore
}

// NewUsageReport creates a new UsageReport generator.
func NewUsageReport(s ReportStore) *UsageReport {
	return &UsageReport{store: s}
}

type providerTotals struct {
	succeeded  int64
	failed     int64
	durationMs int64
}

// Generate aggregates request and probe outcomes per provider. Events without
// a provider (no_available_providers) are counted under an empty name.
func (r *UsageReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	events, err := r.store.ReadRecentEvents(ctx, MaxReportEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	totals := make(map[string]*providerTotals)
	for _, event := range events {
		if !params.matches(event) {
			continue
		}
		t, ok := totals[event.Provider]
		if !ok {
			t = &providerTotals{}
			totals[event.Provider] = t
		}
		switch event.EventType {
		case store.EventTypeRequestSucceeded, store.EventTypeProbeSucceeded:
			t.succeeded++
			t.durationMs += event.DurationMs
		default:
			t.failed++
		}
	}

	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)

	headers := []string{"provider", "succeeded", "failed", "avg_duration_ms"}
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		t := totals[name]
		avg := int64(0)
		if t.succeeded > 0 {
			avg = t.durationMs / t.succeeded
		}
		rows = append(rows, []string{
			name,
			strconv.FormatInt(t.succeeded, 10),
			strconv.FormatInt(t.failed, 10),
			strconv.FormatInt(avg, 10),
		})
	}

	return writeCSV(headers, rows)
}
