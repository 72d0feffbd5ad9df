package reports

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"
)

// AccessLogReport generates CSV reports with one row per dispatch event.
type AccessLogReport struct {
	store ReportStore
}

// NewAccessLogReport creates a new AccessLogReport generator.
func NewAccessLogReport(s ReportStore) *AccessLogReport {
	return &AccessLogReport{store: s}
}

// Generate writes matching events oldest first, the usual order for a log file.
func (r *AccessLogReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	events, err := r.store.ReadRecentEvents(ctx, MaxReportEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	headers := []string{"timestamp", "event_id", "event_type", "provider", "proxy", "method", "url", "status_code", "duration_ms", "error"}
	rows := make([][]string, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]
		if !params.matches(event) {
			continue
		}

		status := ""
		if event.StatusCode != 0 {
			status = strconv.Itoa(event.StatusCode)
		}
		rows = append(rows, []string{
			event.TsEvent.Format(time.RFC3339),
			event.EventID,
			string(event.EventType),
			event.Provider,
			event.Proxy,
			event.Method,
			event.URL,
			status,
			strconv.FormatInt(event.DurationMs, 10),
			event.Error,
		})
	}

	return writeCSV(headers, rows)
}
