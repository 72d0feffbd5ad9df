package reports

import (
	"context"
	"io"
	"time"

	"github.com/rmax-ai/skaler/pkg/store"
)

type ReportType string

const (
	ReportTypeAccessLog ReportType = "access_log"
	ReportTypeUsage     ReportType = "usage"
)

// MaxReportEvents caps how much history a single report reads.
const MaxReportEvents = 10000

type ReportParams struct {
	Start time.Time
	End   time.Time
	// Provider restricts the report to one provider when set.
	Provider string
}

// ReportStore defines the interface for data access required by reports.
type ReportStore interface {
	ReadRecentEvents(ctx context.Context, limit int) ([]*store.Event, error)
}

type Generator interface {
	Generate(ctx context.Context, params ReportParams) (io.Reader, error)
}

// matches reports whether evt falls inside the window and provider filter.
func (p ReportParams) matches(evt *store.Event) bool {
	if !p.Start.IsZero() && evt.TsEvent.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && evt.TsEvent.After(p.End) {
		return false
	}
	return p.Provider == "" || evt.Provider == p.Provider
}
