package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable is wrapped by every error an out-of-process UsageStore returns.
// Callers translate it into "provider unavailable" rather than failing the dispatch loop.
var ErrStoreUnavailable = errors.New("usage store unavailable")

// UsageStore tracks per-provider request counts and temporary blocks, keyed by provider name.
//
// Implementations must make IncrementUsage, Block and IsBlocked linearizable per name.
// An expired block is reported as unblocked and evicted on the check that observes it.
type UsageStore interface {
	// IncrementUsage adds one to the usage counter, creating it at 1 if absent.
	IncrementUsage(ctx context.Context, name string) error

	// GetUsage returns the usage counter, 0 for unknown names.
	GetUsage(ctx context.Context, name string) (int64, error)

	// ResetUsage clears the usage counter. Resetting an unknown name is not an error.
	ResetUsage(ctx context.Context, name string) error

	// Block excludes name until now+ttl, overwriting any existing block.
	Block(ctx context.Context, name string, ttl time.Duration) error

	// IsBlocked reports whether name is currently blocked.
	IsBlocked(ctx context.Context, name string) (bool, error)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// EventType represents the kind of dispatch event.
type EventType string

const (
	EventTypeRequestSucceeded     EventType = "request_succeeded"
	EventTypeRequestFailed        EventType = "request_failed"
	EventTypeNoAvailableProviders EventType = "no_available_providers"
	EventTypeProbeSucceeded       EventType = "probe_succeeded"
	EventTypeProbeFailed          EventType = "probe_failed"
)

// Event is one dispatch outcome as recorded in the event log.
type Event struct {
	EventID    string    `json:"event_id"`
	EventType  EventType `json:"event_type"`
	TsEvent    time.Time `json:"ts_event"`
	Provider   string    `json:"provider,omitempty"`
	Proxy      string    `json:"proxy,omitempty"`
	Method     string    `json:"method,omitempty"`
	URL        string    `json:"url,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}
