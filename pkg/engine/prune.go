package engine

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultPruneInterval is how often a PruneWorker checks for expired events.
const DefaultPruneInterval = time.Hour

// EventPruner deletes events older than a cutoff.
type EventPruner interface {
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}

// PruneWorker enforces event retention on an unbounded event log.
type PruneWorker struct {
	pruner    EventPruner
	retention time.Duration
	interval  time.Duration
	nowFn     func() time.Time
}

// NewPruneWorker creates a worker keeping events for retention. A
// non-positive interval uses DefaultPruneInterval.
func NewPruneWorker(p EventPruner, retention, interval time.Duration) *PruneWorker {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	return &PruneWorker{
		pruner:    p,
		retention: retention,
		interval:  interval,
		nowFn:     time.Now,
	}
}

// Run prunes once immediately, then every interval until ctx is cancelled.
// A non-positive retention disables pruning.
func (w *PruneWorker) Run(ctx context.Context) {
	if w.retention <= 0 {
		log.Info("event pruning disabled")
		return
	}

	log.WithFields(log.Fields{"interval": w.interval, "retention": w.retention}).Info("prune worker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("prune worker stopping")
			return
		case <-ticker.C:
			w.Prune(ctx)
		}
	}
}

// Prune deletes everything older than the retention window and returns the count.
func (w *PruneWorker) Prune(ctx context.Context) int64 {
	cutoff := w.nowFn().Add(-w.retention)
	deleted, err := w.pruner.PruneEvents(ctx, cutoff)
	if err != nil {
		log.WithError(err).Warn("prune failed")
		return 0
	}
	if deleted > 0 {
		SkalerEventsPrunedTotal.Add(float64(deleted))
		log.WithFields(log.Fields{"deleted": deleted, "before": cutoff}).Info("pruned events")
	}
	return deleted
}
