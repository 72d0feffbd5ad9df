package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rmax-ai/skaler/pkg/store"
)

type recordingPruner struct {
	cutoffs []time.Time
	deleted int64
	err     error
}

func (p *recordingPruner) PruneEvents(_ context.Context, before time.Time) (int64, error) {
	p.cutoffs = append(p.cutoffs, before)
	return p.deleted, p.err
}

func TestPruneWorker(t *testing.T) {
	st, err := store.NewStore(filepath.Join(t.TempDir(), "test_prune.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		evt := &store.Event{
			EventID:   string(rune('a' + i)),
			EventType: store.EventTypeRequestSucceeded,
			TsEvent:   now.Add(-age),
		}
		if err := st.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	w := NewPruneWorker(st, 24*time.Hour, 0)
	w.nowFn = func() time.Time { return now }

	if deleted := w.Prune(ctx); deleted != 2 {
		t.Errorf("expected 2 events pruned, got %d", deleted)
	}
	events, err := st.ReadRecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ReadRecentEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].EventID != "c" {
		t.Errorf("expected only the recent event to remain, got %+v", events)
	}
}

func TestPruneWorker_Error(t *testing.T) {
	p := &recordingPruner{err: errors.New("locked")}
	w := NewPruneWorker(p, time.Hour, time.Minute)
	if deleted := w.Prune(context.Background()); deleted != 0 {
		t.Errorf("expected 0 on error, got %d", deleted)
	}
}

func TestPruneWorker_RunDisabled(t *testing.T) {
	p := &recordingPruner{}
	w := NewPruneWorker(p, 0, time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker should return immediately")
	}
	if len(p.cutoffs) != 0 {
		t.Errorf("disabled worker pruned %d times", len(p.cutoffs))
	}
}

func TestPruneWorker_RunUntilCancelled(t *testing.T) {
	p := &recordingPruner{}
	w := NewPruneWorker(p, time.Hour, time.Hour)
	w.nowFn = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if len(p.cutoffs) != 1 {
		t.Fatalf("expected the initial prune only, got %d", len(p.cutoffs))
	}
	if want := time.Date(2026, 4, 30, 23, 0, 0, 0, time.UTC); !p.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", p.cutoffs[0], want)
	}
}
