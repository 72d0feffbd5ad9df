package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a temporary database for testing
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "skaler.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "skaler.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file was not created at %s", dbPath)
	}

	for _, table := range []string{"provider_usage", "provider_blocks", "events"} {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("failed to query sqlite_master for %s table: %v", table, err)
		}
	}
}

func TestNewStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "skaler.db")
	ctx := context.Background()

	s1, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	_ = s1.IncrementUsage(ctx, "openai")
	_ = s1.IncrementUsage(ctx, "openai")
	s1.Close()

	s2, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	n, err := s2.GetUsage(ctx, "openai")
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected usage to survive reopen, got %d", n)
	}
}

func TestStore_IsBlockedEvictsExpiredRow(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.nowFn = func() time.Time { return now }

	if err := store.Block(ctx, "p", time.Second); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	now = now.Add(2 * time.Second)

	if blocked, _ := store.IsBlocked(ctx, "p"); blocked {
		t.Fatal("expected block to have expired")
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM provider_blocks WHERE name = 'p'").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected expired row to be deleted, found %d", count)
	}
}

func TestStore_ClosedReportsUnavailable(t *testing.T) {
	store := setupTestStore(t)
	store.Close()

	_, err := store.IsBlocked(context.Background(), "p")
	if err == nil {
		t.Fatal("expected error from closed store")
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestStore_AppendAndReadEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		evt := &Event{
			EventID:    fmt.Sprintf("evt_%d", i),
			EventType:  EventTypeRequestSucceeded,
			TsEvent:    base.Add(time.Duration(i) * time.Second),
			Provider:   "openai",
			Proxy:      "http://proxy1:8080",
			Method:     "POST",
			URL:        "https://api.example.com/v1/chat",
			StatusCode: 200,
			DurationMs: int64(i),
		}
		if err := store.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}
	failed := &Event{
		EventID:   "evt_failed",
		EventType: EventTypeRequestFailed,
		TsEvent:   base.Add(10 * time.Second),
		Provider:  "openai",
		Error:     "connection refused",
	}
	if err := store.AppendEvent(ctx, failed); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	events, err := store.ReadRecentEvents(ctx, 3)
	if err != nil {
		t.Fatalf("ReadRecentEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].EventID != "evt_failed" {
		t.Errorf("expected newest event first, got %s", events[0].EventID)
	}
	if events[0].Error != "connection refused" || events[0].Proxy != "" {
		t.Errorf("unexpected failed event fields: %+v", events[0])
	}
	if events[1].EventID != "evt_4" || events[1].StatusCode != 200 {
		t.Errorf("unexpected second event: %+v", events[1])
	}

	if err := store.AppendEvent(ctx, failed); err == nil {
		t.Error("expected duplicate event_id to be rejected")
	}
}

func TestStore_PruneEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stamps := map[string]time.Time{
		"old":        cutoff.Add(-time.Hour),
		"just_older": cutoff.Add(-500 * time.Millisecond),
		"at_cutoff":  cutoff,
		"newer":      cutoff.Add(1500 * time.Millisecond),
	}
	for id, ts := range stamps {
		if err := store.AppendEvent(ctx, &Event{EventID: id, EventType: EventTypeRequestSucceeded, TsEvent: ts}); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	deleted, err := store.PruneEvents(ctx, cutoff)
	if err != nil {
		t.Fatalf("PruneEvents failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 events pruned, got %d", deleted)
	}

	events, err := store.ReadRecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ReadRecentEvents failed: %v", err)
	}
	for _, e := range events {
		if e.EventID == "old" || e.EventID == "just_older" {
			t.Errorf("event %s should have been pruned", e.EventID)
		}
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events left, got %d", len(events))
	}
}

func TestEventRing(t *testing.T) {
	ring := NewEventRing(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = ring.AppendEvent(ctx, &Event{EventID: fmt.Sprintf("evt_%d", i)})
	}
	if ring.Len() != 3 {
		t.Fatalf("expected ring to hold 3 events, got %d", ring.Len())
	}

	events, _ := ring.ReadRecentEvents(ctx, 10)
	want := []string{"evt_4", "evt_3", "evt_2"}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, id := range want {
		if events[i].EventID != id {
			t.Errorf("event %d: expected %s, got %s", i, id, events[i].EventID)
		}
	}

	events, _ = ring.ReadRecentEvents(ctx, 1)
	if len(events) != 1 || events[0].EventID != "evt_4" {
		t.Errorf("expected only the newest event, got %+v", events)
	}
}
