package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AppendEvent persists a single dispatch event.
func (s *Store) AppendEvent(ctx context.Context, evt *Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, event_type, ts_event, provider, proxy, method, url, status_code, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, evt.EventID, string(evt.EventType), evt.TsEvent.UTC(), evt.Provider, evt.Proxy,
		evt.Method, evt.URL, evt.StatusCode, evt.DurationMs, evt.Error)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ReadRecentEvents returns up to limit events, newest first.
func (s *Store) ReadRecentEvents(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, event_type, ts_event, provider, proxy, method, url, status_code, duration_ms, error
		FROM events
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			evt                               Event
			eventType                         string
			provider, proxy, method, url, msg sql.NullString
			status                            sql.NullInt64
		)
		if err := rows.Scan(&evt.EventID, &eventType, &evt.TsEvent, &provider, &proxy,
			&method, &url, &status, &evt.DurationMs, &msg); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		evt.EventType = EventType(eventType)
		evt.Provider = provider.String
		evt.Proxy = proxy.String
		evt.Method = method.String
		evt.URL = url.String
		evt.StatusCode = int(status.Int64)
		evt.Error = msg.String
		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return events, nil
}

// PruneEvents deletes events recorded before the cutoff and returns how many went.
func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE ts_event < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return res.RowsAffected()
}
