package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *Store) IncrementUsage(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_usage (name, count) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET count = count + 1
	`, name)
	if err != nil {
		return unavailable("increment usage", err)
	}
	return nil
}

func (s *Store) GetUsage(ctx context.Context, name string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT count FROM provider_usage WHERE name = ?`, name).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("get usage", err)
	}
	return count, nil
}

func (s *Store) ResetUsage(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM provider_usage WHERE name = ?`, name); err != nil {
		return unavailable("reset usage", err)
	}
	return nil
}

func (s *Store) Block(ctx context.Context, name string, ttl time.Duration) error {
	until := s.nowFn().Add(ttl).UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_blocks (name, blocked_until) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET blocked_until = excluded.blocked_until
	`, name, until)
	if err != nil {
		return unavailable("block", err)
	}
	return nil
}

func (s *Store) IsBlocked(ctx context.Context, name string) (bool, error) {
	var until int64
	err := s.db.QueryRowContext(ctx, `SELECT blocked_until FROM provider_blocks WHERE name = ?`, name).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("is blocked", err)
	}

	if s.nowFn().UnixNano() < until {
		return true, nil
	}

	// Only evict the block we observed; a concurrent Block may have replaced it.
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM provider_blocks WHERE name = ? AND blocked_until = ?
	`, name, until); err != nil {
		return false, unavailable("evict block", err)
	}
	return false, nil
}
