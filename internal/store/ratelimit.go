package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pcroast/pcroast/internal/ratelimit"
)

var _ ratelimit.Store = (*Store)(nil)
var _ ratelimit.Pruner = (*Store)(nil)

// GetRateLimit returns stored rate limit state for a caller key.
func (s *Store) GetRateLimit(ctx context.Context, key string) (*ratelimit.State, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("key is required")
	}

	var (
		requestCount int
		windowStart  int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT request_count, window_start
		FROM rate_limits
		WHERE key = ?
	`, key)

	if err := row.Scan(&requestCount, &windowStart); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}

	return &ratelimit.State{
		RequestCount: requestCount,
		WindowStart:  time.UnixMilli(windowStart).UTC(),
	}, nil
}

// UpdateRateLimit persists rate limit state for a caller key.
func (s *Store) UpdateRateLimit(ctx context.Context, key string, state *ratelimit.State) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("key is required")
	}
	if state == nil {
		return errors.New("rate limit state is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rate_limits (key, request_count, window_start)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			request_count = excluded.request_count,
			window_start = excluded.window_start
	`, key, state.RequestCount, state.WindowStart.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store rate limit: %w", err)
	}

	return nil
}

// PruneRateLimits deletes windows that ended at or before now.
func (s *Store) PruneRateLimits(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cutoff := now.Add(-window).UTC().UnixMilli()
	result, err := s.DB.ExecContext(ctx, `
		DELETE FROM rate_limits
		WHERE window_start <= ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune rate limits: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rate limits: %w", err)
	}
	return affected, nil
}
