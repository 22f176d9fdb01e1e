package db

import (
	"context"
	"errors"
	"fmt"
)

// NextSequence atomically increments the keyed counter and returns the new
// value. The first call for a key returns 1. Run it inside the transaction
// that consumes the number so a rollback also releases it.
func NextSequence(ctx context.Context, q Querier, key string) (int64, error) {
	if key == "" {
		return 0, errors.New("platform/db: sequence key required")
	}
	var value int64
	err := q.QueryRow(ctx, `INSERT INTO sequence_counters (key, value, updated_at) VALUES ($1, 1, NOW())
ON CONFLICT (key) DO UPDATE SET value = sequence_counters.value + 1, updated_at = NOW()
RETURNING value`, key).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("platform/db: next sequence %s: %w", key, err)
	}
	return value, nil
}
