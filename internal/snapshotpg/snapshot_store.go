// Package snapshotpg provides a pgx-backed snapshot store for deployments
// that already run a PostgreSQL pool and prefer explicit SQL over GORM.
package snapshotpg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatorlens/creatorlens/internal/connectkit"
)

// EnsureSchema creates the snapshots table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    snapshot_date TEXT NOT NULL,
    followers BIGINT NOT NULL DEFAULT 0,
    media_count BIGINT NOT NULL DEFAULT 0,
    engagement_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
    metrics TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    CONSTRAINT uq_snapshots_user_provider_date UNIQUE (user_id, provider, snapshot_date)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_user_provider ON analytics_snapshots (user_id, provider);
`)
	return err
}

// PostgresSnapshotStore persists daily snapshots in PostgreSQL.
type PostgresSnapshotStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSnapshotStore constructs a Postgres store.
func NewPostgresSnapshotStore(pool *pgxpool.Pool) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{pool: pool}
}

// Upsert writes one snapshot row keyed on (user_id, provider, snapshot_date);
// a second run on the same day converges to the latest values.
func (store *PostgresSnapshotStore) Upsert(ctx context.Context, snapshot *connectkit.Snapshot) error {
	now := time.Now().UTC()
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = now
	}
	snapshot.UpdatedAt = now

	_, execErr := store.pool.Exec(ctx, `
INSERT INTO analytics_snapshots (id, user_id, provider, snapshot_date, followers, media_count, engagement_rate, metrics, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT ON CONSTRAINT uq_snapshots_user_provider_date DO UPDATE SET
    followers = EXCLUDED.followers,
    media_count = EXCLUDED.media_count,
    engagement_rate = EXCLUDED.engagement_rate,
    metrics = EXCLUDED.metrics,
    updated_at = EXCLUDED.updated_at
`, snapshot.ID, snapshot.UserID, snapshot.Provider, snapshot.SnapshotDate,
		snapshot.Followers, snapshot.MediaCount, snapshot.EngagementRate, snapshot.Metrics,
		snapshot.CreatedAt, snapshot.UpdatedAt)
	if execErr != nil {
		return fmt.Errorf("snapshots.upsert.pgx: %w", execErr)
	}
	return nil
}

// ListByUserAndProvider returns snapshots newest first.
func (store *PostgresSnapshotStore) ListByUserAndProvider(ctx context.Context, userID string, provider string) ([]connectkit.Snapshot, error) {
	rows, queryErr := store.pool.Query(ctx, `
SELECT id, user_id, provider, snapshot_date, followers, media_count, engagement_rate, metrics, created_at, updated_at
FROM analytics_snapshots
WHERE user_id = $1 AND provider = $2
ORDER BY snapshot_date DESC
`, userID, provider)
	if queryErr != nil {
		return nil, fmt.Errorf("snapshots.list.pgx: %w", queryErr)
	}
	defer rows.Close()

	var snapshots []connectkit.Snapshot
	for rows.Next() {
		var snapshot connectkit.Snapshot
		scanErr := rows.Scan(
			&snapshot.ID, &snapshot.UserID, &snapshot.Provider, &snapshot.SnapshotDate,
			&snapshot.Followers, &snapshot.MediaCount, &snapshot.EngagementRate, &snapshot.Metrics,
			&snapshot.CreatedAt, &snapshot.UpdatedAt)
		if scanErr != nil {
			return nil, fmt.Errorf("snapshots.list.pgx: %w", scanErr)
		}
		snapshots = append(snapshots, snapshot)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("snapshots.list.pgx: %w", rowsErr)
	}
	return snapshots, nil
}
