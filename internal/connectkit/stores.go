package connectkit

import (
	"context"
	"time"
)

// ConnectionStore is the persistence boundary for platform connections.
// Upsert is keyed on (user, provider): a second connect for the same pair
// updates the existing row. Database-backed implementations encrypt token
// fields on write and decrypt them on read; callers always see plaintext.
type ConnectionStore interface {
	Upsert(ctx context.Context, connection *Connection) error
	GetByUserAndProvider(ctx context.Context, userID string, provider string) (*Connection, error)
	ListByUser(ctx context.Context, userID string) ([]Connection, error)
	ListAll(ctx context.Context) ([]Connection, error)
	UpdateTokens(ctx context.Context, connectionID string, accessToken string, refreshToken string, expiresAt *time.Time) error
	TouchLastSynced(ctx context.Context, connectionID string, syncedAt time.Time) error
	Delete(ctx context.Context, userID string, provider string) error
}

// SnapshotStore persists daily analytics snapshots. Upsert is keyed on
// (user, provider, date) so a re-run converges instead of duplicating rows.
type SnapshotStore interface {
	Upsert(ctx context.Context, snapshot *Snapshot) error
	ListByUserAndProvider(ctx context.Context, userID string, provider string) ([]Snapshot, error)
}
