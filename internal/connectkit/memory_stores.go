package connectkit

import (
	"context"
	"sync"
	"time"
)

// MemoryConnectionStore keeps connections in a mutex-guarded map. Intended for
// tests and local development; tokens are held in plaintext.
type MemoryConnectionStore struct {
	mutex   sync.Mutex
	byKey   map[string]*Connection
	nowFunc func() time.Time
}

// NewMemoryConnectionStore creates an empty in-memory connection store.
func NewMemoryConnectionStore() *MemoryConnectionStore {
	return &MemoryConnectionStore{
		byKey:   make(map[string]*Connection),
		nowFunc: time.Now,
	}
}

func connectionKey(userID string, provider string) string {
	return userID + "|" + provider
}

// Upsert inserts or replaces the row for (user, provider).
func (store *MemoryConnectionStore) Upsert(ctx context.Context, connection *Connection) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	key := connectionKey(connection.UserID, connection.Provider)
	now := store.nowFunc()
	if existing, ok := store.byKey[key]; ok {
		connection.ID = existing.ID
		connection.CreatedAt = existing.CreatedAt
	} else if connection.CreatedAt.IsZero() {
		connection.CreatedAt = now
	}
	connection.UpdatedAt = now

	clone := *connection
	store.byKey[key] = &clone
	return nil
}

// GetByUserAndProvider returns the connection for (user, provider).
func (store *MemoryConnectionStore) GetByUserAndProvider(ctx context.Context, userID string, provider string) (*Connection, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	connection, ok := store.byKey[connectionKey(userID, provider)]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	clone := *connection
	return &clone, nil
}

// ListByUser returns all of one user's connections.
func (store *MemoryConnectionStore) ListByUser(ctx context.Context, userID string) ([]Connection, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	var connections []Connection
	for _, connection := range store.byKey {
		if connection.UserID == userID {
			connections = append(connections, *connection)
		}
	}
	return connections, nil
}

// ListAll returns every stored connection.
func (store *MemoryConnectionStore) ListAll(ctx context.Context) ([]Connection, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	connections := make([]Connection, 0, len(store.byKey))
	for _, connection := range store.byKey {
		connections = append(connections, *connection)
	}
	return connections, nil
}

// UpdateTokens replaces the token fields of one connection by id.
func (store *MemoryConnectionStore) UpdateTokens(ctx context.Context, connectionID string, accessToken string, refreshToken string, expiresAt *time.Time) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	for _, connection := range store.byKey {
		if connection.ID == connectionID {
			connection.AccessToken = accessToken
			connection.RefreshToken = refreshToken
			connection.TokenExpiresAt = expiresAt
			connection.UpdatedAt = store.nowFunc()
			return nil
		}
	}
	return ErrConnectionNotFound
}

// TouchLastSynced records a successful harvest for one connection.
func (store *MemoryConnectionStore) TouchLastSynced(ctx context.Context, connectionID string, syncedAt time.Time) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	for _, connection := range store.byKey {
		if connection.ID == connectionID {
			connection.LastSyncedAt = &syncedAt
			connection.UpdatedAt = store.nowFunc()
			return nil
		}
	}
	return ErrConnectionNotFound
}

// Delete removes the row for (user, provider).
func (store *MemoryConnectionStore) Delete(ctx context.Context, userID string, provider string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	key := connectionKey(userID, provider)
	if _, ok := store.byKey[key]; !ok {
		return ErrConnectionNotFound
	}
	delete(store.byKey, key)
	return nil
}

// MemorySnapshotStore keeps snapshots in a mutex-guarded map keyed on
// (user, provider, date). Intended for tests and local development.
type MemorySnapshotStore struct {
	mutex   sync.Mutex
	byKey   map[string]*Snapshot
	nowFunc func() time.Time
}

// NewMemorySnapshotStore creates an empty in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		byKey:   make(map[string]*Snapshot),
		nowFunc: time.Now,
	}
}

func snapshotKey(userID string, provider string, snapshotDate string) string {
	return userID + "|" + provider + "|" + snapshotDate
}

// Upsert inserts or replaces the row for (user, provider, date).
func (store *MemorySnapshotStore) Upsert(ctx context.Context, snapshot *Snapshot) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	key := snapshotKey(snapshot.UserID, snapshot.Provider, snapshot.SnapshotDate)
	now := store.nowFunc()
	if existing, ok := store.byKey[key]; ok {
		snapshot.ID = existing.ID
		snapshot.CreatedAt = existing.CreatedAt
	} else if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = now
	}
	snapshot.UpdatedAt = now

	clone := *snapshot
	store.byKey[key] = &clone
	return nil
}

// ListByUserAndProvider returns snapshots ordered by insertion.
func (store *MemorySnapshotStore) ListByUserAndProvider(ctx context.Context, userID string, provider string) ([]Snapshot, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	var snapshots []Snapshot
	for _, snapshot := range store.byKey {
		if snapshot.UserID == userID && snapshot.Provider == provider {
			snapshots = append(snapshots, *snapshot)
		}
	}
	return snapshots, nil
}
