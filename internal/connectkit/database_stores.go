package connectkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/creatorlens/creatorlens/internal/vault"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("connections.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("connections.empty_database_url")
	errSQLiteEmptyPath     = errors.New("connections.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("connections.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("connections.unsupported_no_scheme")
)

// OpenDatabase resolves the URL scheme to a dialector and opens a silent GORM
// handle shared by the database-backed stores.
func OpenDatabase(databaseURL string) (*gorm.DB, string, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, "", fmt.Errorf("connections.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, "", err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, "", fmt.Errorf("connections.open.%s: %w", driverLabel, openErr)
	}
	return gormDB, driverLabel, nil
}

// DatabaseConnectionStore persists platform connections through GORM and
// encrypts token columns through the vault on every write.
type DatabaseConnectionStore struct {
	db          *gorm.DB
	tokenVault  *vault.Vault
	driverLabel string
}

// NewDatabaseConnectionStore migrates the connections table and returns the store.
func NewDatabaseConnectionStore(ctx context.Context, db *gorm.DB, driverLabel string, tokenVault *vault.Vault) (*DatabaseConnectionStore, error) {
	if migrateErr := db.WithContext(ctx).AutoMigrate(&Connection{}); migrateErr != nil {
		return nil, fmt.Errorf("connections.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseConnectionStore{db: db, tokenVault: tokenVault, driverLabel: driverLabel}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseConnectionStore) Driver() string {
	return store.driverLabel
}

// Upsert writes the connection keyed on (user_id, provider). The caller's
// struct keeps its plaintext tokens; only the stored row holds envelopes.
func (store *DatabaseConnectionStore) Upsert(ctx context.Context, connection *Connection) error {
	record := *connection
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	var encryptErr error
	record.AccessToken, encryptErr = store.tokenVault.Encrypt(record.AccessToken)
	if encryptErr != nil {
		return fmt.Errorf("connections.upsert.%s: %w", store.driverLabel, encryptErr)
	}
	if record.RefreshToken != "" {
		record.RefreshToken, encryptErr = store.tokenVault.Encrypt(record.RefreshToken)
		if encryptErr != nil {
			return fmt.Errorf("connections.upsert.%s: %w", store.driverLabel, encryptErr)
		}
	}

	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_account_id", "account_name", "access_token", "refresh_token", "token_expires_at", "updated_at",
		}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("connections.upsert.%s: %w", store.driverLabel, err)
	}
	return nil
}

// GetByUserAndProvider returns the decrypted connection for (user, provider).
func (store *DatabaseConnectionStore) GetByUserAndProvider(ctx context.Context, userID string, provider string) (*Connection, error) {
	var record Connection
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("connections.get.%s: %w", store.driverLabel, ErrConnectionNotFound)
		}
		return nil, fmt.Errorf("connections.get.%s: %w", store.driverLabel, err)
	}
	if decryptErr := store.decryptTokens(&record); decryptErr != nil {
		return nil, fmt.Errorf("connections.get.%s: %w", store.driverLabel, decryptErr)
	}
	return &record, nil
}

// ListByUser returns all of one user's decrypted connections.
func (store *DatabaseConnectionStore) ListByUser(ctx context.Context, userID string) ([]Connection, error) {
	var records []Connection
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("provider ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("connections.list_user.%s: %w", store.driverLabel, err)
	}
	for index := range records {
		if decryptErr := store.decryptTokens(&records[index]); decryptErr != nil {
			return nil, fmt.Errorf("connections.list_user.%s: %w", store.driverLabel, decryptErr)
		}
	}
	return records, nil
}

// ListAll returns every decrypted connection across all users.
func (store *DatabaseConnectionStore) ListAll(ctx context.Context) ([]Connection, error) {
	var records []Connection
	err := store.db.WithContext(ctx).Order("created_at ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("connections.list.%s: %w", store.driverLabel, err)
	}
	for index := range records {
		if decryptErr := store.decryptTokens(&records[index]); decryptErr != nil {
			return nil, fmt.Errorf("connections.list.%s: %w", store.driverLabel, decryptErr)
		}
	}
	return records, nil
}

// UpdateTokens persists freshly refreshed tokens for one connection.
func (store *DatabaseConnectionStore) UpdateTokens(ctx context.Context, connectionID string, accessToken string, refreshToken string, expiresAt *time.Time) error {
	encryptedAccess, encryptErr := store.tokenVault.Encrypt(accessToken)
	if encryptErr != nil {
		return fmt.Errorf("connections.update_tokens.%s: %w", store.driverLabel, encryptErr)
	}
	encryptedRefresh := ""
	if refreshToken != "" {
		encryptedRefresh, encryptErr = store.tokenVault.Encrypt(refreshToken)
		if encryptErr != nil {
			return fmt.Errorf("connections.update_tokens.%s: %w", store.driverLabel, encryptErr)
		}
	}

	result := store.db.WithContext(ctx).Model(&Connection{}).
		Where("id = ?", connectionID).
		Updates(map[string]any{
			"access_token":     encryptedAccess,
			"refresh_token":    encryptedRefresh,
			"token_expires_at": expiresAt,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("connections.update_tokens.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("connections.update_tokens.%s: %w", store.driverLabel, ErrConnectionNotFound)
	}
	return nil
}

// TouchLastSynced records a successful harvest for one connection.
func (store *DatabaseConnectionStore) TouchLastSynced(ctx context.Context, connectionID string, syncedAt time.Time) error {
	result := store.db.WithContext(ctx).Model(&Connection{}).
		Where("id = ?", connectionID).
		Updates(map[string]any{
			"last_synced_at": syncedAt,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("connections.touch.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("connections.touch.%s: %w", store.driverLabel, ErrConnectionNotFound)
	}
	return nil
}

// Delete removes the row for (user, provider).
func (store *DatabaseConnectionStore) Delete(ctx context.Context, userID string, provider string) error {
	result := store.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&Connection{})
	if result.Error != nil {
		return fmt.Errorf("connections.delete.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("connections.delete.%s: %w", store.driverLabel, ErrConnectionNotFound)
	}
	return nil
}

func (store *DatabaseConnectionStore) decryptTokens(record *Connection) error {
	accessToken, accessErr := store.tokenVault.SafeDecrypt(record.AccessToken)
	if accessErr != nil {
		return accessErr
	}
	record.AccessToken = accessToken
	if record.RefreshToken != "" {
		refreshToken, refreshErr := store.tokenVault.SafeDecrypt(record.RefreshToken)
		if refreshErr != nil {
			return refreshErr
		}
		record.RefreshToken = refreshToken
	}
	return nil
}

// DatabaseSnapshotStore persists daily snapshots through GORM.
type DatabaseSnapshotStore struct {
	db          *gorm.DB
	driverLabel string
}

// NewDatabaseSnapshotStore migrates the snapshots table and returns the store.
func NewDatabaseSnapshotStore(ctx context.Context, db *gorm.DB, driverLabel string) (*DatabaseSnapshotStore, error) {
	if migrateErr := db.WithContext(ctx).AutoMigrate(&Snapshot{}); migrateErr != nil {
		return nil, fmt.Errorf("snapshots.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseSnapshotStore{db: db, driverLabel: driverLabel}, nil
}

// Upsert writes the snapshot keyed on (user_id, provider, snapshot_date).
func (store *DatabaseSnapshotStore) Upsert(ctx context.Context, snapshot *Snapshot) error {
	now := time.Now().UTC()
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = now
	}
	snapshot.UpdatedAt = now

	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}, {Name: "snapshot_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"followers", "media_count", "engagement_rate", "metrics", "updated_at",
		}),
	}).Create(snapshot).Error
	if err != nil {
		return fmt.Errorf("snapshots.upsert.%s: %w", store.driverLabel, err)
	}
	return nil
}

// ListByUserAndProvider returns snapshots newest first.
func (store *DatabaseSnapshotStore) ListByUserAndProvider(ctx context.Context, userID string, provider string) ([]Snapshot, error) {
	var records []Snapshot
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Order("snapshot_date DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("snapshots.list.%s: %w", store.driverLabel, err)
	}
	return records, nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("connections.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("connections.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("connections.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("connections.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
