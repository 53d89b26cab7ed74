package connectkit

import "time"

// Connection is one user's delegated grant to one provider account. Token
// columns hold vault envelopes when read from or written to a database store.
type Connection struct {
	ID                string     `gorm:"column:id;primaryKey"`
	UserID            string     `gorm:"column:user_id;uniqueIndex:idx_connections_user_provider,priority:1;not null"`
	Provider          string     `gorm:"column:provider;uniqueIndex:idx_connections_user_provider,priority:2;not null"`
	ProviderAccountID string     `gorm:"column:provider_account_id;not null"`
	AccountName       string     `gorm:"column:account_name"`
	AccessToken       string     `gorm:"column:access_token;type:text;not null"`
	RefreshToken      string     `gorm:"column:refresh_token;type:text"`
	TokenExpiresAt    *time.Time `gorm:"column:token_expires_at"`
	LastSyncedAt      *time.Time `gorm:"column:last_synced_at"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

// TableName fixes the table name for GORM.
func (Connection) TableName() string {
	return "platform_connections"
}

// Snapshot is one day's metrics for one connection. Metrics holds the raw
// provider payload as JSON for fields the typed columns do not cover.
type Snapshot struct {
	ID             string    `gorm:"column:id;primaryKey"`
	UserID         string    `gorm:"column:user_id;uniqueIndex:idx_snapshots_user_provider_date,priority:1;not null"`
	Provider       string    `gorm:"column:provider;uniqueIndex:idx_snapshots_user_provider_date,priority:2;not null"`
	SnapshotDate   string    `gorm:"column:snapshot_date;uniqueIndex:idx_snapshots_user_provider_date,priority:3;not null"`
	Followers      int64     `gorm:"column:followers;not null;default:0"`
	MediaCount     int64     `gorm:"column:media_count;not null;default:0"`
	EngagementRate float64   `gorm:"column:engagement_rate;not null;default:0"`
	Metrics        string    `gorm:"column:metrics;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

// TableName fixes the table name for GORM.
func (Snapshot) TableName() string {
	return "analytics_snapshots"
}

// SnapshotDateLayout formats the calendar-date key of a snapshot row.
const SnapshotDateLayout = "2006-01-02"
