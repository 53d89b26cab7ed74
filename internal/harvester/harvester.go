// Package harvester runs the daily snapshot job: it walks every platform
// connection, pulls current account metrics, and upserts one snapshot per
// (user, provider, date).
package harvester

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/creatorlens/creatorlens/internal/connectkit"
	"github.com/creatorlens/creatorlens/internal/providers"
)

// Defaults for the schedule and per-connection fetch.
const (
	DefaultQuotaWindow  = 12 * time.Hour
	DefaultRecentLimit  = 15
	DefaultStartupDelay = 30 * time.Second
	DefaultDailyHourUTC = 3
)

// Options tune the harvester schedule and fetch sizes. Zero values fall back
// to the defaults above.
type Options struct {
	QuotaWindow  time.Duration
	RecentLimit  int
	StartupDelay time.Duration
	DailyHourUTC int
}

// Summary reports one full enumeration. Every connection lands in exactly one
// bucket; nothing is silently dropped.
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   int
}

// Harvester fetches metrics for every connection sequentially. Provider APIs
// apply per-app quotas shared across all users, so there is no fan-out.
type Harvester struct {
	connections connectkit.ConnectionStore
	snapshots   connectkit.SnapshotStore
	lifecycle   *connectkit.TokenLifecycle
	registry    providers.Registry
	logger      *zap.Logger
	metrics     connectkit.MetricsRecorder
	options     Options
	now         func() time.Time
}

// New wires a harvester.
func New(
	connections connectkit.ConnectionStore,
	snapshots connectkit.SnapshotStore,
	lifecycle *connectkit.TokenLifecycle,
	registry providers.Registry,
	logger *zap.Logger,
	metrics connectkit.MetricsRecorder,
	options Options,
) *Harvester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options.QuotaWindow <= 0 {
		options.QuotaWindow = DefaultQuotaWindow
	}
	if options.RecentLimit <= 0 {
		options.RecentLimit = DefaultRecentLimit
	}
	if options.StartupDelay <= 0 {
		options.StartupDelay = DefaultStartupDelay
	}
	if options.DailyHourUTC < 0 || options.DailyHourUTC > 23 {
		options.DailyHourUTC = DefaultDailyHourUTC
	}
	return &Harvester{
		connections: connections,
		snapshots:   snapshots,
		lifecycle:   lifecycle,
		registry:    registry,
		logger:      logger,
		metrics:     metrics,
		options:     options,
		now:         time.Now,
	}
}

// Run blocks until the context is cancelled. It fires once after the startup
// grace delay and then once per day at the configured UTC hour.
func (harvester *Harvester) Run(ctx context.Context) error {
	startupTimer := time.NewTimer(harvester.options.StartupDelay)
	defer startupTimer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-startupTimer.C:
		harvester.RunOnce(ctx)
	}

	for {
		wait := harvester.untilNextRun()
		dailyTimer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			dailyTimer.Stop()
			harvester.logger.Info("harvester shutting down")
			return ctx.Err()
		case <-dailyTimer.C:
			harvester.RunOnce(ctx)
		}
	}
}

// RunOnce enumerates every connection and produces today's snapshots. A
// failure on one connection is counted and logged, never fatal for the batch.
func (harvester *Harvester) RunOnce(ctx context.Context) Summary {
	harvester.metrics.Increment(connectkit.EventHarvestRun)

	connections, listErr := harvester.connections.ListAll(ctx)
	if listErr != nil {
		harvester.logger.Error("connection enumeration failed",
			zap.String("code", "harvest.list_error"),
			zap.Error(listErr))
		return Summary{}
	}

	var summary Summary
	for index := range connections {
		connection := &connections[index]
		if harvester.withinQuotaWindow(connection) {
			summary.Skipped++
			harvester.metrics.Increment(connectkit.EventHarvestSkip)
			continue
		}

		if harvestErr := harvester.harvestConnection(ctx, connection); harvestErr != nil {
			summary.Failed++
			harvester.metrics.Increment(connectkit.EventHarvestFailure)
			harvester.logger.Warn("connection harvest failed",
				zap.String("code", "harvest.connection_error"),
				zap.String("provider", connection.Provider),
				zap.String("connection_id", connection.ID),
				zap.String("user_id", connection.UserID),
				zap.Error(harvestErr))
			continue
		}
		summary.Succeeded++
		harvester.metrics.Increment(connectkit.EventHarvestSuccess)
	}

	harvester.logger.Info("harvest run complete",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))
	return summary
}

func (harvester *Harvester) harvestConnection(ctx context.Context, connection *connectkit.Connection) error {
	client, lookupErr := harvester.registry.Lookup(connection.Provider)
	if lookupErr != nil {
		return lookupErr
	}

	accessToken := harvester.lifecycle.ValidAccessTokenLenient(ctx, connection)

	stats, statsErr := client.FetchAccountStats(ctx, accessToken)
	if statsErr != nil {
		return statsErr
	}
	recentMedia, mediaErr := client.FetchRecentMedia(ctx, accessToken, harvester.options.RecentLimit)
	if mediaErr != nil {
		return mediaErr
	}

	now := harvester.now().UTC()
	snapshot := &connectkit.Snapshot{
		ID:             uuid.NewString(),
		UserID:         connection.UserID,
		Provider:       connection.Provider,
		SnapshotDate:   now.Format(connectkit.SnapshotDateLayout),
		Followers:      stats.Followers,
		MediaCount:     stats.MediaCount,
		EngagementRate: engagementRate(stats.Followers, recentMedia),
		Metrics:        encodeMetrics(stats, recentMedia),
	}
	if upsertErr := harvester.snapshots.Upsert(ctx, snapshot); upsertErr != nil {
		return upsertErr
	}
	if touchErr := harvester.connections.TouchLastSynced(ctx, connection.ID, now); touchErr != nil {
		return touchErr
	}
	return nil
}

func (harvester *Harvester) withinQuotaWindow(connection *connectkit.Connection) bool {
	if connection.LastSyncedAt == nil {
		return false
	}
	return harvester.now().Sub(*connection.LastSyncedAt) < harvester.options.QuotaWindow
}

func (harvester *Harvester) untilNextRun() time.Duration {
	now := harvester.now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), harvester.options.DailyHourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// engagementRate is the combined likes+comments of the recent items over the
// follower count. The formula never changes between runs so the stored time
// series stays internally comparable.
func engagementRate(followers int64, items []providers.MediaItem) float64 {
	if followers <= 0 {
		return 0
	}
	var engagement int64
	for _, item := range items {
		engagement += item.Likes + item.Comments
	}
	return float64(engagement) / float64(followers)
}

type metricsPayload struct {
	Followers   int64                 `json:"followers"`
	MediaCount  int64                 `json:"media_count"`
	RecentItems []providers.MediaItem `json:"recent_items"`
}

func encodeMetrics(stats *providers.AccountStats, items []providers.MediaItem) string {
	payload := metricsPayload{
		Followers:   stats.Followers,
		MediaCount:  stats.MediaCount,
		RecentItems: items,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
