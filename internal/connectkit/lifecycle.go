package connectkit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/creatorlens/creatorlens/internal/providers"
)

// DefaultRefreshMargin is how close to expiry a token may get before a
// refresh is attempted ahead of use.
const DefaultRefreshMargin = 5 * time.Minute

// TokenLifecycle decides when a connection's access token needs refreshing,
// performs the refresh, and persists the result before handing the token out.
type TokenLifecycle struct {
	connections   ConnectionStore
	registry      providers.Registry
	logger        *zap.Logger
	refreshMargin time.Duration
	now           func() time.Time
}

// NewTokenLifecycle wires the lifecycle manager. A non-positive margin falls
// back to DefaultRefreshMargin.
func NewTokenLifecycle(connections ConnectionStore, registry providers.Registry, logger *zap.Logger, refreshMargin time.Duration) *TokenLifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if refreshMargin <= 0 {
		refreshMargin = DefaultRefreshMargin
	}
	return &TokenLifecycle{
		connections:   connections,
		registry:      registry,
		logger:        logger,
		refreshMargin: refreshMargin,
		now:           time.Now,
	}
}

// ValidAccessToken returns an access token expected to outlive the refresh
// margin, refreshing and persisting first when needed. A connection without a
// refresh token is non-refreshable: its token is returned as stored and used
// until the provider rejects it. Refresh failures surface as ErrRefreshFailed
// so interactive callers can require re-consent.
func (lifecycle *TokenLifecycle) ValidAccessToken(ctx context.Context, connection *Connection) (string, error) {
	if !lifecycle.needsRefresh(connection) {
		return connection.AccessToken, nil
	}
	if connection.RefreshToken == "" {
		return connection.AccessToken, nil
	}

	client, lookupErr := lifecycle.registry.Lookup(connection.Provider)
	if lookupErr != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, lookupErr)
	}

	grant, refreshErr := client.Refresh(ctx, connection.RefreshToken)
	if refreshErr != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, refreshErr)
	}

	refreshToken := grant.RefreshToken
	if refreshToken == "" {
		refreshToken = connection.RefreshToken
	}

	// Persist before returning so the stored row never lags the token in use.
	if updateErr := lifecycle.connections.UpdateTokens(ctx, connection.ID, grant.AccessToken, refreshToken, grant.ExpiresAt); updateErr != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, updateErr)
	}

	connection.AccessToken = grant.AccessToken
	connection.RefreshToken = refreshToken
	connection.TokenExpiresAt = grant.ExpiresAt

	lifecycle.logger.Info("access token refreshed",
		zap.String("provider", connection.Provider),
		zap.String("connection_id", connection.ID))
	return connection.AccessToken, nil
}

// ValidAccessTokenLenient is the background-caller variant: a failed refresh
// is logged and the stored, possibly stale token is returned so the caller can
// still try its read. The provider's rejection then counts as that caller's
// own failure.
func (lifecycle *TokenLifecycle) ValidAccessTokenLenient(ctx context.Context, connection *Connection) string {
	token, err := lifecycle.ValidAccessToken(ctx, connection)
	if err != nil {
		lifecycle.logger.Warn("token refresh failed, continuing with stored token",
			zap.String("provider", connection.Provider),
			zap.String("connection_id", connection.ID),
			zap.Error(err))
		return connection.AccessToken
	}
	return token
}

func (lifecycle *TokenLifecycle) needsRefresh(connection *Connection) bool {
	if connection.TokenExpiresAt == nil {
		return false
	}
	return lifecycle.now().Add(lifecycle.refreshMargin).After(*connection.TokenExpiresAt)
}
