// Package web holds the authenticated read endpoints that sit next to the
// OAuth connect surface.
package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/creatorlens/creatorlens/internal/connectkit"
)

// ConnectionView is the wire shape for one connection. Token material never
// leaves the store boundary.
type ConnectionView struct {
	Provider       string     `json:"provider"`
	AccountID      string     `json:"account_id"`
	AccountName    string     `json:"account_name"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	ConnectedSince time.Time  `json:"connected_since"`
	NeedsReconnect bool       `json:"needs_reconnect"`
}

// HandleListConnections returns the calling user's connections, tokens elided.
func HandleListConnections(connections connectkit.ConnectionStore, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		userID := contextGin.GetString(connectkit.SessionContextKey)
		if userID == "" {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		stored, listErr := connections.ListByUser(contextGin, userID)
		if listErr != nil {
			logger.Error("connection list failed",
				zap.String("code", "api.connections.list_error"),
				zap.String("user_id", userID),
				zap.Error(listErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		now := time.Now().UTC()
		views := make([]ConnectionView, 0, len(stored))
		for _, connection := range stored {
			view := ConnectionView{
				Provider:       connection.Provider,
				AccountID:      connection.ProviderAccountID,
				AccountName:    connection.AccountName,
				TokenExpiresAt: connection.TokenExpiresAt,
				LastSyncedAt:   connection.LastSyncedAt,
				ConnectedSince: connection.CreatedAt,
			}
			// A connection with no refresh grant and an expired token can only
			// be repaired by the user reconnecting.
			if connection.RefreshToken == "" && connection.TokenExpiresAt != nil && connection.TokenExpiresAt.Before(now) {
				view.NeedsReconnect = true
			}
			views = append(views, view)
		}

		contextGin.JSON(http.StatusOK, gin.H{"connections": views})
	}
}

// HandleListSnapshots returns the stored daily snapshots for one of the
// calling user's providers, newest first.
func HandleListSnapshots(snapshots connectkit.SnapshotStore, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		userID := contextGin.GetString(connectkit.SessionContextKey)
		if userID == "" {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		provider := contextGin.Param("provider")

		stored, listErr := snapshots.ListByUserAndProvider(contextGin, userID, provider)
		if listErr != nil {
			logger.Error("snapshot list failed",
				zap.String("code", "api.snapshots.list_error"),
				zap.String("user_id", userID),
				zap.String("provider", provider),
				zap.Error(listErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		contextGin.JSON(http.StatusOK, gin.H{"snapshots": stored})
	}
}
