package connectkit

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/creatorlens/creatorlens/internal/providers"
	"github.com/creatorlens/creatorlens/internal/statetoken"
)

// Machine-readable error markers appended to the error redirect URL.
const (
	CallbackErrorUnknownProvider = "unknown_provider"
	CallbackErrorMissingCode     = "missing_code"
	CallbackErrorInvalidState    = "invalid_state"
	CallbackErrorExchangeFailed  = "exchange_failed"
	CallbackErrorProfileFailed   = "profile_failed"
	CallbackErrorStoreFailed     = "store_failed"
)

// MountConnectRoutes registers the OAuth connect surface:
// GET /connect/:provider/start, GET /connect/:provider/callback, and
// DELETE /connect/:provider. Start and disconnect require a session; the
// callback is bound to the initiating user by the signed state token.
func MountConnectRoutes(
	router gin.IRouter,
	configuration ServerConfig,
	connections ConnectionStore,
	registry providers.Registry,
	states *statetoken.Issuer,
	logger *zap.Logger,
	metrics MetricsRecorder,
) {
	if logger == nil {
		logger = zap.NewNop()
	}

	router.GET("/connect/:provider/start", RequireSession(configuration), func(contextGin *gin.Context) {
		providerName := contextGin.Param("provider")
		client, lookupErr := registry.Lookup(providerName)
		if lookupErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": CallbackErrorUnknownProvider})
			return
		}

		userID := contextGin.GetString(SessionContextKey)
		stateToken, issueErr := states.Issue(userID, providerName)
		if issueErr != nil {
			logger.Error("state token issue failed",
				zap.String("code", "connect.start.state_issue"),
				zap.String("provider", providerName),
				zap.Error(issueErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		contextGin.Redirect(http.StatusFound, client.AuthCodeURL(stateToken))
	})

	router.GET("/connect/:provider/callback", func(contextGin *gin.Context) {
		providerName := contextGin.Param("provider")
		failCallback := func(marker string, cause error) {
			logger.Warn("oauth callback rejected",
				zap.String("code", "connect.callback."+marker),
				zap.String("provider", providerName),
				zap.Error(cause))
			metrics.Increment(EventConnectFailure)
			contextGin.Redirect(http.StatusFound, redirectWithQuery(configuration.ErrorRedirectURL, "error", marker))
		}

		client, lookupErr := registry.Lookup(providerName)
		if lookupErr != nil {
			failCallback(CallbackErrorUnknownProvider, lookupErr)
			return
		}

		code := contextGin.Query("code")
		if strings.TrimSpace(code) == "" {
			failCallback(CallbackErrorMissingCode, nil)
			return
		}

		userID, stateErr := states.Verify(contextGin.Query("state"), providerName)
		if stateErr != nil {
			failCallback(CallbackErrorInvalidState, stateErr)
			return
		}

		grant, exchangeErr := client.Exchange(contextGin, code)
		if exchangeErr != nil {
			failCallback(CallbackErrorExchangeFailed, exchangeErr)
			return
		}

		profile, profileErr := client.FetchProfile(contextGin, grant.AccessToken)
		if profileErr != nil {
			failCallback(CallbackErrorProfileFailed, profileErr)
			return
		}

		connection := &Connection{
			ID:                uuid.NewString(),
			UserID:            userID,
			Provider:          providerName,
			ProviderAccountID: profile.AccountID,
			AccountName:       profile.AccountName,
			AccessToken:       grant.AccessToken,
			RefreshToken:      grant.RefreshToken,
			TokenExpiresAt:    grant.ExpiresAt,
		}
		if upsertErr := connections.Upsert(contextGin, connection); upsertErr != nil {
			failCallback(CallbackErrorStoreFailed, upsertErr)
			return
		}

		logger.Info("platform connected",
			zap.String("provider", providerName),
			zap.String("user_id", userID),
			zap.String("account_id", profile.AccountID))
		metrics.Increment(EventConnectSuccess)
		contextGin.Redirect(http.StatusFound, redirectWithQuery(configuration.SuccessRedirectURL, "connected", providerName))
	})

	router.DELETE("/connect/:provider", RequireSession(configuration), func(contextGin *gin.Context) {
		providerName := contextGin.Param("provider")
		if _, lookupErr := registry.Lookup(providerName); lookupErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": CallbackErrorUnknownProvider})
			return
		}

		userID := contextGin.GetString(SessionContextKey)
		deleteErr := connections.Delete(contextGin, userID, providerName)
		if deleteErr != nil {
			if errors.Is(deleteErr, ErrConnectionNotFound) {
				contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_connected"})
				return
			}
			logger.Error("disconnect failed",
				zap.String("code", "connect.disconnect.store_error"),
				zap.String("provider", providerName),
				zap.String("user_id", userID),
				zap.Error(deleteErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		metrics.Increment(EventDisconnect)
		contextGin.Status(http.StatusNoContent)
	})
}

func redirectWithQuery(baseURL string, key string, value string) string {
	separator := "?"
	if strings.Contains(baseURL, "?") {
		separator = "&"
	}
	return baseURL + separator + key + "=" + url.QueryEscape(value)
}
