package connectkit

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SessionContextKey is where RequireSession stores the authenticated user ID.
const SessionContextKey = "session_user_id"

// SessionClaims is the payload of the HS256 session cookie minted by the
// login service that fronts this one.
type SessionClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// MintSessionToken creates a signed session token. The login surface lives in
// another service; this helper exists for tests and local development.
func MintSessionToken(userID string, issuer string, signingKey []byte, ttl time.Duration) (string, error) {
	issuedAt := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	})
	return token.SignedString(signingKey)
}

// RequireSession validates the session cookie and injects the user ID into the
// gin context. Callback endpoints do not use it; they are bound to the user by
// the state token instead.
func RequireSession(configuration ServerConfig) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		sessionCookie, cookieErr := contextGin.Request.Cookie(configuration.SessionCookieName)
		if cookieErr != nil || sessionCookie == nil || sessionCookie.Value == "" {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		parsedToken, parseErr := jwt.ParseWithClaims(sessionCookie.Value, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
			return configuration.SessionSigningKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		claims, ok := parsedToken.Claims.(*SessionClaims)
		if !ok || claims.Issuer != configuration.SessionIssuer || claims.UserID == "" {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		contextGin.Set(SessionContextKey, claims.UserID)
		contextGin.Next()
	}
}
