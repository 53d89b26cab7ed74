package connectkit

import "time"

// ServerConfig configures the connect surface: session validation for the
// interactive endpoints and the redirect targets for OAuth callbacks.
type ServerConfig struct {
	SessionSigningKey  []byte
	SessionIssuer      string
	SessionCookieName  string
	StateTTL           time.Duration
	SuccessRedirectURL string
	ErrorRedirectURL   string
}
