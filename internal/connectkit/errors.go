package connectkit

import "errors"

var (
	// ErrConnectionNotFound indicates no connection exists for the lookup key.
	ErrConnectionNotFound = errors.New("connections.not_found")
	// ErrRefreshFailed indicates the provider rejected the stored refresh token
	// or the refresh call failed; interactive callers surface re-consent.
	ErrRefreshFailed = errors.New("connections.refresh_failed")
)
