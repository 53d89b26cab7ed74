package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider name constants shared by stores, routes, and the harvester.
const (
	ProviderYouTube   = "youtube"
	ProviderInstagram = "instagram"
)

var (
	// ErrUnknownProvider indicates a lookup for a name with no registered client.
	ErrUnknownProvider = errors.New("providers.unknown_provider")
	// ErrRefreshUnsupported indicates the provider has no refresh grant; the
	// stored token is used until the provider rejects it.
	ErrRefreshUnsupported = errors.New("providers.refresh_unsupported")
)

// RequestError wraps a non-2xx provider response or transport failure so the
// harvester can recover per connection without parsing message text.
type RequestError struct {
	Provider   string
	Operation  string
	StatusCode int
	Err        error
}

func (requestError *RequestError) Error() string {
	if requestError.StatusCode != 0 {
		return fmt.Sprintf("providers.%s.%s: status %d", requestError.Provider, requestError.Operation, requestError.StatusCode)
	}
	return fmt.Sprintf("providers.%s.%s: %v", requestError.Provider, requestError.Operation, requestError.Err)
}

func (requestError *RequestError) Unwrap() error {
	return requestError.Err
}

// TokenGrant is the result of a code exchange or a refresh.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// AccountProfile identifies the provider-side account behind a grant.
type AccountProfile struct {
	AccountID   string
	AccountName string
}

// AccountStats carries the current account totals used in snapshots.
type AccountStats struct {
	Followers  int64
	MediaCount int64
}

// MediaItem is one recent content item with its engagement counters.
type MediaItem struct {
	ID       string
	Title    string
	Likes    int64
	Comments int64
	Views    int64
}

// Provider is one external creator platform reachable as an OAuth client.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*TokenGrant, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error)
	FetchProfile(ctx context.Context, accessToken string) (*AccountProfile, error)
	FetchAccountStats(ctx context.Context, accessToken string) (*AccountStats, error)
	FetchRecentMedia(ctx context.Context, accessToken string, limit int) ([]MediaItem, error)
}

// Registry resolves providers by name.
type Registry map[string]Provider

// NewRegistry indexes the given providers by Name().
func NewRegistry(clients ...Provider) Registry {
	registry := make(Registry, len(clients))
	for _, client := range clients {
		registry[client.Name()] = client
	}
	return registry
}

// Lookup returns the provider registered under name.
func (registry Registry) Lookup(name string) (Provider, error) {
	client, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return client, nil
}
