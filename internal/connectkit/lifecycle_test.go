package connectkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/creatorlens/creatorlens/internal/providers"
)

type stubProvider struct {
	name         string
	authCodeURL  func(state string) string
	exchange     func(ctx context.Context, code string) (*providers.TokenGrant, error)
	refresh      func(ctx context.Context, refreshToken string) (*providers.TokenGrant, error)
	fetchProfile func(ctx context.Context, accessToken string) (*providers.AccountProfile, error)
}

func (stub *stubProvider) Name() string { return stub.name }

func (stub *stubProvider) AuthCodeURL(state string) string {
	if stub.authCodeURL != nil {
		return stub.authCodeURL(state)
	}
	return "https://provider.test/auth?state=" + state
}

func (stub *stubProvider) Exchange(ctx context.Context, code string) (*providers.TokenGrant, error) {
	if stub.exchange != nil {
		return stub.exchange(ctx, code)
	}
	return nil, errors.New("exchange not stubbed")
}

func (stub *stubProvider) Refresh(ctx context.Context, refreshToken string) (*providers.TokenGrant, error) {
	if stub.refresh != nil {
		return stub.refresh(ctx, refreshToken)
	}
	return nil, providers.ErrRefreshUnsupported
}

func (stub *stubProvider) FetchProfile(ctx context.Context, accessToken string) (*providers.AccountProfile, error) {
	if stub.fetchProfile != nil {
		return stub.fetchProfile(ctx, accessToken)
	}
	return nil, errors.New("profile not stubbed")
}

func (stub *stubProvider) FetchAccountStats(ctx context.Context, accessToken string) (*providers.AccountStats, error) {
	return nil, errors.New("stats not stubbed")
}

func (stub *stubProvider) FetchRecentMedia(ctx context.Context, accessToken string, limit int) ([]providers.MediaItem, error) {
	return nil, errors.New("media not stubbed")
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestValidAccessTokenRefreshesNearExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC)
	soon := now.Add(2 * time.Minute)
	newExpiry := now.Add(time.Hour)

	var refreshedWith string
	client := &stubProvider{
		name: "youtube",
		refresh: func(ctx context.Context, refreshToken string) (*providers.TokenGrant, error) {
			refreshedWith = refreshToken
			return &providers.TokenGrant{AccessToken: "token-new", ExpiresAt: &newExpiry}, nil
		},
	}

	store := NewMemoryConnectionStore()
	ctx := context.Background()
	connection := &Connection{
		ID: "conn-1", UserID: "user-1", Provider: "youtube",
		AccessToken: "token-old", RefreshToken: "refresh-1", TokenExpiresAt: &soon,
	}
	if upsertErr := store.Upsert(ctx, connection); upsertErr != nil {
		t.Fatalf("upsert failed: %v", upsertErr)
	}

	lifecycle := NewTokenLifecycle(store, providers.NewRegistry(client), zap.NewNop(), 0)
	lifecycle.now = fixedClock(now)

	token, tokenErr := lifecycle.ValidAccessToken(ctx, connection)
	if tokenErr != nil {
		t.Fatalf("expected refreshed token, got error: %v", tokenErr)
	}
	if token != "token-new" {
		t.Fatalf("expected token-new, got %q", token)
	}
	if refreshedWith != "refresh-1" {
		t.Fatalf("refresh called with %q", refreshedWith)
	}

	// The refresh grant carried no rotation, so the old refresh token survives
	// and the new access token is persisted.
	stored, getErr := store.GetByUserAndProvider(ctx, "user-1", "youtube")
	if getErr != nil {
		t.Fatalf("get failed: %v", getErr)
	}
	if stored.AccessToken != "token-new" {
		t.Fatalf("refreshed token not persisted: %q", stored.AccessToken)
	}
	if stored.RefreshToken != "refresh-1" {
		t.Fatalf("refresh token lost on rotationless refresh: %q", stored.RefreshToken)
	}
}

func TestValidAccessTokenNoExpiryNoRefresh(t *testing.T) {
	t.Parallel()

	client := &stubProvider{
		name: "youtube",
		refresh: func(ctx context.Context, refreshToken string) (*providers.TokenGrant, error) {
			t.Fatal("refresh must not be called when expiry is unknown")
			return nil, nil
		},
	}

	store := NewMemoryConnectionStore()
	connection := &Connection{
		ID: "conn-1", UserID: "user-1", Provider: "youtube",
		AccessToken: "token-a", RefreshToken: "refresh-1",
	}
	lifecycle := NewTokenLifecycle(store, providers.NewRegistry(client), zap.NewNop(), 0)

	token, tokenErr := lifecycle.ValidAccessToken(context.Background(), connection)
	if tokenErr != nil {
		t.Fatalf("unexpected error: %v", tokenErr)
	}
	if token != "token-a" {
		t.Fatalf("expected the stored token, got %q", token)
	}
}

func TestValidAccessTokenNonRefreshableReturnsStored(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	client := &stubProvider{name: "instagram"}

	store := NewMemoryConnectionStore()
	connection := &Connection{
		ID: "conn-1", UserID: "user-1", Provider: "instagram",
		AccessToken: "token-long-lived", TokenExpiresAt: &expired,
	}
	lifecycle := NewTokenLifecycle(store, providers.NewRegistry(client), zap.NewNop(), 0)
	lifecycle.now = fixedClock(now)

	token, tokenErr := lifecycle.ValidAccessToken(context.Background(), connection)
	if tokenErr != nil {
		t.Fatalf("unexpected error: %v", tokenErr)
	}
	if token != "token-long-lived" {
		t.Fatalf("expected the stored token, got %q", token)
	}
}

func TestValidAccessTokenRefreshFailure(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC)
	soon := now.Add(time.Minute)
	client := &stubProvider{
		name: "youtube",
		refresh: func(ctx context.Context, refreshToken string) (*providers.TokenGrant, error) {
			return nil, &providers.RequestError{Provider: "youtube", Operation: "refresh", StatusCode: 400}
		},
	}

	store := NewMemoryConnectionStore()
	connection := &Connection{
		ID: "conn-1", UserID: "user-1", Provider: "youtube",
		AccessToken: "token-stale", RefreshToken: "refresh-revoked", TokenExpiresAt: &soon,
	}
	lifecycle := NewTokenLifecycle(store, providers.NewRegistry(client), zap.NewNop(), 0)
	lifecycle.now = fixedClock(now)

	if _, tokenErr := lifecycle.ValidAccessToken(context.Background(), connection); !errors.Is(tokenErr, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", tokenErr)
	}

	// The lenient variant swallows the failure and hands back the stale token.
	if token := lifecycle.ValidAccessTokenLenient(context.Background(), connection); token != "token-stale" {
		t.Fatalf("expected the stale token from the lenient path, got %q", token)
	}
}
