package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	instagramDefaultAuthBaseURL = "https://api.instagram.com"
	instagramDefaultAPIBaseURL  = "https://graph.instagram.com"
	instagramScope              = "user_profile,user_media"
)

// Instagram talks to the Basic Display endpoints over plain HTTP. The
// long-lived token it stores carries its own expiry and has no separate
// refresh grant, so connections made here are non-refreshable.
type Instagram struct {
	clientID     string
	clientSecret string
	redirectURL  string
	authBaseURL  string
	apiBaseURL   string
	httpClient   *http.Client
}

// InstagramOption adjusts client construction; used by tests to point the
// client at a local server.
type InstagramOption func(*Instagram)

// WithInstagramBaseURLs overrides the authorize and API hosts.
func WithInstagramBaseURLs(authBaseURL string, apiBaseURL string) InstagramOption {
	return func(client *Instagram) {
		client.authBaseURL = strings.TrimRight(authBaseURL, "/")
		client.apiBaseURL = strings.TrimRight(apiBaseURL, "/")
	}
}

// NewInstagram constructs the photo/short-form provider client.
func NewInstagram(clientID string, clientSecret string, redirectURL string, requestTimeout time.Duration, options ...InstagramOption) *Instagram {
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}
	client := &Instagram{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		authBaseURL:  instagramDefaultAuthBaseURL,
		apiBaseURL:   instagramDefaultAPIBaseURL,
		httpClient:   &http.Client{Timeout: requestTimeout},
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// Name reports the provider identifier.
func (client *Instagram) Name() string {
	return ProviderInstagram
}

// AuthCodeURL builds the authorize URL carrying the signed state token.
func (client *Instagram) AuthCodeURL(state string) string {
	query := url.Values{}
	query.Set("client_id", client.clientID)
	query.Set("redirect_uri", client.redirectURL)
	query.Set("scope", instagramScope)
	query.Set("response_type", "code")
	query.Set("state", state)
	return client.authBaseURL + "/oauth/authorize?" + query.Encode()
}

// Exchange swaps the authorization code for a short-lived token, then upgrades
// it to a long-lived one so the connection survives more than an hour.
func (client *Instagram) Exchange(ctx context.Context, code string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("client_id", client.clientID)
	form.Set("client_secret", client.clientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", client.redirectURL)
	form.Set("code", code)

	var shortLived struct {
		AccessToken string      `json:"access_token"`
		UserID      json.Number `json:"user_id"`
	}
	if err := client.postForm(ctx, client.authBaseURL+"/oauth/access_token", form, "exchange", &shortLived); err != nil {
		return nil, err
	}

	exchangeQuery := url.Values{}
	exchangeQuery.Set("grant_type", "ig_exchange_token")
	exchangeQuery.Set("client_secret", client.clientSecret)
	exchangeQuery.Set("access_token", shortLived.AccessToken)

	var longLived struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := client.get(ctx, client.apiBaseURL+"/access_token?"+exchangeQuery.Encode(), "exchange_long_lived", &longLived); err != nil {
		return nil, err
	}

	grant := &TokenGrant{AccessToken: longLived.AccessToken}
	if longLived.ExpiresIn > 0 {
		expiry := time.Now().Add(time.Duration(longLived.ExpiresIn) * time.Second)
		grant.ExpiresAt = &expiry
	}
	return grant, nil
}

// Refresh is not available: the long-lived token is the only credential.
func (client *Instagram) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	return nil, ErrRefreshUnsupported
}

// FetchProfile resolves the account id and username behind the grant.
func (client *Instagram) FetchProfile(ctx context.Context, accessToken string) (*AccountProfile, error) {
	query := url.Values{}
	query.Set("fields", "id,username")
	query.Set("access_token", accessToken)

	var payload struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := client.get(ctx, client.apiBaseURL+"/me?"+query.Encode(), "profile", &payload); err != nil {
		return nil, err
	}
	return &AccountProfile{AccountID: payload.ID, AccountName: payload.Username}, nil
}

// FetchAccountStats reads follower and media totals.
func (client *Instagram) FetchAccountStats(ctx context.Context, accessToken string) (*AccountStats, error) {
	query := url.Values{}
	query.Set("fields", "id,username,media_count,followers_count")
	query.Set("access_token", accessToken)

	var payload struct {
		MediaCount     int64 `json:"media_count"`
		FollowersCount int64 `json:"followers_count"`
	}
	if err := client.get(ctx, client.apiBaseURL+"/me?"+query.Encode(), "stats", &payload); err != nil {
		return nil, err
	}
	return &AccountStats{Followers: payload.FollowersCount, MediaCount: payload.MediaCount}, nil
}

// FetchRecentMedia returns the newest media items with engagement counters.
func (client *Instagram) FetchRecentMedia(ctx context.Context, accessToken string, limit int) ([]MediaItem, error) {
	query := url.Values{}
	query.Set("fields", "id,caption,like_count,comments_count")
	query.Set("limit", strconv.Itoa(limit))
	query.Set("access_token", accessToken)

	var payload struct {
		Data []struct {
			ID            string `json:"id"`
			Caption       string `json:"caption"`
			LikeCount     int64  `json:"like_count"`
			CommentsCount int64  `json:"comments_count"`
		} `json:"data"`
	}
	if err := client.get(ctx, client.apiBaseURL+"/me/media?"+query.Encode(), "recent_media", &payload); err != nil {
		return nil, err
	}

	items := make([]MediaItem, 0, len(payload.Data))
	for _, entry := range payload.Data {
		items = append(items, MediaItem{
			ID:       entry.ID,
			Title:    entry.Caption,
			Likes:    entry.LikeCount,
			Comments: entry.CommentsCount,
		})
	}
	return items, nil
}

func (client *Instagram) get(ctx context.Context, requestURL string, operation string, target any) error {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if requestErr != nil {
		return &RequestError{Provider: ProviderInstagram, Operation: operation, Err: requestErr}
	}
	return client.do(request, operation, target)
}

func (client *Instagram) postForm(ctx context.Context, requestURL string, form url.Values, operation string, target any) error {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, strings.NewReader(form.Encode()))
	if requestErr != nil {
		return &RequestError{Provider: ProviderInstagram, Operation: operation, Err: requestErr}
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return client.do(request, operation, target)
}

func (client *Instagram) do(request *http.Request, operation string, target any) error {
	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return &RequestError{Provider: ProviderInstagram, Operation: operation, Err: doErr}
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return &RequestError{
			Provider:   ProviderInstagram,
			Operation:  operation,
			StatusCode: response.StatusCode,
			Err:        fmt.Errorf("unexpected status"),
		}
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(target); decodeErr != nil {
		return &RequestError{Provider: ProviderInstagram, Operation: operation, Err: decodeErr}
	}
	return nil
}
