package providers

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	youtubeapi "google.golang.org/api/youtube/v3"

	"google.golang.org/api/option"
)

const youtubeReadScope = "https://www.googleapis.com/auth/youtube.readonly"

// YouTube reads channel statistics and recent uploads through the Data API v3.
type YouTube struct {
	oauthConfig    *oauth2.Config
	requestTimeout time.Duration
}

// NewYouTube constructs the video-provider client. Offline access with forced
// consent guarantees Google returns a refresh token on first connect.
func NewYouTube(clientID string, clientSecret string, redirectURL string, requestTimeout time.Duration) *YouTube {
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}
	return &YouTube{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{youtubeReadScope},
			Endpoint:     google.Endpoint,
		},
		requestTimeout: requestTimeout,
	}
}

// Name reports the provider identifier.
func (client *YouTube) Name() string {
	return ProviderYouTube
}

// AuthCodeURL builds the Google consent URL carrying the state token.
func (client *YouTube) AuthCodeURL(state string) string {
	return client.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange swaps an authorization code for an access token, a refresh token,
// and an absolute expiry.
func (client *YouTube) Exchange(ctx context.Context, code string) (*TokenGrant, error) {
	ctx, cancel := context.WithTimeout(ctx, client.requestTimeout)
	defer cancel()

	token, exchangeErr := client.oauthConfig.Exchange(ctx, code)
	if exchangeErr != nil {
		return nil, &RequestError{Provider: ProviderYouTube, Operation: "exchange", Err: exchangeErr}
	}
	return grantFromOAuthToken(token, ""), nil
}

// Refresh obtains a fresh access token from the stored refresh token.
func (client *YouTube) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	ctx, cancel := context.WithTimeout(ctx, client.requestTimeout)
	defer cancel()

	source := client.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, refreshErr := source.Token()
	if refreshErr != nil {
		return nil, &RequestError{Provider: ProviderYouTube, Operation: "refresh", Err: refreshErr}
	}
	return grantFromOAuthToken(token, refreshToken), nil
}

// FetchProfile resolves the channel behind the grant.
func (client *YouTube) FetchProfile(ctx context.Context, accessToken string) (*AccountProfile, error) {
	channel, err := client.ownChannel(ctx, accessToken, "profile")
	if err != nil {
		return nil, err
	}
	return &AccountProfile{
		AccountID:   channel.Id,
		AccountName: channel.Snippet.Title,
	}, nil
}

// FetchAccountStats reads subscriber and upload totals for the channel.
func (client *YouTube) FetchAccountStats(ctx context.Context, accessToken string) (*AccountStats, error) {
	channel, err := client.ownChannel(ctx, accessToken, "stats")
	if err != nil {
		return nil, err
	}
	return &AccountStats{
		Followers:  int64(channel.Statistics.SubscriberCount),
		MediaCount: int64(channel.Statistics.VideoCount),
	}, nil
}

// FetchRecentMedia walks the uploads playlist and returns the newest videos
// with their engagement counters.
func (client *YouTube) FetchRecentMedia(ctx context.Context, accessToken string, limit int) ([]MediaItem, error) {
	ctx, cancel := context.WithTimeout(ctx, client.requestTimeout)
	defer cancel()

	service, serviceErr := client.service(ctx, accessToken)
	if serviceErr != nil {
		return nil, &RequestError{Provider: ProviderYouTube, Operation: "recent_media", Err: serviceErr}
	}

	channelResponse, channelErr := service.Channels.List([]string{"contentDetails"}).Mine(true).Context(ctx).Do()
	if channelErr != nil {
		return nil, &RequestError{Provider: ProviderYouTube, Operation: "recent_media", Err: channelErr}
	}
	if len(channelResponse.Items) == 0 {
		return nil, &RequestError{Provider: ProviderYouTube, Operation: "recent_media", Err: fmt.Errorf("no channel for grant")}
	}
	uploadsPlaylistID := channelResponse.Items[0].ContentDetails.RelatedPlaylists.Uploads

	playlistResponse, playlistErr := service.PlaylistItems.List([]string{"contentDetails"}).
		PlaylistId(uploadsPlaylistID).
		MaxResults(int64(limit)).
		Context(ctx).
		Do()
	if playlistErr != nil {
		return nil, &RequestError{Provider: ProviderYouTube, Operation: "recent_media", Err: playlistErr}
	}

	videoIDs := make([]string, 0, len(playlistResponse.Items))
	for _, item := range playlistResponse.Items {
		videoIDs = append(videoIDs, item.ContentDetails.VideoId)
	}
	if len(videoIDs) == 0 {
		return nil, nil
	}

	videosResponse, videosErr := service.Videos.List([]string{"snippet", "statistics"}).
		Id(videoIDs...).
		Context(ctx).
		Do()
	if videosErr != nil {
		return nil, &RequestError{Provider: ProviderYouTube, Operation: "recent_media", Err: videosErr}
	}

	items := make([]MediaItem, 0, len(videosResponse.Items))
	for _, video := range videosResponse.Items {
		item := MediaItem{ID: video.Id, Title: video.Snippet.Title}
		if video.Statistics != nil {
			item.Likes = int64(video.Statistics.LikeCount)
			item.Comments = int64(video.Statistics.CommentCount)
			item.Views = int64(video.Statistics.ViewCount)
		}
		items = append(items, item)
	}
	return items, nil
}

func (client *YouTube) ownChannel(ctx context.Context, accessToken string, operation string) (*youtubeapi.Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, client.requestTimeout)
	defer cancel()

	service, serviceErr := client.service(ctx, accessToken)
	if serviceErr != nil {
		return nil, &RequestError{Provider: ProviderYouTube, Operation: operation, Err: serviceErr}
	}
	response, listErr := service.Channels.List([]string{"snippet", "statistics"}).Mine(true).Context(ctx).Do()
	if listErr != nil {
		return nil, &RequestError{Provider: ProviderYouTube, Operation: operation, Err: listErr}
	}
	if len(response.Items) == 0 {
		return nil, &RequestError{Provider: ProviderYouTube, Operation: operation, Err: fmt.Errorf("no channel for grant")}
	}
	return response.Items[0], nil
}

func (client *YouTube) service(ctx context.Context, accessToken string) (*youtubeapi.Service, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	return youtubeapi.NewService(ctx, option.WithTokenSource(source))
}

func grantFromOAuthToken(token *oauth2.Token, fallbackRefreshToken string) *TokenGrant {
	grant := &TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if grant.RefreshToken == "" {
		grant.RefreshToken = fallbackRefreshToken
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		grant.ExpiresAt = &expiry
	}
	return grant
}
