package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/creatorlens/creatorlens/internal/connectkit"
)

func routerAs(userID string, register func(router gin.IRouter)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(contextGin *gin.Context) {
		if userID != "" {
			contextGin.Set(connectkit.SessionContextKey, userID)
		}
		contextGin.Next()
	})
	register(router)
	return router
}

func TestHandleListConnectionsElidesTokens(t *testing.T) {
	t.Parallel()

	store := connectkit.NewMemoryConnectionStore()
	expiry := time.Now().UTC().Add(time.Hour)
	if upsertErr := store.Upsert(context.Background(), &connectkit.Connection{
		ID: "conn-1", UserID: "user-1", Provider: "youtube",
		ProviderAccountID: "channel-1", AccountName: "Creator One",
		AccessToken: "secret-access", RefreshToken: "secret-refresh", TokenExpiresAt: &expiry,
	}); upsertErr != nil {
		t.Fatalf("seed upsert failed: %v", upsertErr)
	}

	router := routerAs("user-1", func(router gin.IRouter) {
		router.GET("/api/connections", HandleListConnections(store, zap.NewNop()))
	})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/connections", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	if strings.Contains(body, "secret-access") || strings.Contains(body, "secret-refresh") {
		t.Fatalf("token material leaked into the response: %s", body)
	}

	var payload struct {
		Connections []ConnectionView `json:"connections"`
	}
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &payload); decodeErr != nil {
		t.Fatalf("bad response body: %v", decodeErr)
	}
	if len(payload.Connections) != 1 {
		t.Fatalf("expected one connection, got %d", len(payload.Connections))
	}
	view := payload.Connections[0]
	if view.Provider != "youtube" || view.AccountID != "channel-1" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.NeedsReconnect {
		t.Fatal("a live refreshable connection must not be flagged for reconnect")
	}
}

func TestHandleListConnectionsFlagsExpiredNonRefreshable(t *testing.T) {
	t.Parallel()

	store := connectkit.NewMemoryConnectionStore()
	expired := time.Now().UTC().Add(-time.Hour)
	if upsertErr := store.Upsert(context.Background(), &connectkit.Connection{
		ID: "conn-1", UserID: "user-1", Provider: "instagram",
		AccessToken: "stale-token", TokenExpiresAt: &expired,
	}); upsertErr != nil {
		t.Fatalf("seed upsert failed: %v", upsertErr)
	}

	router := routerAs("user-1", func(router gin.IRouter) {
		router.GET("/api/connections", HandleListConnections(store, zap.NewNop()))
	})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/connections", nil))

	var payload struct {
		Connections []ConnectionView `json:"connections"`
	}
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &payload); decodeErr != nil {
		t.Fatalf("bad response body: %v", decodeErr)
	}
	if len(payload.Connections) != 1 || !payload.Connections[0].NeedsReconnect {
		t.Fatalf("expired non-refreshable connection should need reconnect: %+v", payload.Connections)
	}
}

func TestHandleListConnectionsRequiresUser(t *testing.T) {
	t.Parallel()

	router := routerAs("", func(router gin.IRouter) {
		router.GET("/api/connections", HandleListConnections(connectkit.NewMemoryConnectionStore(), zap.NewNop()))
	})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/connections", nil))

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a user, got %d", recorder.Code)
	}
}

func TestHandleListSnapshotsReturnsUserRows(t *testing.T) {
	t.Parallel()

	store := connectkit.NewMemorySnapshotStore()
	ctx := context.Background()
	seed := []connectkit.Snapshot{
		{ID: "s1", UserID: "user-1", Provider: "youtube", SnapshotDate: "2026-08-30", Followers: 100},
		{ID: "s2", UserID: "user-1", Provider: "youtube", SnapshotDate: "2026-08-31", Followers: 110},
		{ID: "s3", UserID: "user-2", Provider: "youtube", SnapshotDate: "2026-08-31", Followers: 999},
	}
	for index := range seed {
		if upsertErr := store.Upsert(ctx, &seed[index]); upsertErr != nil {
			t.Fatalf("seed upsert failed: %v", upsertErr)
		}
	}

	router := routerAs("user-1", func(router gin.IRouter) {
		router.GET("/api/snapshots/:provider", HandleListSnapshots(store, zap.NewNop()))
	})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/snapshots/youtube", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payload struct {
		Snapshots []connectkit.Snapshot `json:"snapshots"`
	}
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &payload); decodeErr != nil {
		t.Fatalf("bad response body: %v", decodeErr)
	}
	if len(payload.Snapshots) != 2 {
		t.Fatalf("expected only user-1 rows, got %d", len(payload.Snapshots))
	}
	for _, snapshot := range payload.Snapshots {
		if snapshot.UserID != "user-1" {
			t.Fatalf("foreign user's snapshot leaked: %+v", snapshot)
		}
	}
}
