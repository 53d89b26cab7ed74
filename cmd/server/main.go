package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/creatorlens/creatorlens/internal/connectkit"
	"github.com/creatorlens/creatorlens/internal/harvester"
	"github.com/creatorlens/creatorlens/internal/providers"
	"github.com/creatorlens/creatorlens/internal/snapshotpg"
	"github.com/creatorlens/creatorlens/internal/statetoken"
	"github.com/creatorlens/creatorlens/internal/vault"
	"github.com/creatorlens/creatorlens/internal/web"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "creatorlens",
		Short:   "Creator platform connections with encrypted token storage and daily analytics snapshots",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("environment", "development", "Deployment environment (development or production)")
	rootCmd.Flags().String("database_url", "", "Database URL (postgres:// or sqlite://; leave empty for in-memory stores)")
	rootCmd.Flags().String("session_signing_key", "", "HS256 signing secret for session cookies")
	rootCmd.Flags().String("session_issuer", "creatorlens", "Expected issuer of session cookies")
	rootCmd.Flags().String("state_secret", "", "HMAC secret for OAuth state tokens; defaults to the session signing key")
	rootCmd.Flags().Duration("state_ttl", statetoken.DefaultTTL, "OAuth state token lifetime")
	rootCmd.Flags().String("cipher_secret", "", "Operator secret for token encryption at rest; required in production")
	rootCmd.Flags().String("cipher_salt", "", "Key-derivation salt override")
	rootCmd.Flags().Bool("allow_legacy_plaintext", false, "Pass through stored token values that predate encryption")
	rootCmd.Flags().String("success_redirect_url", "/settings/connections", "Where the browser lands after a successful connect")
	rootCmd.Flags().String("error_redirect_url", "/settings/connections", "Where the browser lands after a failed connect")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")
	rootCmd.Flags().String("youtube_client_id", "", "Google OAuth client ID for YouTube")
	rootCmd.Flags().String("youtube_client_secret", "", "Google OAuth client secret for YouTube")
	rootCmd.Flags().String("youtube_redirect_url", "", "OAuth callback URL registered for YouTube")
	rootCmd.Flags().String("instagram_client_id", "", "Instagram Basic Display app ID")
	rootCmd.Flags().String("instagram_client_secret", "", "Instagram Basic Display app secret")
	rootCmd.Flags().String("instagram_redirect_url", "", "OAuth callback URL registered for Instagram")
	rootCmd.Flags().Duration("provider_timeout", 15*time.Second, "Per-request timeout for provider API calls")
	rootCmd.Flags().Bool("enable_harvester", true, "Run the daily snapshot harvester")
	rootCmd.Flags().Int("harvest_hour_utc", harvester.DefaultDailyHourUTC, "UTC hour for the daily harvest run")
	rootCmd.Flags().Bool("pgx_snapshots", false, "Store snapshots through a dedicated pgx pool instead of GORM (postgres only)")

	for _, flagName := range []string{
		"listen_addr", "environment", "database_url",
		"session_signing_key", "session_issuer",
		"state_secret", "state_ttl",
		"cipher_secret", "cipher_salt", "allow_legacy_plaintext",
		"success_redirect_url", "error_redirect_url",
		"enable_cors", "cors_allowed_origins",
		"youtube_client_id", "youtube_client_secret", "youtube_redirect_url",
		"instagram_client_id", "instagram_client_secret", "instagram_redirect_url",
		"provider_timeout", "enable_harvester", "harvest_hour_utc", "pgx_snapshots",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	sessionCookieName     = "creatorlens_session"
	environmentProduction = "production"

	configCodeMissingSessionSigningKey = "config.missing_session_signing_key"
	configCodeMissingCipherSecret      = "config.missing_cipher_secret"
	configCodeInvalidStateTTL          = "config.invalid_state_ttl"
	configCodeMissingRedirectURL       = "config.missing_redirect_url"
	configCodeUninitializedServerConf  = "config.uninitialized_server_config"
)

type contextKey string

const serverSettingsContextKey contextKey = "serverSettings"

// serverSettings is the validated runtime configuration assembled from flags
// and APP_-prefixed environment variables.
type serverSettings struct {
	Connect              connectkit.ServerConfig
	Environment          string
	CipherSecret         string
	CipherSalt           string
	AllowLegacyPlaintext bool
	StateSecret          []byte
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	settings, loadErr := LoadServerSettings()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverSettingsContextKey, settings))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerSettings validates the configuration surface. The cipher secret is
// only mandatory in production; development falls back to an ephemeral key.
func LoadServerSettings() (serverSettings, error) {
	sessionSigningKey := viper.GetString("session_signing_key")
	if sessionSigningKey == "" {
		return serverSettings{}, configError(configCodeMissingSessionSigningKey, "session_signing_key must be provided")
	}

	stateTTL := viper.GetDuration("state_ttl")
	if stateTTL <= 0 {
		return serverSettings{}, configError(configCodeInvalidStateTTL, "state_ttl must be greater than zero")
	}

	stateSecret := viper.GetString("state_secret")
	if stateSecret == "" {
		stateSecret = sessionSigningKey
	}

	successRedirectURL := viper.GetString("success_redirect_url")
	errorRedirectURL := viper.GetString("error_redirect_url")
	if successRedirectURL == "" || errorRedirectURL == "" {
		return serverSettings{}, configError(configCodeMissingRedirectURL, "success_redirect_url and error_redirect_url must be provided")
	}

	environment := viper.GetString("environment")
	cipherSecret := viper.GetString("cipher_secret")
	if environment == environmentProduction && cipherSecret == "" {
		return serverSettings{}, configError(configCodeMissingCipherSecret, "cipher_secret must be provided in production")
	}

	return serverSettings{
		Connect: connectkit.ServerConfig{
			SessionSigningKey:  []byte(sessionSigningKey),
			SessionIssuer:      viper.GetString("session_issuer"),
			SessionCookieName:  sessionCookieName,
			StateTTL:           stateTTL,
			SuccessRedirectURL: successRedirectURL,
			ErrorRedirectURL:   errorRedirectURL,
		},
		Environment:          environment,
		CipherSecret:         cipherSecret,
		CipherSalt:           viper.GetString("cipher_salt"),
		AllowLegacyPlaintext: viper.GetBool("allow_legacy_plaintext"),
		StateSecret:          []byte(stateSecret),
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverSettingsContextKey)
	}
	settings, ok := contextValue.(serverSettings)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	tokenVault, vaultErr := buildVault(settings, logger)
	if vaultErr != nil {
		return vaultErr
	}

	states, issuerErr := statetoken.NewIssuer(settings.StateSecret, settings.Connect.StateTTL)
	if issuerErr != nil {
		return issuerErr
	}

	connections, snapshots, storesErr := buildStores(command.Context(), tokenVault, logger)
	if storesErr != nil {
		return storesErr
	}

	registry := buildProviderRegistry(logger)
	lifecycle := connectkit.NewTokenLifecycle(connections, registry, logger, 0)
	metricsRecorder := connectkit.NewCounterMetrics()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if viper.GetBool("enable_cors") {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = viper.GetStringSlice("cors_allowed_origins")
		corsConfig.AllowCredentials = true
		corsConfig.AllowMethods = []string{http.MethodGet, http.MethodDelete, http.MethodOptions}
		router.Use(cors.New(corsConfig))
	}

	connectkit.MountConnectRoutes(router, settings.Connect, connections, registry, states, logger, metricsRecorder)

	protected := router.Group("/api")
	protected.Use(connectkit.RequireSession(settings.Connect))
	protected.GET("/connections", web.HandleListConnections(connections, logger))
	protected.GET("/snapshots/:provider", web.HandleListSnapshots(snapshots, logger))

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	if viper.GetBool("enable_harvester") {
		dailyHarvester := harvester.New(connections, snapshots, lifecycle, registry, logger, metricsRecorder, harvester.Options{
			DailyHourUTC: viper.GetInt("harvest_hour_utc"),
		})
		go func() {
			if runErr := dailyHarvester.Run(shutdownCtx); runErr != nil && !errors.Is(runErr, context.Canceled) {
				logger.Error("harvester stopped", zap.Error(runErr))
			}
		}()
	}

	listenAddr := viper.GetString("listen_addr")
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		shutdownCancel()
		graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func buildVault(settings serverSettings, logger *zap.Logger) (*vault.Vault, error) {
	options := []vault.Option{vault.WithLegacyPlaintext(settings.AllowLegacyPlaintext)}
	if settings.CipherSecret != "" {
		return vault.New(settings.CipherSecret, settings.CipherSalt, options...)
	}
	// Development-only fallback: stored tokens become unreadable on restart.
	logger.Warn("no cipher_secret configured; using an ephemeral vault key",
		zap.String("code", "config.ephemeral_vault"),
		zap.String("environment", settings.Environment))
	return vault.NewEphemeral(options...)
}

func buildStores(ctx context.Context, tokenVault *vault.Vault, logger *zap.Logger) (connectkit.ConnectionStore, connectkit.SnapshotStore, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	databaseURL := viper.GetString("database_url")
	if databaseURL == "" {
		logger.Info("using in-memory stores")
		return connectkit.NewMemoryConnectionStore(), connectkit.NewMemorySnapshotStore(), nil
	}

	db, driverLabel, openErr := connectkit.OpenDatabase(databaseURL)
	if openErr != nil {
		return nil, nil, openErr
	}
	connections, connectionErr := connectkit.NewDatabaseConnectionStore(ctx, db, driverLabel, tokenVault)
	if connectionErr != nil {
		return nil, nil, connectionErr
	}

	if viper.GetBool("pgx_snapshots") && driverLabel == "postgres" {
		pool, poolErr := snapshotpg.BuildPool(ctx, databaseURL)
		if poolErr != nil {
			return nil, nil, poolErr
		}
		if schemaErr := snapshotpg.EnsureSchema(ctx, pool); schemaErr != nil {
			return nil, nil, schemaErr
		}
		logger.Info("using persistent stores", zap.String("driver", driverLabel), zap.String("snapshot_backend", "pgx"))
		return connections, snapshotpg.NewPostgresSnapshotStore(pool), nil
	}

	snapshots, snapshotErr := connectkit.NewDatabaseSnapshotStore(ctx, db, driverLabel)
	if snapshotErr != nil {
		return nil, nil, snapshotErr
	}
	logger.Info("using persistent stores", zap.String("driver", driverLabel))
	return connections, snapshots, nil
}

func buildProviderRegistry(logger *zap.Logger) providers.Registry {
	requestTimeout := viper.GetDuration("provider_timeout")
	var clients []providers.Provider

	youtubeClientID := viper.GetString("youtube_client_id")
	if youtubeClientID != "" {
		clients = append(clients, providers.NewYouTube(
			youtubeClientID,
			viper.GetString("youtube_client_secret"),
			viper.GetString("youtube_redirect_url"),
			requestTimeout,
		))
	}

	instagramClientID := viper.GetString("instagram_client_id")
	if instagramClientID != "" {
		clients = append(clients, providers.NewInstagram(
			instagramClientID,
			viper.GetString("instagram_client_secret"),
			viper.GetString("instagram_redirect_url"),
			requestTimeout,
		))
	}

	if len(clients) == 0 {
		logger.Warn("no provider credentials configured; connect endpoints will reject every provider",
			zap.String("code", "config.no_providers"))
	}
	return providers.NewRegistry(clients...)
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
