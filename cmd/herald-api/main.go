package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/herald-notify/herald/internal/auth"
	"github.com/herald-notify/herald/internal/channels"
	"github.com/herald-notify/herald/internal/config"
	"github.com/herald-notify/herald/internal/database"
	"github.com/herald-notify/herald/internal/docstore"
	"github.com/herald-notify/herald/internal/heartbeat"
	"github.com/herald-notify/herald/internal/logging"
	"github.com/herald-notify/herald/internal/notifications"
	"github.com/herald-notify/herald/internal/push"
	"github.com/herald-notify/herald/internal/server"
	"github.com/herald-notify/herald/internal/subscriptions"
	"github.com/herald-notify/herald/internal/tenants"
	"github.com/herald-notify/herald/internal/tokens"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "herald-api",
		Short: "Herald push-notification backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("default-tenant", defaults.GetString("tenant.default_id"), "Default tenant id seeded at startup")
	cmd.PersistentFlags().String("fcm-credentials-file", defaults.GetString("fcm.credentials_file"), "FCM service-account credentials file")
	cmd.PersistentFlags().Bool("heartbeat", defaults.GetBool("heartbeat.enabled"), "Enable the minute heartbeat sender")
	cmd.PersistentFlags().Bool("dev-auth", defaults.GetBool("auth.dev_endpoint"), "Mount the development token-mint endpoint")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "tenant.default_id", "default-tenant")
	bindFlag(cmd, "fcm.credentials_file", "fcm-credentials-file")
	bindFlag(cmd, "heartbeat.enabled", "heartbeat")
	bindFlag(cmd, "auth.dev_endpoint", "dev-auth")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := docstore.NewStore(docstore.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	locks := docstore.NewKeyMutex()

	tenantRegistry, err := tenants.NewService(tenants.ServiceConfig{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	channelDirectory, err := channels.NewService(channels.ServiceConfig{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	subscriptionLedger, err := subscriptions.NewService(subscriptions.ServiceConfig{Store: store, Locks: locks, Logger: logger})
	if err != nil {
		return err
	}
	tokenRegistry, err := tokens.NewService(tokens.ServiceConfig{Store: store, Locks: locks, Logger: logger})
	if err != nil {
		return err
	}

	if err := tenantRegistry.EnsureDefault(ctx, appConfig.DefaultTenantID, appConfig.DefaultTenantName); err != nil {
		return err
	}
	if err := channelDirectory.EnsureHeartbeatChannel(ctx, appConfig.DefaultTenantID); err != nil {
		return err
	}

	pusher, err := newPusher(ctx, appConfig, logger)
	if err != nil {
		return err
	}

	dispatcher, err := notifications.NewService(notifications.ServiceConfig{
		Store:         store,
		Channels:      channelDirectory,
		Subscriptions: subscriptionLedger,
		Tokens:        tokenRegistry,
		Pusher:        pusher,
		IDProvider:    notifications.NewUUIDProvider(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "herald-auth",
		Audience:      "herald-api",
		TokenTTL:      time.Duration(appConfig.TokenTTLMinutes) * time.Minute,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		Tenants:       tenantRegistry,
		Channels:      channelDirectory,
		Subscriptions: subscriptionLedger,
		TokenRegistry: tokenRegistry,
		Dispatcher:    dispatcher,
		AdminChecker:  tenants.AllowAllAdminChecker{},
		Logger:        logger,
		EnableDevAuth: appConfig.DevAuthEnabled,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var heartbeats *heartbeat.Service
	if appConfig.HeartbeatEnabled {
		heartbeats, err = heartbeat.NewService(heartbeat.ServiceConfig{
			Dispatcher: dispatcher,
			TenantID:   appConfig.DefaultTenantID,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		if err := heartbeats.Start(signalCtx); err != nil {
			return err
		}
		defer heartbeats.Stop()
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newPusher returns the FCM client when credentials are configured and the
// no-op pusher otherwise, so local development works without a Firebase
// project.
func newPusher(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (push.Pusher, error) {
	if appConfig.FCMCredentialsFile == "" {
		logger.Warn("no FCM credentials configured, push delivery disabled")
		return push.NopPusher{}, nil
	}
	return push.NewFCMPusher(ctx, push.FCMConfig{
		ProjectID:       appConfig.FCMProjectID,
		CredentialsFile: appConfig.FCMCredentialsFile,
		Logger:          logger,
	})
}
