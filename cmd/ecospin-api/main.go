package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VerdantLoopLab/ecospin/backend/internal/auth"
	"github.com/VerdantLoopLab/ecospin/backend/internal/challenges"
	"github.com/VerdantLoopLab/ecospin/backend/internal/config"
	"github.com/VerdantLoopLab/ecospin/backend/internal/database"
	"github.com/VerdantLoopLab/ecospin/backend/internal/goals"
	"github.com/VerdantLoopLab/ecospin/backend/internal/logging"
	"github.com/VerdantLoopLab/ecospin/backend/internal/notifications"
	"github.com/VerdantLoopLab/ecospin/backend/internal/server"
	"github.com/VerdantLoopLab/ecospin/backend/internal/users"
	"github.com/VerdantLoopLab/ecospin/backend/internal/wheel"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ecospin-api",
		Short: "EcoSpin engagement backend service",
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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("media-dir", defaults.GetString("media.dir"), "Local directory for proof media")
	cmd.PersistentFlags().String("media-bucket", defaults.GetString("media.bucket"), "S3 bucket for proof media (disables media-dir)")
	cmd.PersistentFlags().Int("retention-days", defaults.GetInt("notifications.retention_days"), "Days read notifications are kept")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "media.dir", "media-dir")
	bindFlag(cmd, "media.bucket", "media-bucket")
	bindFlag(cmd, "notifications.retention_days", "retention-days")
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

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "ecospin-auth",
		Audience:      "ecospin-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	hub := notifications.NewHub(notificationService, logger)
	notificationService.AttachPublisher(hub)

	sweeper, err := notifications.NewSweeper(notificationService, appConfig.RetentionDays, logger)
	if err != nil {
		return err
	}
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop() //nolint:errcheck

	wheelService, err := wheel.NewService(wheel.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: wheel.NewUUIDProvider(),
		Catalog:    goals.NewCatalog(),
		Users:      userService,
		Notifier:   notificationService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if err := wheelService.SeedContent(ctx); err != nil {
		return err
	}

	media, err := buildMediaStore(ctx, appConfig)
	if err != nil {
		return err
	}

	proofService, err := challenges.NewService(challenges.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Gate:     wheelService,
		Scorer:   userService,
		Notifier: notificationService,
		Media:    media,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		Users:         userService,
		Wheel:         wheelService,
		Proofs:        proofService,
		Notifications: notificationService,
		Hub:           hub,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

func buildMediaStore(ctx context.Context, appConfig config.AppConfig) (challenges.MediaStore, error) {
	if appConfig.MediaBucket != "" {
		return challenges.NewS3Store(ctx, challenges.S3StoreConfig{
			Bucket:    appConfig.MediaBucket,
			Endpoint:  appConfig.MediaEndpoint,
			BaseURL:   appConfig.MediaBaseURL,
			AccessKey: appConfig.MediaAccessKey,
			SecretKey: appConfig.MediaSecretKey,
		})
	}
	return challenges.NewDirStore(appConfig.MediaDir)
}
