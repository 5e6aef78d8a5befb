package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/gurukul/internal/access"
	"github.com/MarcoPoloResearchLab/gurukul/internal/auth"
	"github.com/MarcoPoloResearchLab/gurukul/internal/config"
	"github.com/MarcoPoloResearchLab/gurukul/internal/courses"
	"github.com/MarcoPoloResearchLab/gurukul/internal/database"
	"github.com/MarcoPoloResearchLab/gurukul/internal/logging"
	"github.com/MarcoPoloResearchLab/gurukul/internal/media"
	"github.com/MarcoPoloResearchLab/gurukul/internal/metrics"
	"github.com/MarcoPoloResearchLab/gurukul/internal/server"
	"github.com/MarcoPoloResearchLab/gurukul/internal/users"
	"github.com/MarcoPoloResearchLab/gurukul/internal/webhooks"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gurukul-api",
		Short: "Gurukul learning platform backend service",
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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL connection string (overrides env)")
	cmd.PersistentFlags().String("webhook-signing-secret", "", "Identity webhook signing secret (overrides env)")
	cmd.PersistentFlags().String("session-jwks-url", defaults.GetString("session.jwks_url"), "Identity provider JWKS URL")
	cmd.PersistentFlags().String("session-issuer", defaults.GetString("session.issuer"), "Expected session token issuer")
	cmd.PersistentFlags().String("media-bucket", defaults.GetString("media.bucket"), "Object storage bucket for uploads")
	cmd.PersistentFlags().String("media-endpoint", defaults.GetString("media.endpoint"), "S3-compatible endpoint override")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "webhook.signing_secret", "webhook-signing-secret")
	bindFlag(cmd, "session.jwks_url", "session-jwks-url")
	bindFlag(cmd, "session.issuer", "session-issuer")
	bindFlag(cmd, "media.bucket", "media-bucket")
	bindFlag(cmd, "media.endpoint", "media-endpoint")
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
		if cfgFile != "" || !errors.As(err, &configNotFound) {
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

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.New()

	identities, err := users.NewStore(users.StoreConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}

	gate := access.NewGate(access.GateConfig{
		Identities: identities,
		Logger:     logger,
		Metrics:    appMetrics,
	})

	callers, err := newCallerResolver(appConfig, logger)
	if err != nil {
		return err
	}

	courseService, err := courses.NewService(courses.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: courses.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	verifier, err := webhooks.NewSignatureVerifier(webhooks.SignatureVerifierConfig{
		SigningSecret: appConfig.WebhookSigningSecret,
		Tolerance:     appConfig.WebhookTolerance,
	})
	if err != nil {
		return err
	}

	reconcilerConfig := webhooks.ReconcilerConfig{
		Verifier: verifier,
		Store:    identities,
		Logger:   logger,
		Metrics:  appMetrics,
	}
	dependencies := server.Dependencies{
		Identities:     identities,
		Gate:           gate,
		Callers:        callers,
		Courses:        courseService,
		Metrics:        appMetrics,
		AllowedOrigins: appConfig.CORSAllowedOrigins,
		Logger:         logger,
	}

	if appConfig.MediaEnabled() {
		mediaService, purger, err := newMediaComponents(signalCtx, appConfig, logger, appMetrics)
		if err != nil {
			return err
		}
		defer purger.Close()
		go purger.Run(signalCtx)
		dependencies.Media = mediaService
		reconcilerConfig.Listener = purger
	} else {
		logger.Info("media storage disabled; media routes not mounted")
	}

	reconciler, err := webhooks.NewReconciler(reconcilerConfig)
	if err != nil {
		return err
	}
	dependencies.Reconciler = reconciler

	handler, err := server.NewHTTPHandler(dependencies)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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

func newCallerResolver(appConfig config.AppConfig, logger *zap.Logger) (auth.CallerResolver, error) {
	if appConfig.UsesJWKS() {
		return auth.NewJWKSVerifier(auth.JWKSVerifierConfig{
			JWKSURL:        appConfig.SessionJWKSURL,
			AllowedIssuers: appConfig.SessionAllowedIssuers,
			CookieName:     appConfig.SessionCookieName,
			HTTPClient:     &http.Client{Timeout: 10 * time.Second},
			Logger:         logger,
		})
	}
	return auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
}

func newMediaComponents(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger, appMetrics *metrics.Metrics) (*media.Service, *media.Purger, error) {
	client, err := media.NewS3Client(ctx, media.S3Config{
		Bucket:    appConfig.MediaBucket,
		Region:    appConfig.MediaRegion,
		Endpoint:  appConfig.MediaEndpoint,
		AccessKey: appConfig.MediaAccessKey,
		SecretKey: appConfig.MediaSecretKey,
		PathStyle: appConfig.MediaPathStyle,
	})
	if err != nil {
		return nil, nil, err
	}
	store, err := media.NewS3Store(client, appConfig.MediaBucket)
	if err != nil {
		return nil, nil, err
	}
	service, err := media.NewService(media.ServiceConfig{
		Store:   store,
		Prefix:  appConfig.MediaPrefix,
		Logger:  logger,
		Metrics: appMetrics,
	})
	if err != nil {
		return nil, nil, err
	}
	purger, err := media.NewPurger(media.PurgerConfig{
		Service: service,
		Logger:  logger,
		Metrics: appMetrics,
	})
	if err != nil {
		return nil, nil, err
	}
	return service, purger, nil
}
