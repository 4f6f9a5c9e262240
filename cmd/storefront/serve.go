package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"storefront/api/db"
	"storefront/api/internal/app"
	"storefront/api/internal/cache"
	"storefront/api/internal/config"
	"storefront/api/internal/email"
	"storefront/api/internal/export"
	"storefront/api/internal/i18n"
	"storefront/api/internal/integrations"
	"storefront/api/internal/media"
	"storefront/api/internal/payments"
	"storefront/api/internal/realtime"
	"storefront/api/internal/revisions"
	"storefront/api/internal/search"
	"storefront/api/internal/session"
	"storefront/api/internal/store"
)

func runServe(parent context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(log.WithContext(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := openDatabase(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		return err
	}
	defer conn.Close()

	if err := store.ApplyMigrations(ctx, conn, store.MigrationSource(cfg.MigrationsDir, db.Migrations)); err != nil {
		log.Error().Err(err).Msg("migrations failed")
		return err
	}

	dataStore := store.NewPostgresStore(conn)
	messages, err := i18n.New()
	if err != nil {
		log.Error().Err(err).Msg("load translations")
		return err
	}

	deps := app.Deps{
		Store:     dataStore,
		Revisions: revisions.New(cfg.RevisionsDir),
		Exporter:  export.NewService(messages),
		Messages:  messages,
		Log:       log,
	}

	searchService, closeSearch := newSearch(cfg, conn, log)
	defer closeSearch()
	deps.Search = searchService
	go func() {
		if err := searchService.ReindexAll(ctx); err != nil {
			log.Warn().Err(err).Msg("boot reindex failed")
		}
	}()

	// Redis is optional: without it sessions live in Postgres, realtime stays
	// in-process and third-party responses are not cached.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := session.Dial(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using postgres sessions and local realtime")
		} else {
			redisClient = client
			defer redisClient.Close()
			log.Info().Msg("using redis for sessions, cache and realtime")
			deps.Sessions = session.NewRedisStoreWithClient(redisClient)
			deps.Broker = realtime.NewRedisBroker(redisClient, log.With().Str("component", "realtime").Logger())
			deps.RedisPing = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		}
	}
	if deps.Broker == nil {
		deps.Broker = realtime.NewLocalBroker()
	}
	typing := realtime.NewTypingTracker(deps.Broker, realtime.TypingTimeout, log)
	defer typing.Stop()
	deps.Typing = typing

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, messages)
	if mailer.IsConfigured() {
		deps.Mailer = mailer
	} else {
		log.Warn().Msg("smtp not configured, verification tokens are returned in responses")
	}

	if cfg.S3Configured() {
		objects, err := media.NewMinioStore(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, cfg.S3.UseSSL)
		if err != nil {
			log.Error().Err(err).Msg("media storage setup failed")
			return err
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			log.Warn().Err(err).Str("bucket", cfg.S3.Bucket).Msg("media bucket check failed")
		}
		deps.Media = media.NewService(objects)
	}

	if cfg.StripeConfigured() {
		provider := payments.NewStripeProvider(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, nil)
		deps.Payments = payments.NewService(provider, dataStore, payments.URLs{
			Success: cfg.Stripe.SuccessURL,
			Cancel:  cfg.Stripe.CancelURL,
			Portal:  cfg.Stripe.PortalReturn,
		}, log.With().Str("component", "payments").Logger())
	}

	deps.Integrations = integrations.NewService(cfg, dataStore, cache.New(redisClient, "cache:"), log.With().Str("component", "integrations").Logger())

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

// newSearch builds search over Postgres full-text, with Meilisearch in front
// when a URL is configured.
func newSearch(cfg config.Config, conn *sql.DB, log zerolog.Logger) (*search.Service, func()) {
	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
	}
	closeFn := func() {}
	if meili != nil {
		closeFn = meili.Close
	}
	return search.NewService(meili, search.NewPgFTS(conn), log), closeFn
}
