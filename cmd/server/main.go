package main

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/jimclydegm/logotoanythingapp/internal/auth"
	"github.com/jimclydegm/logotoanythingapp/internal/billing"
	"github.com/jimclydegm/logotoanythingapp/internal/config"
	"github.com/jimclydegm/logotoanythingapp/internal/generation"
	"github.com/jimclydegm/logotoanythingapp/internal/httpserver"
	"github.com/jimclydegm/logotoanythingapp/internal/logging"
	"github.com/jimclydegm/logotoanythingapp/internal/migrations"
	"github.com/jimclydegm/logotoanythingapp/internal/realtime"
	"github.com/jimclydegm/logotoanythingapp/internal/replicate"
	"github.com/jimclydegm/logotoanythingapp/internal/storage"
	"github.com/jimclydegm/logotoanythingapp/internal/store"
	"github.com/jimclydegm/logotoanythingapp/internal/stripe"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		// No logger yet.
		_, _ = os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			EnableTracing:    true,
			TracesSampleRate: 0.1,
		}); err != nil {
			log.Warn("sentry init failed", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	logDBTarget(log, "primary", cfg.DatabaseURL)
	configureDB(db)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}

	if err := runMigrationsWithDirtyFix(db, log); err != nil {
		return err
	}

	st, err := store.New(db)
	if err != nil {
		return err
	}

	stripeClient := stripe.NewClient(stripe.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
	})
	catalog, err := billing.LoadCatalog(cfg.PriceCatalogPath, cfg.StripeMode())
	if err != nil {
		return err
	}
	billingSvc := billing.NewService(log.Named("billing"), st, stripeClient, catalog, cfg.AppURL)

	verifier, err := auth.NewVerifier(ctx, auth.VerifierConfig{
		SupabaseURL: cfg.SupabaseURL,
		Secret:      cfg.SupabaseJWTSecret,
		JWKSURL:     cfg.SupabaseJWKSURL,
	})
	if err != nil {
		return err
	}
	authenticator := auth.NewAuthenticator(verifier, log.Named("auth"))
	sessions := auth.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)

	bucket, err := storage.Open(ctx, storage.Config{
		Region:        cfg.AWSRegion,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
	})
	if err != nil {
		return err
	}

	predictor, err := replicate.NewClient(replicate.Config{
		Token:   cfg.ReplicateToken,
		Version: cfg.ReplicateVersion,
		BaseURL: cfg.ReplicateBaseURL,
	})
	if err != nil {
		return err
	}
	pipeline := generation.NewPipeline(log.Named("generation"), st, predictor, bucket, generation.Config{
		CreditCost:   cfg.GenerationCreditCost,
		PollInterval: cfg.GenerationPollInterval,
		MaxAttempts:  cfg.GenerationMaxAttempts,
	})

	hub := realtime.NewHub(log.Named("realtime"))
	go func() {
		if err := hub.Listen(ctx, cfg.DatabaseURL); err != nil {
			log.Error("profile change listener stopped", zap.Error(err))
		}
	}()

	srv := httpserver.New(cfg, httpserver.Deps{
		Log:       log.Named("http"),
		DB:        st,
		Auth:      authenticator,
		Sessions:  sessions,
		Profiles:  st,
		Accounts:  st,
		Billing:   billingSvc,
		Webhooks:  stripeClient,
		Events:    billingSvc,
		Objects:   bucket,
		Generator: pipeline,
		Realtime:  hub,
	})

	log.Info("backend starting",
		zap.String("addr", cfg.ServerAddress),
		zap.String("stripe_mode", catalog.Mode()),
	)
	// Run returns once in-flight generations have drained, so the deferred
	// db.Close cannot cut their ledger writes.
	if err := srv.Run(ctx, cfg.ShutdownGrace()); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("graceful shutdown timed out", zap.Duration("grace", cfg.ShutdownGrace()))
			return nil
		}
		return err
	}
	return nil
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, log *zap.Logger) error {
	err := migrations.Up(db, log)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "Dirty database version") {
		return err
	}

	log.Warn("dirty database detected, attempting to fix", zap.Error(err))
	if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
		log.Error("failed to fix dirty database", zap.Error(fixErr))
		return err
	}
	return migrations.Up(db, log)
}

func logDBTarget(log *zap.Logger, name, dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		log.Info("database configured", zap.String("name", name), zap.NamedError("dsn_parse_error", err))
		return
	}
	log.Info("database configured",
		zap.String("name", name),
		zap.String("host", u.Hostname()),
		zap.String("db", strings.TrimPrefix(u.Path, "/")),
	)
}
