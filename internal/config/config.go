package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// AppURL is the public origin of the web app. Checkout and portal
	// redirects, CORS and the auth callback all resolve against it.
	AppURL string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	LogLevel  string
	LogFormat string

	SentryDSN         string
	SentryEnvironment string

	StripeSecretKey     string
	StripeWebhookSecret string
	// StripeModeOverride forces "test" or "live". Empty means derive from the key prefix.
	StripeModeOverride string
	// PriceCatalogPath optionally replaces the embedded price catalog.
	PriceCatalogPath string

	SupabaseURL       string
	SupabaseAnonKey   string
	SupabaseJWTSecret string
	SupabaseJWKSURL   string

	AWSRegion        string
	S3Bucket         string
	S3PublicBaseURL  string
	ReplicateToken   string
	ReplicateBaseURL string
	ReplicateVersion string

	GenerationCreditCost   int
	GenerationPollInterval time.Duration
	GenerationMaxAttempts  int
}

const (
	defaultServerAddress    = ":18111"
	defaultAppURL           = "http://localhost:3000"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultReplicateBaseURL = "https://api.replicate.com/v1"
	defaultReplicateVersion = "703f38c44b9c2820b79b54f96ef5f6554240b3ec4035a0cf80ba04e1f87ae307"
	defaultCreditCost       = 2
	defaultPollInterval     = 2 * time.Second
	defaultMaxAttempts      = 60

	envServerAddress       = "BACKEND_ADDR"
	envPort                = "PORT"
	envAppURL              = "APP_URL"
	envPublicAppURL        = "NEXT_PUBLIC_APP_URL"
	envDatabaseURL         = "DATABASE_URL"
	envLogLevel            = "LOG_LEVEL"
	envLogFormat           = "LOG_FORMAT"
	envSentryDSN           = "SENTRY_DSN"
	envSentryEnvironment   = "SENTRY_ENVIRONMENT"
	envStripeSecretKey     = "STRIPE_SECRET_KEY"
	envStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	envStripeMode          = "STRIPE_MODE"
	envPriceCatalogPath    = "PRICE_CATALOG_PATH"
	envSupabaseURL         = "SUPABASE_URL"
	envPublicSupabaseURL   = "NEXT_PUBLIC_SUPABASE_URL"
	envSupabaseAnonKey     = "SUPABASE_ANON_KEY"
	envPublicSupabaseAnon  = "NEXT_PUBLIC_SUPABASE_ANON_KEY"
	envSupabaseJWTSecret   = "SUPABASE_JWT_SECRET"
	envSupabaseJWKSURL     = "SUPABASE_JWKS_URL"
	envAWSRegion           = "AWS_REGION"
	envS3Bucket            = "S3_BUCKET_NAME"
	envS3PublicBaseURL     = "S3_PUBLIC_BASE_URL"
	envReplicateToken      = "REPLICATE_API_TOKEN"
	envReplicateBaseURL    = "REPLICATE_BASE_URL"
	envReplicateVersion    = "REPLICATE_MODEL_VERSION"
	envCreditCost          = "GENERATION_CREDIT_COST"
	envPollInterval        = "GENERATION_POLL_INTERVAL"
	envMaxAttempts         = "GENERATION_MAX_ATTEMPTS"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:       firstNonEmpty(os.Getenv(envServerAddress), portAddress(os.Getenv(envPort)), defaultServerAddress),
		AppURL:              strings.TrimRight(firstNonEmpty(os.Getenv(envAppURL), os.Getenv(envPublicAppURL), defaultAppURL), "/"),
		DatabaseURL:         os.Getenv(envDatabaseURL),
		LogLevel:            firstNonEmpty(os.Getenv(envLogLevel), defaultLogLevel),
		LogFormat:           firstNonEmpty(os.Getenv(envLogFormat), defaultLogFormat),
		SentryDSN:           os.Getenv(envSentryDSN),
		SentryEnvironment:   os.Getenv(envSentryEnvironment),
		StripeSecretKey:     os.Getenv(envStripeSecretKey),
		StripeWebhookSecret: os.Getenv(envStripeWebhookSecret),
		StripeModeOverride:  strings.ToLower(strings.TrimSpace(os.Getenv(envStripeMode))),
		PriceCatalogPath:    os.Getenv(envPriceCatalogPath),
		SupabaseURL:         strings.TrimRight(firstNonEmpty(os.Getenv(envSupabaseURL), os.Getenv(envPublicSupabaseURL)), "/"),
		SupabaseAnonKey:     firstNonEmpty(os.Getenv(envSupabaseAnonKey), os.Getenv(envPublicSupabaseAnon)),
		SupabaseJWTSecret:   os.Getenv(envSupabaseJWTSecret),
		SupabaseJWKSURL:     os.Getenv(envSupabaseJWKSURL),
		AWSRegion:           os.Getenv(envAWSRegion),
		S3Bucket:            os.Getenv(envS3Bucket),
		S3PublicBaseURL:     strings.TrimRight(os.Getenv(envS3PublicBaseURL), "/"),
		ReplicateToken:      os.Getenv(envReplicateToken),
		ReplicateBaseURL:    strings.TrimRight(firstNonEmpty(os.Getenv(envReplicateBaseURL), defaultReplicateBaseURL), "/"),
		ReplicateVersion:    firstNonEmpty(os.Getenv(envReplicateVersion), defaultReplicateVersion),
	}

	var err error
	if cfg.GenerationCreditCost, err = intFromEnv(envCreditCost, defaultCreditCost); err != nil {
		return Config{}, err
	}
	if cfg.GenerationMaxAttempts, err = intFromEnv(envMaxAttempts, defaultMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.GenerationPollInterval, err = durationFromEnv(envPollInterval, defaultPollInterval); err != nil {
		return Config{}, err
	}

	required := []struct {
		name  string
		value string
	}{
		{envDatabaseURL, cfg.DatabaseURL},
		{envStripeSecretKey, cfg.StripeSecretKey},
		{envStripeWebhookSecret, cfg.StripeWebhookSecret},
		{envSupabaseURL, cfg.SupabaseURL},
		{envSupabaseAnonKey, cfg.SupabaseAnonKey},
		{envAWSRegion, cfg.AWSRegion},
		{envS3Bucket, cfg.S3Bucket},
		{envReplicateToken, cfg.ReplicateToken},
	}
	for _, r := range required {
		if r.value == "" {
			return Config{}, fmt.Errorf("%s is required", r.name)
		}
	}

	switch cfg.StripeModeOverride {
	case "", "test", "live":
	default:
		return Config{}, fmt.Errorf("invalid %s %q: want test or live", envStripeMode, cfg.StripeModeOverride)
	}

	return cfg, nil
}

// LoadDatabase reads only the settings needed to reach Postgres. It backs the
// dbtool command, which must work before the remaining services are configured.
func LoadDatabase() (Config, error) {
	cfg := Config{
		DatabaseURL: os.Getenv(envDatabaseURL),
		LogLevel:    firstNonEmpty(os.Getenv(envLogLevel), defaultLogLevel),
		LogFormat:   firstNonEmpty(os.Getenv(envLogFormat), "console"),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}
	return cfg, nil
}

// StripeMode reports which price set is active: "live" for live keys, "test" otherwise.
func (c Config) StripeMode() string {
	if c.StripeModeOverride != "" {
		return c.StripeModeOverride
	}
	if strings.HasPrefix(c.StripeSecretKey, "sk_live_") || strings.HasPrefix(c.StripeSecretKey, "rk_live_") {
		return "live"
	}
	return "test"
}

// shutdownMargin covers the upload and bookkeeping after the last poll.
const shutdownMargin = 30 * time.Second

// ShutdownGrace is how long a stopping server waits for in-flight requests:
// one full generation poll budget plus shutdownMargin.
func (c Config) ShutdownGrace() time.Duration {
	return c.GenerationPollInterval*time.Duration(c.GenerationMaxAttempts) + shutdownMargin
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func portAddress(port string) string {
	if port == "" {
		return ""
	}
	return ":" + port
}

func intFromEnv(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", name, raw)
	}
	return v, nil
}

func durationFromEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration", name, raw)
	}
	return v, nil
}
