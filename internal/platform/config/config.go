// Package config loads the storefront runtime configuration from API_* environment variables.
//
// Every field carries an env tag naming its variable and an optional default. Fields tagged
// secret may hold a secret:// (or sm://) reference that Load resolves through a SecretResolver.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Datastore drivers.
const (
	DriverFirestore = "firestore"
	DriverPostgres  = "postgres"
	DriverMemory    = "memory"
)

const minSessionKeyLength = 32

type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Datastore   DatastoreConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	Storage     StorageConfig
	Session     SessionConfig
	Events      EventsConfig
	Catalog     CatalogConfig
	CORS        CORSConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	RateLimit   RateLimitConfig
}

type ServerConfig struct {
	Port            string        `env:"API_SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `env:"API_SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"API_SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `env:"API_SERVER_IDLE_TIMEOUT" default:"2m"`
	ShutdownTimeout time.Duration `env:"API_SERVER_SHUTDOWN_TIMEOUT" default:"20s"`
}

type FirebaseConfig struct {
	ProjectID       string `env:"API_FIREBASE_PROJECT_ID"`
	CredentialsFile string `env:"API_FIREBASE_CREDENTIALS_FILE"`
}

// DatastoreConfig selects which backend holds carts, favorites and profiles.
type DatastoreConfig struct {
	Driver string `env:"API_DATASTORE_DRIVER,lower" default:"firestore"`
}

// FirestoreConfig defaults ProjectID to the Firebase project.
type FirestoreConfig struct {
	ProjectID    string `env:"API_FIRESTORE_PROJECT_ID"`
	EmulatorHost string `env:"API_FIRESTORE_EMULATOR_HOST"`
}

type PostgresConfig struct {
	DSN             string        `env:"API_POSTGRES_DSN" secret:"true"`
	MaxOpenConns    int           `env:"API_POSTGRES_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `env:"API_POSTGRES_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `env:"API_POSTGRES_CONN_MAX_LIFETIME" default:"30m"`
	AutoMigrate     bool          `env:"API_POSTGRES_AUTO_MIGRATE"`
}

// StorageConfig names the product image bucket. SignerEmail and SignerKey enable V4 signed URLs;
// PublicBaseURL serves a public bucket without signing.
type StorageConfig struct {
	ImagesBucket  string        `env:"API_STORAGE_IMAGES_BUCKET"`
	SignerEmail   string        `env:"API_STORAGE_SIGNER_EMAIL"`
	SignerKey     string        `env:"API_STORAGE_SIGNER_KEY" secret:"true"`
	SignedURLTTL  time.Duration `env:"API_STORAGE_SIGNED_URL_TTL" default:"15m"`
	PublicBaseURL string        `env:"API_STORAGE_PUBLIC_BASE_URL"`
}

// SessionConfig controls the guest session cookie.
type SessionConfig struct {
	SigningKey string        `env:"API_SESSION_SIGNING_KEY" secret:"true"`
	CookieName string        `env:"API_SESSION_COOKIE_NAME" default:"sf_guest"`
	TTL        time.Duration `env:"API_SESSION_TTL" default:"720h"`
	Secure     bool          `env:"API_SESSION_SECURE" default:"true"`

	// Guest state untouched for longer than TTL is unreachable by any valid cookie and is purged.
	CleanupInterval  time.Duration `env:"API_SESSION_CLEANUP_INTERVAL" default:"1h"`
	CleanupBatchSize int           `env:"API_SESSION_CLEANUP_BATCH_SIZE" default:"200"`
}

// EventsConfig configures session transition publishing. ProjectID defaults to the Firestore
// project.
type EventsConfig struct {
	Enabled         bool   `env:"API_EVENTS_ENABLED"`
	ProjectID       string `env:"API_EVENTS_PROJECT_ID"`
	TransitionTopic string `env:"API_EVENTS_TRANSITION_TOPIC" default:"storefront-session-transitions"`
}

type CatalogConfig struct {
	PageSize      int    `env:"API_CATALOG_PAGE_SIZE" default:"32"`
	DefaultLocale string `env:"API_CATALOG_DEFAULT_LOCALE" default:"fr"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"API_CORS_ALLOWED_ORIGINS"`
}

type IdempotencyConfig struct {
	Header           string        `env:"API_IDEMPOTENCY_HEADER" default:"Idempotency-Key"`
	TTL              time.Duration `env:"API_IDEMPOTENCY_TTL" default:"24h"`
	CleanupInterval  time.Duration `env:"API_IDEMPOTENCY_CLEANUP_INTERVAL" default:"15m"`
	CleanupBatchSize int           `env:"API_IDEMPOTENCY_CLEANUP_BATCH_SIZE" default:"200"`
}

// RateLimitConfig caps abuse-prone endpoints per client IP.
type RateLimitConfig struct {
	SignUpPerMinute int `env:"API_RATELIMIT_SIGNUP_PER_MINUTE" default:"5"`
}

type SecurityConfig struct {
	Environment string `env:"API_SECURITY_ENVIRONMENT,lower" default:"local"`
}

// IsLocal reports whether the service runs in a developer environment.
func (c Config) IsLocal() bool {
	switch c.Security.Environment {
	case "", "local", "dev", "development", "test":
		return true
	}
	return false
}

// SecretResolver resolves secret references such as "secret://session/key".
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists the config fields that are missing or malformed.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config validation failed: missing or invalid fields [" + strings.Join(e.fields, ", ") + "]"
}

func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

type Option func(*loaderOptions)

type loaderOptions struct {
	sources         sourceOptions
	resolver        SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.sources.envFile = path }
}

// WithEnvMap injects values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.sources.overrides = values }
}

// WithoutSystemEnv stops Load from reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.sources.skipProcess = true }
}

func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.resolver = resolver }
}

// WithRequiredSecrets names secret fields, such as "Session.SigningKey", that must resolve to a
// non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{sources: sourceOptions{envFile: ".env"}}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Load reads defaults, the .env file, the process environment and WithEnvMap overrides, in
// increasing order of precedence, then resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	src, err := openSources(options.sources)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	secretFields, malformed := decode(src, &cfg)

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}

	resolved := make(map[string]string, len(secretFields))
	for _, field := range secretFields {
		value, err := resolveSecret(ctx, *field.value, options.resolver)
		if err != nil {
			return Config{}, err
		}
		*field.value = value
		resolved[field.path] = strings.TrimSpace(value)
	}

	if invalid := append(malformed, validate(cfg)...); len(invalid) > 0 {
		return Config{}, &ValidationError{fields: invalid}
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func validate(cfg Config) []string {
	var invalid []string
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	switch cfg.Datastore.Driver {
	case DriverFirestore:
		check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	case DriverPostgres:
		check(strings.TrimSpace(cfg.Postgres.DSN) != "", "Postgres.DSN")
	case DriverMemory:
		check(cfg.IsLocal(), "Datastore.Driver")
	default:
		check(false, "Datastore.Driver")
	}
	check(len(cfg.Session.SigningKey) >= minSessionKeyLength, "Session.SigningKey")
	check(strings.TrimSpace(cfg.Session.CookieName) != "", "Session.CookieName")
	check(cfg.Session.TTL > 0, "Session.TTL")
	check(!cfg.Events.Enabled || strings.TrimSpace(cfg.Events.TransitionTopic) != "", "Events.TransitionTopic")
	check(cfg.Catalog.PageSize > 0, "Catalog.PageSize")
	check(cfg.Storage.SignedURLTTL > 0, "Storage.SignedURLTTL")
	check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	return invalid
}

// String summarises the non-secret settings for startup logs.
func (c Config) String() string {
	return fmt.Sprintf("env=%s datastore=%s port=%s events=%t", c.Security.Environment, c.Datastore.Driver, c.Server.Port, c.Events.Enabled)
}
