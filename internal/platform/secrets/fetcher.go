// Package secrets resolves secret:// references through Google Secret Manager, with a local file
// fallback for development.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// probeSecret is read by Ping. It need not exist: NotFound still proves the API answered.
const probeSecret = "system/healthz"

var openClient = func(ctx context.Context, opts ...option.ClientOption) (accessor, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Config selects the Secret Manager project and the local fallback.
type Config struct {
	// Environment picks an entry from Projects, e.g. "prod".
	Environment    string
	Projects       map[string]string
	DefaultProject string
	// FallbackFile holds "secret://name=value" lines used when Secret Manager is unreachable or
	// denies access. Empty disables it.
	FallbackFile    string
	CredentialsFile string
}

// ConfigFromEnv reads the API_SECRET_* variables. API_SECRET_PROJECT_IDS is a comma separated list
// of env=project pairs.
func ConfigFromEnv(env map[string]string) Config {
	get := func(key string) string { return strings.TrimSpace(env[key]) }
	cfg := Config{
		Environment:     strings.ToLower(get("API_SECURITY_ENVIRONMENT")),
		DefaultProject:  get("API_SECRET_DEFAULT_PROJECT_ID"),
		FallbackFile:    get("API_SECRET_FALLBACK_FILE"),
		CredentialsFile: get("API_FIREBASE_CREDENTIALS_FILE"),
		Projects:        map[string]string{},
	}
	if cfg.Environment == "" {
		cfg.Environment = "local"
	}
	if cfg.DefaultProject == "" {
		cfg.DefaultProject = get("API_FIREBASE_PROJECT_ID")
	}
	if cfg.FallbackFile == "" {
		cfg.FallbackFile = ".secrets.local"
	}
	for _, pair := range strings.Split(get("API_SECRET_PROJECT_IDS"), ",") {
		label, project, ok := strings.Cut(pair, "=")
		label, project = strings.ToLower(strings.TrimSpace(label)), strings.TrimSpace(project)
		if ok && label != "" && project != "" {
			cfg.Projects[label] = project
		}
	}
	return cfg
}

func (c Config) project(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if p := c.Projects[c.Environment]; p != "" {
		return p
	}
	return c.DefaultProject
}

// Fetcher resolves secret references and caches every value it returns for the life of the
// process.
type Fetcher struct {
	cfg    Config
	client accessor
	owned  bool
	logger *zap.Logger

	fallbackOnce sync.Once
	fallback     map[string]string

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]string

	latency metric.Float64Histogram
}

type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithClient injects a Secret Manager client. The Fetcher will not close it.
func WithClient(client accessor) Option {
	return func(f *Fetcher) { f.client = client }
}

// NewFetcher builds a Fetcher. When no Secret Manager client can be opened the Fetcher serves the
// fallback file only.
func NewFetcher(ctx context.Context, cfg Config, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{cfg: cfg, logger: zap.NewNop(), cache: map[string]string{}}
	for _, opt := range opts {
		opt(f)
	}

	meter := otel.GetMeterProvider().Meter("github.com/hanko-field/storefront/internal/platform/secrets")
	latency, err := meter.Float64Histogram("secrets.resolve.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent resolving a secret reference, by source"))
	if err != nil {
		return nil, fmt.Errorf("secrets: register histogram: %w", err)
	}
	f.latency = latency

	if f.client == nil {
		var clientOpts []option.ClientOption
		if cfg.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		client, err := openClient(ctx, clientOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable; serving fallback file only", zap.Error(err))
		} else {
			f.client, f.owned = client, true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client if the Fetcher opened it.
func (f *Fetcher) Close() error {
	if f == nil || !f.owned {
		return nil
	}
	return f.client.Close()
}

// Resolve returns the value behind ref ("secret://name?version=3&project=p"). Outages and
// permission errors fall back to the local file; any other error is returned. Concurrent calls for
// the same reference share one lookup.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := parsed.key()

	f.mu.RLock()
	value, hit := f.cache[key]
	f.mu.RUnlock()
	if hit {
		f.record(ctx, start, "cache")
		return value, nil
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		value, source, err := f.load(ctx, parsed)
		f.record(ctx, start, source)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.cache[key] = value
		f.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *Fetcher) load(ctx context.Context, ref reference) (string, string, error) {
	value, err := f.access(ctx, ref)
	if err == nil {
		return value, "remote", nil
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
	default:
		return "", "error", fmt.Errorf("secrets: fetch %s: %w", ref.name, err)
	}

	f.logger.Debug("secret served from fallback file", zap.String("secret", ref.name), zap.Error(err))
	if value, ok := f.fallbackValue(ref); ok {
		return value, "fallback", nil
	}
	return "", "error", fmt.Errorf("secrets: %s unavailable and absent from fallback file: %w", ref.name, err)
}

func (f *Fetcher) access(ctx context.Context, ref reference) (string, error) {
	project := f.cfg.project(ref)
	if f.client == nil || project == "" {
		return "", status.Error(codes.Unavailable, "secret manager not configured")
	}
	name := "projects/" + project + "/secrets/" + ref.name + "/versions/" + ref.version
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

// ErrNotConfigured is returned by Ping when there is no client or project to probe.
var ErrNotConfigured = errors.New("secrets: secret manager not configured")

// Ping checks that Secret Manager answers. It bypasses the cache and the fallback file.
func (f *Fetcher) Ping(ctx context.Context) error {
	ref := reference{name: probeSecret, version: "latest"}
	if f.client == nil || f.cfg.project(ref) == "" {
		return ErrNotConfigured
	}
	_, err := f.access(ctx, ref)
	if err == nil || status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (f *Fetcher) fallbackValue(ref reference) (string, bool) {
	f.fallbackOnce.Do(func() {
		values, err := readFallbackFile(f.cfg.FallbackFile)
		if err != nil {
			f.logger.Warn("fallback secrets file unreadable", zap.String("path", f.cfg.FallbackFile), zap.Error(err))
		}
		f.fallback = values
	})
	if value, ok := f.fallback[ref.key()]; ok {
		return value, true
	}
	value, ok := f.fallback[ref.name]
	return value, ok
}

func (f *Fetcher) record(ctx context.Context, start time.Time, source string) {
	ms := float64(time.Since(start).Microseconds()) / 1000
	f.latency.Record(ctx, ms, metric.WithAttributes(attribute.String("source", source)))
}
