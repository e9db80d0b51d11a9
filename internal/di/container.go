package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/catalog"
	"github.com/hanko-field/storefront/internal/handlers"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/events"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/platform/idempotency"
	"github.com/hanko-field/storefront/internal/platform/observability"
	ppostgres "github.com/hanko-field/storefront/internal/platform/postgres"
	"github.com/hanko-field/storefront/internal/platform/session"
	platformstorage "github.com/hanko-field/storefront/internal/platform/storage"
	"github.com/hanko-field/storefront/internal/repositories"
	firestoreRepo "github.com/hanko-field/storefront/internal/repositories/firestore"
	memoryRepo "github.com/hanko-field/storefront/internal/repositories/memory"
	postgresRepo "github.com/hanko-field/storefront/internal/repositories/postgres"
	"github.com/hanko-field/storefront/internal/services"
)

// readinessCacheWindow lets load balancer probes share one dependency sweep.
const readinessCacheWindow = 2 * time.Second

// IdentityBackend verifies ID tokens and manages shopper accounts. *auth.FirebaseClient satisfies it.
type IdentityBackend interface {
	auth.TokenVerifier
	auth.UserGetter
	services.IdentityProvider
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Carts    services.CartManager
	Catalog  services.CatalogService
	Accounts services.AccountService
	System   services.SystemService
}

// Container wires repositories, platform clients and services for runtime use.
type Container struct {
	Config        config.Config
	Logger        *zap.Logger
	Repositories  repositories.Registry
	Sessions      *session.Manager
	Authenticator *auth.Authenticator
	Idempotency   idempotency.Store
	Services      Services

	build   services.BuildInfo
	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	logger   *zap.Logger
	registry repositories.Registry
	identity IdentityBackend
	build    services.BuildInfo
	checks   []repositories.DependencyCheck
}

// WithLogger sets the base logger instead of building the production one.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithRegistry supplies a prebuilt repository registry and skips opening the configured datastore.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) {
		o.registry = reg
	}
}

// WithIdentityBackend replaces the Firebase Admin client.
func WithIdentityBackend(identity IdentityBackend) Option {
	return func(o *containerOptions) {
		o.identity = identity
	}
}

// WithBuildInfo sets the metadata reported by the health endpoints.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = info
	}
}

// WithDependencyChecks adds readiness probes. Checks marked Optional only degrade /readyz.
func WithDependencyChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *containerOptions) {
		o.checks = append(o.checks, checks...)
	}
}

// NewContainer constructs the runtime dependencies. On error every client opened so far is closed.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (c *Container, err error) {
	var options containerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c = &Container{Config: cfg, build: options.build}
	if c.build.StartedAt.IsZero() {
		c.build.StartedAt = time.Now().UTC()
	}
	if c.build.Environment == "" {
		c.build.Environment = cfg.Security.Environment
	}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
			c = nil
		}
	}()

	c.Logger = options.logger
	if c.Logger == nil {
		if c.Logger, err = observability.NewLogger(); err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}

	var (
		publisher services.TransitionPublisher
		checks    []repositories.DependencyCheck
	)
	if cfg.Events.Enabled {
		topicPublisher, topic, err := c.openTransitionTopic(ctx, cfg.Events)
		if err != nil {
			return nil, err
		}
		publisher = topicPublisher
		checks = append(checks, events.TopicCheck(topic))
	}
	checks = append(checks, options.checks...)

	if err := c.openDatastore(ctx, options.registry, checks); err != nil {
		return nil, err
	}

	sessionOpts := []session.Option{
		session.WithCookieName(cfg.Session.CookieName),
		session.WithTTL(cfg.Session.TTL),
		session.WithSecure(cfg.Session.Secure),
	}
	if sweeper, ok := c.Repositories.GuestStorage().(repositories.GuestStorageSweeper); ok {
		sessionLogger := c.Logger.Named("guest_sessions")
		sessionOpts = append(sessionOpts, session.WithReissueHook(func(ctx context.Context, id string) {
			if err := sweeper.Touch(ctx, id); err != nil {
				sessionLogger.Warn("guest session touch failed", zap.Error(err))
			}
		}))
	}
	if c.Sessions, err = session.NewManager(cfg.Session.SigningKey, sessionOpts...); err != nil {
		return nil, fmt.Errorf("build session manager: %w", err)
	}

	identity := options.identity
	if identity == nil {
		client, err := auth.NewFirebaseClient(ctx, cfg.Firebase)
		if err != nil {
			return nil, fmt.Errorf("build firebase client: %w", err)
		}
		identity = client
	}
	c.Authenticator = auth.NewAuthenticator(identity, auth.WithUserGetter(identity))

	images, err := newImageSigner(cfg.Storage)
	if err != nil {
		return nil, err
	}

	if c.Services, err = c.buildServices(identity, publisher, images); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) openTransitionTopic(ctx context.Context, cfg config.EventsConfig) (*events.PubSubTransitionPublisher, *pubsub.Topic, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("build pubsub client: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })

	topic := client.Topic(strings.TrimSpace(cfg.TransitionTopic))
	publisher, err := events.NewPubSubTransitionPublisher(topic)
	if err != nil {
		return nil, nil, err
	}
	c.closers = append(c.closers, func(context.Context) error {
		publisher.Close()
		return nil
	})
	return publisher, topic, nil
}

// openDatastore selects the repository registry and the matching idempotency store.
func (c *Container) openDatastore(ctx context.Context, reg repositories.Registry, checks []repositories.DependencyCheck) error {
	cfg := c.Config
	if reg != nil {
		c.Repositories = reg
		c.Idempotency = idempotency.NewMemoryStore()
		return nil
	}

	switch cfg.Datastore.Driver {
	case config.DriverFirestore:
		registry, err := firestoreRepo.NewRegistry(pfirestore.NewProvider(cfg.Firestore), checks...)
		if err != nil {
			return fmt.Errorf("build firestore registry: %w", err)
		}
		c.Repositories = registry
		client, err := registry.Client(ctx)
		if err != nil {
			return fmt.Errorf("open firestore: %w", err)
		}
		c.Idempotency = idempotency.NewFirestoreStore(client)
	case config.DriverPostgres:
		db, err := ppostgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		if cfg.Postgres.AutoMigrate {
			if err := ppostgres.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return err
			}
		}
		registry, err := postgresRepo.NewRegistry(db, checks...)
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("build postgres registry: %w", err)
		}
		c.Repositories = registry
		c.Idempotency = idempotency.NewMemoryStore()
	case config.DriverMemory:
		c.Repositories = memoryRepo.NewRegistry()
		c.Idempotency = idempotency.NewMemoryStore()
	default:
		return fmt.Errorf("unsupported datastore driver %q", cfg.Datastore.Driver)
	}
	return nil
}

func newImageSigner(cfg config.StorageConfig) (services.ImageURLSigner, error) {
	if strings.TrimSpace(cfg.ImagesBucket) == "" {
		return nil, nil
	}
	signer, err := platformstorage.ParseSigner(cfg.SignerEmail, cfg.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("parse storage signer: %w", err)
	}
	images, err := platformstorage.NewImageSigner(cfg.ImagesBucket, signer, platformstorage.WithPublicBaseURL(cfg.PublicBaseURL))
	if err != nil {
		return nil, fmt.Errorf("build image signer: %w", err)
	}
	return images, nil
}

func (c *Container) buildServices(identity services.IdentityProvider, publisher services.TransitionPublisher, images services.ImageURLSigner) (Services, error) {
	reg := c.Repositories
	var svc Services
	var err error

	svc.Carts, err = services.NewCartManager(services.CartManagerDeps{
		Carts:     reg.Carts(),
		Favorites: reg.Favorites(),
		Products:  reg.Products(),
		Guests:    reg.GuestStorage(),
		Publisher: publisher,
		Logger:    observability.EventLogger(c.Logger.Named("cart")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart manager: %w", err)
	}

	svc.Catalog, err = services.NewCatalogService(services.CatalogServiceDeps{
		Products:        reg.Products(),
		Images:          images,
		ImageURLTTL:     c.Config.Storage.SignedURLTTL,
		DefaultLanguage: catalog.ParseLanguage(c.Config.Catalog.DefaultLocale),
		Logger:          observability.EventLogger(c.Logger.Named("catalog")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}

	svc.Accounts, err = services.NewAccountService(services.AccountServiceDeps{
		Profiles: reg.Profiles(),
		Identity: identity,
		Carts:    svc.Carts,
		Logger:   observability.EventLogger(c.Logger.Named("account")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build account service: %w", err)
	}

	svc.System, err = services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            time.Now,
		Build:            c.build,
		CacheFor:         readinessCacheWindow,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	return svc, nil
}

// Handler assembles the HTTP router over the container's services.
func (c *Container) Handler() http.Handler {
	cfg := c.Config
	httpLogger := c.Logger.Named("http")
	projectID := traceProjectID(cfg)

	addItemGuard := idempotency.Middleware(c.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithMaxBodyBytes(handlers.MaxCartBodySize),
		idempotency.WithLogger(observability.EventLogger(c.Logger.Named("idempotency"))),
	)

	cartHandlers := handlers.NewCartHandlers(c.Services.Carts, handlers.WithAddItemMiddleware(addItemGuard))
	favoriteHandlers := handlers.NewFavoriteHandlers(c.Services.Carts)
	sessionHandlers := handlers.NewSessionHandlers(c.Authenticator, c.Services.Carts, c.Services.Accounts, c.Sessions)
	accountHandlers := handlers.NewAccountHandlers(c.Services.Accounts, c.Sessions,
		handlers.WithSignUpRateLimit(cfg.RateLimit.SignUpPerMinute, time.Minute, time.Now))
	meHandlers := handlers.NewMeHandlers(c.Authenticator, c.Services.Accounts)
	catalogHandlers := handlers.NewCatalogHandlers(c.Services.Catalog, cfg.Catalog.PageSize)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(c.build),
		handlers.WithHealthSystemService(c.Services.System),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.ContextLogger(httpLogger),
			observability.Tracing(projectID),
			observability.Recover(httpLogger),
		),
		handlers.WithAPIMiddlewares(
			c.Sessions.Middleware(),
			c.Authenticator.OptionalFirebaseAuth(),
			observability.AccessLog(),
		),
		handlers.WithAllowedOrigins(cfg.CORS.AllowedOrigins...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithRoutes(handlers.CartGroup, cartHandlers.Routes),
		handlers.WithRoutes(handlers.FavoritesGroup, favoriteHandlers.Routes),
		handlers.WithRoutes(handlers.SessionGroup, sessionHandlers.Routes),
		handlers.WithRoutes(handlers.AccountsGroup, accountHandlers.Routes),
		handlers.WithRoutes(handlers.MeGroup, meHandlers.Routes),
		handlers.WithRoutes(handlers.CatalogGroup, catalogHandlers.Routes),
	)
}

// RunIdempotencyCleanup deletes expired idempotency records every interval until ctx is done.
func (c *Container) RunIdempotencyCleanup(ctx context.Context) {
	if c.Idempotency == nil {
		return
	}
	cfg := c.Config.Idempotency
	runCleanup(ctx, c.Logger.Named("idempotency"), cfg.CleanupInterval, func(ctx context.Context) (int, error) {
		return c.Idempotency.Sweep(ctx, time.Now().UTC(), cfg.CleanupBatchSize)
	})
}

// RunGuestSessionCleanup purges guest session state idle for longer than the session TTL every
// interval until ctx is done. Backends without a sweeper are left alone.
func (c *Container) RunGuestSessionCleanup(ctx context.Context) {
	if c.Repositories == nil {
		return
	}
	sweeper, ok := c.Repositories.GuestStorage().(repositories.GuestStorageSweeper)
	if !ok {
		return
	}
	cfg := c.Config.Session
	runCleanup(ctx, c.Logger.Named("guest_sessions"), cfg.CleanupInterval, func(ctx context.Context) (int, error) {
		return sweeper.PurgeIdle(ctx, time.Now().UTC().Add(-cfg.TTL), cfg.CleanupBatchSize)
	})
}

func runCleanup(ctx context.Context, logger *zap.Logger, interval time.Duration, sweep func(context.Context) (int, error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := sweep(runCtx)
			cancel()
			if err != nil {
				logger.Error("cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close flushes the event publisher, then releases the datastore.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i](ctx))
	}
	c.closers = nil
	if c.Repositories != nil {
		errs = append(errs, c.Repositories.Close(ctx))
		c.Repositories = nil
	}
	return errors.Join(errs...)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
