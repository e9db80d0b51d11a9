package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hanko-field/storefront/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Group names one block of storefront API routes.
type Group string

const (
	CartGroup      Group = "cart"
	FavoritesGroup Group = "favorites"
	SessionGroup   Group = "session"
	AccountsGroup  Group = "accounts"
	MeGroup        Group = "me"
	// CatalogGroup registers on the API root because it owns both /products and /catalog.
	CatalogGroup Group = "catalog"
)

// apiGroups lists every group in mount order. A group without a registrar answers 501 on its
// prefix, or on the listed paths when it has no prefix of its own.
var apiGroups = []struct {
	group  Group
	prefix string
	paths  []string
}{
	{group: CartGroup, prefix: "/cart"},
	{group: FavoritesGroup, prefix: "/favorites"},
	{group: SessionGroup, prefix: "/session"},
	{group: AccountsGroup, prefix: "/accounts"},
	{group: MeGroup, prefix: "/me"},
	{group: CatalogGroup, paths: []string{"/products", "/products/{productRef}", "/catalog/options"}},
}

const (
	apiPrefix         = "/api/v1"
	requestTimeout    = 30 * time.Second
	errorNotFoundCode = "route_not_found"
)

type routerConfig struct {
	global  []func(http.Handler) http.Handler
	api     []func(http.Handler) http.Handler
	origins []string
	health  *HealthHandlers
	groups  map[Group]RouteRegistrar
}

type Option func(*routerConfig)

// WithMiddlewares appends middleware that runs for every request, probes included.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

// WithAPIMiddlewares appends middleware for /api/v1 only. Guest sessions and optional
// authentication belong here so probes never mint sessions.
func WithAPIMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.api = append(cfg.api, mw...) }
}

// WithAllowedOrigins enables credentialed CORS for the storefront front-end origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(cfg *routerConfig) { cfg.origins = append(cfg.origins, origins...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithRoutes installs the registrar for one API group.
func WithRoutes(group Group, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		if reg != nil {
			cfg.groups[group] = reg
		}
	}
}

// NewRouter builds the chi router: CORS, then the global chain, the probes, and the API groups.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{groups: map[Group]RouteRegistrar{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	if len(cfg.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type", "Idempotency-Key", "X-Cloud-Trace-Context", "Traceparent"},
			ExposedHeaders:   []string{"X-Request-Id", "X-Idempotent-Replay", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout))
	for _, mw := range cfg.global {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed",
			fmt.Sprintf("%s is not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, mw := range cfg.api {
			if mw != nil {
				api.Use(mw)
			}
		}
		for _, g := range apiGroups {
			mountGroup(api, g.prefix, g.paths, g.group, cfg.groups[g.group])
		}
	})
	return r
}

func mountGroup(api chi.Router, prefix string, paths []string, group Group, reg RouteRegistrar) {
	switch {
	case prefix == "" && reg != nil:
		reg(api)
	case prefix == "":
		for _, path := range paths {
			api.HandleFunc(path, notImplemented(group))
		}
	default:
		api.Route(prefix, func(sub chi.Router) {
			if reg != nil {
				reg(sub)
				return
			}
			stub := notImplemented(group)
			sub.HandleFunc("/", stub)
			sub.HandleFunc("/*", stub)
		})
	}
}

func notImplemented(group Group) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented",
			fmt.Sprintf("%s routes are not available", group), http.StatusNotImplemented))
	}
}
