package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/product-options/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Route group names under the API prefix.
const (
	GroupPublic   = "public"
	GroupCart     = "cart"
	GroupOrders   = "orders"
	GroupAdmin    = "admin"
	GroupWebhooks = "webhooks"
	GroupInternal = "internal"
)

var groupOrder = []string{GroupPublic, GroupCart, GroupOrders, GroupAdmin, GroupWebhooks, GroupInternal}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter constructs the chi router with shared middleware and the route groups.
// Groups without a registrar answer 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
		groups: make(map[string]*routeGroup, len(groupOrder)),
	}
	for _, name := range groupOrder {
		cfg.groups[name] = &routeGroup{}
	}
	// Public responses are localized and may be cached by shared proxies.
	cfg.groups[GroupPublic].middlewares = append(cfg.groups[GroupPublic].middlewares, varyOnLanguage)

	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range groupOrder {
			group := cfg.groups[name]
			api.Route("/"+name, func(sub chi.Router) {
				for _, mw := range group.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if group.registrar != nil {
					group.registrar(sub)
					return
				}
				registerNotImplemented(sub, name)
			})
		}
	})

	return r
}

// WithBasePath replaces the /api/v1 prefix.
func WithBasePath(path string) Option {
	return func(cfg *routerConfig) {
		path = "/" + strings.Trim(strings.TrimSpace(path), "/")
		if path != "/" {
			cfg.basePath = path
		}
	}
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithGroupRoutes sets the registrar for a named group. Unknown names are ignored.
func WithGroupRoutes(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		if group, ok := cfg.groups[name]; ok {
			group.registrar = reg
		}
	}
}

// WithGroupMiddlewares appends middleware that only wraps the named group.
func WithGroupMiddlewares(name string, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		if group, ok := cfg.groups[name]; ok {
			group.middlewares = append(group.middlewares, mw...)
		}
	}
}

// WithPublicRoutes configures the registrar for storefront endpoints.
func WithPublicRoutes(reg RouteRegistrar) Option { return WithGroupRoutes(GroupPublic, reg) }

func WithCartRoutes(reg RouteRegistrar) Option { return WithGroupRoutes(GroupCart, reg) }

func WithOrderRoutes(reg RouteRegistrar) Option { return WithGroupRoutes(GroupOrders, reg) }

func WithAdminRoutes(reg RouteRegistrar) Option { return WithGroupRoutes(GroupAdmin, reg) }

func WithWebhookRoutes(reg RouteRegistrar) Option { return WithGroupRoutes(GroupWebhooks, reg) }

// WithWebhookMiddlewares wraps the /webhooks group, e.g. with HMAC verification.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return WithGroupMiddlewares(GroupWebhooks, mw...)
}

func WithInternalRoutes(reg RouteRegistrar) Option { return WithGroupRoutes(GroupInternal, reg) }

// WithInternalMiddlewares wraps the /internal group, e.g. with OIDC verification.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return WithGroupMiddlewares(GroupInternal, mw...)
}

func varyOnLanguage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Language")
		next.ServeHTTP(w, r)
	})
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
