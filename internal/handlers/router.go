package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/storefront-commerce/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// routeGroup is one mount under the API prefix. A group without a registrar answers 501 so
// partially wired deployments fail loudly.
type routeGroup struct {
	path        string
	registrar   RouteRegistrar
	middlewares []middlewareFunc
}

// Mount order is fixed so route listings stay stable.
var groupOrder = []string{"/pricing", "/shipping", "/cart", "/promotions", "/checkout", "/orders", "/admin/promotions"}

type routerConfig struct {
	middlewares []middlewareFunc
	apiMW       []middlewareFunc
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

func (cfg *routerConfig) group(path string) *routeGroup {
	g, ok := cfg.groups[path]
	if !ok {
		g = &routeGroup{path: path}
		cfg.groups[path] = g
	}
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the chi router. /healthz and /readyz sit at the root; every group under
// /api/v1 resolves the calling tenant first.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []middlewareFunc{middleware.RequestID, middleware.RealIP, middleware.Timeout(defaultTimeout)},
		groups:      make(map[string]*routeGroup),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	use(r, cfg.middlewares)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed",
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(defaultAPIPrefix, func(api chi.Router) {
		api.Use(ResolveCaller)
		use(api, cfg.apiMW)
		for _, path := range groupOrder {
			g := cfg.group(path)
			api.Route(g.path, func(sub chi.Router) {
				use(sub, g.middlewares)
				if g.registrar == nil {
					registerNotImplemented(sub, g.path)
					return
				}
				g.registrar(sub)
			})
		}
	})
	return r
}

func use(r chi.Router, mws []middlewareFunc) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

// WithMiddlewares appends global middleware.
func WithMiddlewares(mw ...middlewareFunc) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithAPIMiddlewares appends middleware that runs under the API prefix after the caller is
// resolved.
func WithAPIMiddlewares(mw ...middlewareFunc) Option {
	return func(cfg *routerConfig) {
		cfg.apiMW = append(cfg.apiMW, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

func withGroup(path string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(path).registrar = reg
	}
}

func WithPricingRoutes(reg RouteRegistrar) Option   { return withGroup("/pricing", reg) }
func WithShippingRoutes(reg RouteRegistrar) Option  { return withGroup("/shipping", reg) }
func WithCartRoutes(reg RouteRegistrar) Option      { return withGroup("/cart", reg) }
func WithPromotionRoutes(reg RouteRegistrar) Option { return withGroup("/promotions", reg) }
func WithCheckoutRoutes(reg RouteRegistrar) Option  { return withGroup("/checkout", reg) }
func WithOrderRoutes(reg RouteRegistrar) Option     { return withGroup("/orders", reg) }
func WithAdminRoutes(reg RouteRegistrar) Option     { return withGroup("/admin/promotions", reg) }

// WithAdminMiddlewares guards the promotion administration group.
func WithAdminMiddlewares(mw ...middlewareFunc) Option {
	return func(cfg *routerConfig) {
		g := cfg.group("/admin/promotions")
		g.middlewares = append(g.middlewares, mw...)
	}
}

func registerNotImplemented(r chi.Router, path string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented",
			fmt.Sprintf("%s routes not implemented", path), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
