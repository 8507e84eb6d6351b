package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/maplecart/api/internal/platform/httpx"
)

const apiPrefix = "/api"

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	orders      RouteRegistrar
	products    RouteRegistrar
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithOrderRoutes configures the registrar responsible for order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.orders = reg }
}

// WithProductRoutes configures the registrar responsible for catalog endpoints.
func WithProductRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.products = reg }
}

// NewRouter assembles the chi router: health probes outside the API prefix,
// route groups under /api, and JSON errors for unmatched paths.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(60 * time.Second),
		},
	}
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

	r.NotFound(routerError("route_not_found", http.StatusNotFound, "no route for %s"))
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		msg := fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path)
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", msg, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		api.Route("/orders", groupOrStub(cfg.orders, "orders"))
		api.Route("/products", groupOrStub(cfg.products, "products"))
	})

	return r
}

// groupOrStub mounts the registrar, or a 501 stub when the group has not
// been wired up (keeps partial deployments from returning bare 404s).
func groupOrStub(reg RouteRegistrar, name string) func(chi.Router) {
	if reg != nil {
		return reg
	}
	return func(group chi.Router) {
		stub := func(w http.ResponseWriter, req *http.Request) {
			msg := fmt.Sprintf("%s routes not implemented", name)
			httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", msg, http.StatusNotImplemented))
		}
		group.HandleFunc("/", stub)
		group.HandleFunc("/*", stub)
		group.NotFound(stub)
		group.MethodNotAllowed(stub)
	}
}

func routerError(code string, status int, format string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(code, fmt.Sprintf(format, req.URL.Path), status))
	}
}
