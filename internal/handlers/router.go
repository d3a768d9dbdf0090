package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/orders/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// group is one mounted section of the API. Groups without a registrar answer 501.
type group struct {
	registrar   RouteRegistrar
	middlewares []middlewareFunc
}

const (
	groupOrders   = "/orders"
	groupPayments = "/payments"
	groupAdmin    = "/admin"
	groupWebhooks = "/webhooks"
	groupInternal = "/internal"
)

var mountOrder = []string{groupOrders, groupPayments, groupAdmin, groupWebhooks, groupInternal}

type routerConfig struct {
	middlewares []middlewareFunc
	health      *HealthHandlers
	coupons     RouteRegistrar
	groups      map[string]*group
}

func (c *routerConfig) group(path string) *group {
	g, ok := c.groups[path]
	if !ok {
		g = &group{}
		c.groups[path] = g
	}
	return g
}

// Option customises the router.
type Option func(*routerConfig)

// NewRouter builds the API router: request id, real ip and timeout middleware, probes at the
// root, and the /api/v1 groups.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routerConfig{
		middlewares: []middlewareFunc{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
		groups:      make(map[string]*group),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(compact(cfg.middlewares)...)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		msg := fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path)
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", msg, http.StatusMethodNotAllowed))
	})
	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		// coupon preview uses a custom verb on the collection path, so it registers at the root
		if cfg.coupons != nil {
			cfg.coupons(api)
		} else {
			api.HandleFunc("/coupons:preview", notImplemented("coupons"))
		}
		for _, path := range mountOrder {
			g := cfg.group(path)
			api.Route(path, func(sub chi.Router) {
				sub.Use(compact(g.middlewares)...)
				if g.registrar != nil {
					g.registrar(sub)
					return
				}
				stub := notImplemented(path[1:])
				sub.HandleFunc("/", stub)
				sub.HandleFunc("/*", stub)
			})
		}
	})
	return r
}

func notImplemented(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes not implemented", http.StatusNotImplemented))
	}
}

func compact(mws []middlewareFunc) []middlewareFunc {
	out := make([]middlewareFunc, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			out = append(out, mw)
		}
	}
	return out
}

func withRoutes(path string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(path).registrar = reg }
}

func withGroupMiddlewares(path string, mw []middlewareFunc) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(path)
		g.middlewares = append(g.middlewares, mw...)
	}
}

// WithMiddlewares appends router-wide middleware, run after the defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithHealthHandlers serves /healthz and /readyz from h.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithCouponRoutes registers coupon endpoints against the API root.
func WithCouponRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.coupons = reg }
}

// WithOrderRoutes mounts customer order endpoints under /orders.
func WithOrderRoutes(reg RouteRegistrar) Option { return withRoutes(groupOrders, reg) }

// WithPaymentRoutes mounts gateway callbacks under /payments.
func WithPaymentRoutes(reg RouteRegistrar) Option { return withRoutes(groupPayments, reg) }

// WithAdminRoutes mounts staff endpoints under /admin.
func WithAdminRoutes(reg RouteRegistrar) Option { return withRoutes(groupAdmin, reg) }

// WithWebhookRoutes mounts provider webhooks under /webhooks.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withRoutes(groupWebhooks, reg) }

// WithInternalRoutes mounts scheduler endpoints under /internal.
func WithInternalRoutes(reg RouteRegistrar) Option { return withRoutes(groupInternal, reg) }

// WithWebhookMiddlewares guards the /webhooks group, e.g. with signature checks.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupWebhooks, mw)
}

// WithInternalMiddlewares guards the /internal group, e.g. with OIDC checks.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupInternal, mw)
}
