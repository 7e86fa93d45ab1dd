package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-admin/internal/audit"
	"github.com/noah-isme/toko-admin/internal/auth"
	"github.com/noah-isme/toko-admin/internal/cart"
	"github.com/noah-isme/toko-admin/internal/catalog"
	"github.com/noah-isme/toko-admin/internal/common"
	"github.com/noah-isme/toko-admin/internal/config"
	"github.com/noah-isme/toko-admin/internal/health"
	"github.com/noah-isme/toko-admin/internal/obs"
	"github.com/noah-isme/toko-admin/internal/promotion"
	"github.com/noah-isme/toko-admin/internal/ratelimit"
	"github.com/noah-isme/toko-admin/internal/security"
	"github.com/noah-isme/toko-admin/internal/tenant"
)

type routerDeps struct {
	Config         *config.Config
	Logger         zerolog.Logger
	Resolver       *tenant.Resolver
	Auth           auth.Middleware
	Idem           common.Idem
	CartLimit      ratelimit.Handler
	HTTPMetrics    *obs.HTTPMetrics
	TracingEnabled bool
	Health         health.Handler
	Audit          audit.HTTPRecorder
	AuditLogs      audit.Handler

	Carts      *cart.Handler
	Promotions *promotion.Handler
	Products   *catalog.Handler
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(d.Resolver.Middleware)
	r.Use(obs.RoutePatternMiddleware)
	if d.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if d.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: d.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(d.Config),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", cart.FingerprintHeader, d.Config.TenantHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if d.HTTPMetrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/health/live", d.Health.Live)
	r.Get("/health/ready", d.Health.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.Headers{HSTSMaxAge: 31536000}.Middleware)
		v.Use(security.BodyLimit{Max: d.Config.RequestBodyLimit}.Middleware)
		v.Use(tenant.RequireTenant)

		v.Route("/carts", func(c chi.Router) {
			c.Use(d.CartLimit.Middleware)
			c.Get("/{id}", d.Carts.Get)
			c.Group(func(g chi.Router) {
				g.Use(d.Idem.Middleware)
				g.Post("/", d.Carts.Create)
				g.Delete("/{id}", d.Carts.Delete)
				g.Post("/{id}/items", d.Carts.AddItem)
				g.Patch("/{id}/items/{itemId}", d.Carts.UpdateItem)
				g.Delete("/{id}/items/{itemId}", d.Carts.RemoveItem)
				g.Post("/{id}/recalculate", d.Carts.Recalculate)
			})
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(d.Auth.RequireAuth)
			admin.Use(auth.RequireRole("staff", "admin"))

			admin.Get("/promotions", d.Promotions.List)
			admin.Post("/promotions/preview", d.Promotions.Preview)
			admin.Get("/promotions/{id}", d.Promotions.Get)
			admin.Group(func(g chi.Router) {
				g.Use(d.Idem.Middleware)
				g.Use(d.Audit.Middleware(audit.HTTPConfig{ResourceIDParam: "id"}))
				g.Post("/promotions", d.Promotions.Create)
				g.Put("/promotions/{id}", d.Promotions.Update)
				g.Delete("/promotions/{id}", d.Promotions.Delete)
				g.Post("/products", d.Products.Create)
				g.Put("/products/{id}/price", d.Products.UpdatePrice)
			})
			admin.Get("/products/{id}", d.Products.Get)
			admin.Get("/audit-logs", d.AuditLogs.List)
		})
	})

	return r
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
