package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aayuv360/Moha-sub001/pkg/health"
	"github.com/Aayuv360/Moha-sub001/pkg/middleware"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/domain"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/service"
)

// RouterConfig carries the collaborators the router wires together.
type RouterConfig struct {
	CartService    *service.CartService
	Health         *health.Handler
	ValidateToken  middleware.TokenValidator
	CORS           middleware.CORSConfig
	RequestTimeout time.Duration
	// RateLimit applies per cart owner. A zero RPS disables it.
	RateLimit middleware.RateLimitConfig
	Logger    *slog.Logger
}

// NewRouter creates a chi router with all cart service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	logger := cfg.Logger

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("cart"))
	r.Use(middleware.Tracing("cart"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	cartHandler := NewCartHandler(cfg.CartService, logger)

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.OptionalAuth(cfg.ValidateToken))
		r.Use(Identity)
		r.Use(middleware.RateLimit(rateLimitConfig(cfg.RateLimit), logger))
		// Rebuild the request logger now that the owner key is known.
		r.Use(middleware.RequestLogger(logger))

		r.Get("/", cartHandler.GetCart)
		r.Post("/items", cartHandler.AddItem)
		r.Put("/items/{itemId}", cartHandler.UpdateItemQuantity)
		r.Delete("/items/{itemId}", cartHandler.RemoveItem)
		r.Post("/merge", cartHandler.MergeCart)
	})

	return r
}

func rateLimitConfig(cfg middleware.RateLimitConfig) middleware.RateLimitConfig {
	cfg.Service = "cart"
	cfg.Key = func(r *http.Request) string {
		owner, err := domain.ResolveOwnerKey(identityFromContext(r.Context()))
		if err != nil {
			return middleware.ClientIP(r)
		}
		return string(owner)
	}
	return cfg
}
