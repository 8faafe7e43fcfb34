package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Aayuv360/Moha-sub001/pkg/auth"
	"github.com/Aayuv360/Moha-sub001/pkg/database"
	"github.com/Aayuv360/Moha-sub001/pkg/health"
	"github.com/Aayuv360/Moha-sub001/pkg/httpclient"
	pkgkafka "github.com/Aayuv360/Moha-sub001/pkg/kafka"
	"github.com/Aayuv360/Moha-sub001/pkg/middleware"
	"github.com/Aayuv360/Moha-sub001/pkg/tracing"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/catalog"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/config"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/event"
	handler "github.com/Aayuv360/Moha-sub001/services/cart/internal/handler/http"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/repository"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/repository/memory"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/repository/postgres"
	rediscache "github.com/Aayuv360/Moha-sub001/services/cart/internal/repository/redis"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/service"
)

const serviceName = "cart-service"

// App wires together all dependencies and runs the cart service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	cache          *rediscache.CartCache
	producer       *pkgkafka.Producer
	shutdownTracer tracing.ShutdownFunc
	httpServer     *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
// Optional dependencies (cache, Kafka, catalog) are skipped when disabled.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.shutdownTracer, err = tracing.Setup(ctx, tracing.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTELEndpoint,
		SampleRate:   cfg.OTELSampleRate,
		Enabled:      cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	healthHandler := health.NewHandler()

	store, err := a.newStore(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	cache, err := a.newCache(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	publisher := a.newPublisher(healthHandler)
	productCatalog := a.newCatalog()

	cartService := service.NewCartService(store, cache, productCatalog, publisher, logger)

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty, every bearer token will be rejected")
	}
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	validate := func(token string) (*middleware.Claims, error) {
		if cfg.JWTSecret == "" {
			return nil, errors.New("bearer tokens are not configured")
		}
		return verifier.Validate(token)
	}

	router := handler.NewRouter(handler.RouterConfig{
		CartService:    cartService,
		Health:         healthHandler,
		ValidateToken:  validate,
		CORS:           middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins),
		RequestTimeout: time.Duration(cfg.RequestTimeoutSecs) * time.Second,
		RateLimit: middleware.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		Logger: logger,
	})

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: time.Duration(cfg.RequestTimeoutSecs+5) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

func (a *App) newStore(ctx context.Context, h *health.Handler) (repository.CartStore, error) {
	if a.cfg.Store == config.StoreMemory {
		a.logger.Warn("using in-memory cart store, carts are lost on restart")
		return memory.NewCartStore(), nil
	}

	pgCfg := a.cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, pgCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.Int("port", pgCfg.Port),
		slog.String("database", pgCfg.DBName),
	)

	if a.cfg.DBRunMigrations {
		if err := database.RunMigrations(ctx, pool, postgres.Migrations(), a.logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, "cart"); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}
	if a.cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(a.cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
	}

	h.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	return postgres.NewCartStore(pool), nil
}

func (a *App) newCache(ctx context.Context, h *health.Handler) (repository.CartCache, error) {
	if !a.cfg.CacheEnabled {
		a.logger.Info("cart cache disabled")
		return repository.NopCache{}, nil
	}

	redisCfg := a.cfg.Redis()
	rdb, err := database.NewRedisClient(ctx, redisCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.rdb = rdb
	a.logger.Info("connected to Redis",
		slog.String("addr", redisCfg.Addr()),
		slog.Int("db", redisCfg.DB),
	)

	a.cache = rediscache.NewCartCache(rdb, rediscache.Config{
		TTL:         time.Duration(a.cfg.CacheTTLSecs) * time.Second,
		Fresh:       time.Duration(a.cfg.CacheFreshSecs) * time.Second,
		LoadTimeout: 5 * time.Second,
	}, a.logger)

	h.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	return a.cache, nil
}

func (a *App) newPublisher(h *health.Handler) service.EventPublisher {
	if !a.cfg.KafkaEnabled {
		a.logger.Info("kafka disabled, cart events are discarded")
		return event.Nop{}
	}

	a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(a.cfg.KafkaBrokers), a.logger)
	a.logger.Info("kafka producer initialized", slog.Any("brokers", a.cfg.KafkaBrokers))

	h.Register("kafka", a.producer.Ping)
	return event.NewProducer(a.producer, a.logger)
}

func (a *App) newCatalog() service.ProductCatalog {
	if a.cfg.ProductServiceURL == "" {
		a.logger.Warn("PRODUCT_SERVICE_URL is empty, product checks are disabled")
		return catalog.AllowAll{}
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = time.Duration(a.cfg.CatalogTimeoutMs) * time.Millisecond
	cb := httpclient.NewCircuitBreakerClient(httpclient.New(httpCfg), a.cfg.CircuitBreaker(), a.logger)
	a.logger.Info("product catalog client initialized",
		slog.String("url", a.cfg.ProductServiceURL),
		slog.Duration("timeout", httpCfg.Timeout),
	)
	return catalog.NewClient(a.cfg.ProductServiceURL, cb, a.logger)
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.close()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.close()

	a.logger.Info("application shutdown complete")
	return nil
}

// close releases every dependency that was opened. It is safe on a
// partially constructed App.
func (a *App) close() {
	if a.cache != nil {
		a.cache.Close()
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}

	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracer(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}
}
