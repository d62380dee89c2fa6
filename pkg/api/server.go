package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/neofi/chronicle/pkg/auth"
	"github.com/neofi/chronicle/pkg/collab"
	"github.com/neofi/chronicle/pkg/config"
	"github.com/neofi/chronicle/pkg/events"
	"github.com/neofi/chronicle/pkg/httputil"
	"github.com/neofi/chronicle/pkg/middleware"
	"github.com/neofi/chronicle/pkg/observability"
	"github.com/neofi/chronicle/pkg/rbac"
	"github.com/neofi/chronicle/pkg/store"
	"github.com/neofi/chronicle/pkg/versions"
)

// Version is the service version reported by / and /version. Overridden
// at build time with -ldflags.
var Version = "dev"

// Server owns the wired application: storage, services, routers, and the
// background scheduler.
type Server struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry

	db    *store.DB
	redis *redis.Client
	cron  *cron.Cron

	authService   *auth.Service
	eventsService *events.Service
	resolver      *rbac.Resolver
	hub           *collab.Hub

	router     *mux.Router
	httpServer *http.Server
	health     *observability.HealthChecker
}

// New wires the full application from configuration: it opens the store,
// runs every migration namespace, seeds the owner account, and builds the
// routers. The returned server is ready to Start.
func New(cfg *config.Config, logger *observability.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	db, err := store.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	db.SetPool(cfg.Storage.MaxOpenConns, cfg.Storage.MaxIdleConns, cfg.Storage.ConnMaxLifetime)

	ctx := context.Background()
	namespaces := []struct {
		name       string
		migrations []store.Migration
	}{
		{"rbac", rbac.Migrations()},
		{"auth", auth.Migrations()},
		{"events", events.Migrations()},
		{"versions", versions.Migrations()},
	}
	for _, ns := range namespaces {
		if err := store.RunMigrations(ctx, db, ns.name, ns.migrations); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate %s: %w", ns.name, err)
		}
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisURL,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
	}

	resolver := rbac.NewResolver(rbac.NewStore(db, metrics), metrics)
	issuer := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	authStore := auth.NewStore(db, metrics)
	authService := auth.NewService(authStore, issuer, resolver, logger)

	if err := authService.SeedOwner(ctx, cfg.Auth.OwnerEmail, cfg.Auth.OwnerPassword); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed owner: %w", err)
	}

	eventStore := events.NewStore(db, metrics)
	versionStore := versions.NewStore(db, metrics)
	eventsService := events.NewService(eventStore, versionStore, resolver, logger, metrics)

	scheduler := cron.New()
	if err := auth.ScheduleTokenPurge(scheduler, authStore, cfg.Auth.TokenPurgeSchedule, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to schedule token purge: %w", err)
	}

	s := &Server{
		cfg:           cfg,
		logger:        logger,
		metrics:       metrics,
		registry:      registry,
		db:            db,
		redis:         redisClient,
		cron:          scheduler,
		authService:   authService,
		eventsService: eventsService,
		resolver:      resolver,
		hub:           collab.NewHub(metrics),
		health:        observability.NewHealthChecker(db.DB, redisClient, Version),
	}
	s.router = s.buildRouter(eventStore)
	return s, nil
}

// buildRouter assembles the route tree and middleware stack
func (s *Server) buildRouter(eventStore *events.Store) *mux.Router {
	router := mux.NewRouter()

	router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.CORSMiddleware(s.cfg.Server.AllowedOrigins),
		observability.HTTPMetricsMiddleware(s.metrics),
	)

	router.HandleFunc("/", s.Root).Methods(http.MethodGet)
	router.HandleFunc("/health", s.health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/version", s.VersionInfo).Methods(http.MethodGet)

	authHandlers := auth.NewHandlers(s.authService, s.resolver)
	rbacHandlers := rbac.NewHandlers(s.resolver)
	eventHandlers := events.NewHandlers(s.eventsService, s.resolver)

	// credential endpoints get the strict per-IP limiter; the rest of the
	// API shares the standard tiers
	public := router.PathPrefix("/api").Subrouter()
	public.Use(s.authRateLimiter())
	authHandlers.RegisterPublicRoutes(public)

	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(mux.MiddlewareFunc(auth.Middleware(s.authService)), s.apiRateLimiter())
	authHandlers.RegisterProtectedRoutes(protected)
	rbacHandlers.RegisterRoutes(protected)
	eventHandlers.RegisterRoutes(protected)

	collabHandler := collab.NewHandler(s.hub, s.authService, eventStore, s.logger, s.cfg.Server.AllowedOrigins)
	collabHandler.RegisterRoutes(router)

	return router
}

func (s *Server) authRateLimiter() mux.MiddlewareFunc {
	if s.redis != nil {
		return middleware.NewDistributedRateLimitMiddleware(s.redis).Handler
	}
	return middleware.NewAuthEndpointRateLimitMiddleware().Handler
}

func (s *Server) apiRateLimiter() mux.MiddlewareFunc {
	if s.redis != nil {
		return middleware.NewDistributedRateLimitMiddleware(s.redis).Handler
	}
	return middleware.NewRateLimitMiddleware().Handler
}

// Router returns the assembled route tree
func (s *Server) Router() http.Handler {
	return s.router
}

// Root handles GET /
func (s *Server) Root(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{
		"service": "chronicle",
		"version": Version,
		"status":  "ok",
	})
}

// VersionInfo handles GET /version
func (s *Server) VersionInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"version": Version})
}

// Start begins serving. It starts the background scheduler, the health
// and metrics listener, and the main listener, then blocks until a
// shutdown signal arrives and the drain completes.
func (s *Server) Start() error {
	s.cron.Start()

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", s.health.Liveness)
	healthMux.HandleFunc("/ready", s.health.Readiness)
	if s.cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, s.registry)
	}

	healthServer := &http.Server{
		Addr:    net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.HealthPort),
		Handler: healthMux,
	}
	go func() {
		s.logger.WithField("addr", healthServer.Addr).Info("health listener starting")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("health listener failed")
		}
	}()

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	manager := observability.NewShutdownManager(s.logger, s.httpServer, s.cfg.Server.ShutdownTimeout)
	manager.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	manager.RegisterShutdownFunc(func(context.Context) error {
		s.cron.Stop()
		return nil
	})
	manager.RegisterShutdownFunc(func(context.Context) error {
		return s.Close()
	})
	return manager.WaitForShutdown()
}

// Close releases the server's storage handles
func (s *Server) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	return s.db.Close()
}
