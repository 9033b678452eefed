// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It decides:
// - Which user store and session store back the gateway (from config)
// - Which URL patterns map to which handler functions
// - Which routes sit behind RequireAuth
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → repository (sqlite | postgres)      → Verifier, Resolver, SecretService
//	  → session.Store (memory | redis)      → session.Serializer
//	  → worker.Pool                         → Verifier (bcrypt off the request goroutines)
//	  → auth.Provider (google | github)     → AuthHandler
//	Serializer → Broker, Guard → handlers → routes
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/secrets-gateway/internal/auth"
	"github.com/sakif/secrets-gateway/internal/config"
	"github.com/sakif/secrets-gateway/internal/handler"
	"github.com/sakif/secrets-gateway/internal/metrics"
	"github.com/sakif/secrets-gateway/internal/middleware"
	"github.com/sakif/secrets-gateway/internal/repository"
	postgresRepo "github.com/sakif/secrets-gateway/internal/repository/postgres"
	sqliteRepo "github.com/sakif/secrets-gateway/internal/repository/sqlite"
	"github.com/sakif/secrets-gateway/internal/service"
	"github.com/sakif/secrets-gateway/internal/session"
	"github.com/sakif/secrets-gateway/internal/worker"
)

// sweepInterval is how often the in-memory session store drops expired
// records.
const sweepInterval = 5 * time.Minute

// userStore is what the server needs from either repository implementation.
type userStore interface {
	repository.UserRepository
	io.Closer
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database handle, the Redis client (if any), the hash
// worker pool and the session sweeper. Close releases all of them; Start
// calls it on the way out.
type Server struct {
	router   *chi.Mux
	config   config.Config
	logger   *slog.Logger
	users    userStore
	sessions session.Store
	pool     *worker.Pool
	registry *prometheus.Registry
	provider auth.Provider

	closers []func() error
	cancel  context.CancelFunc
}

// Option customises New.
type Option func(*Server)

// WithProvider replaces the federated provider built from config. Tests use
// it to point the callback flow at a fake provider.
func WithProvider(p auth.Provider) Option {
	return func(s *Server) { s.provider = p }
}

// WithSessionStore replaces the session store chosen from config.
func WithSessionStore(store session.Store) Option {
	return func(s *Server) { s.sessions = store }
}

// New creates a Server from cfg, opening every backing store.
//
// If anything fails halfway, whatever was already opened is closed again
// before the error is returned.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (srv *Server, err error) {
	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	for _, opt := range opts {
		opt(s)
	}

	// === USER STORE ===
	if s.users, err = openUsers(cfg.DB); err != nil {
		return nil, fmt.Errorf("opening user store: %w", err)
	}
	s.closers = append(s.closers, s.users.Close)

	// === SESSION STORE ===
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	if s.sessions == nil {
		s.sessions = s.openSessions(ctx)
	}

	// === FEDERATED PROVIDER ===
	if s.provider == nil && cfg.OAuth.Enabled() {
		s.provider, err = auth.NewProvider(cfg.OAuth.Provider, cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.CallbackURL)
		if err != nil {
			return nil, err
		}
	}
	if s.provider == nil {
		logger.Warn("federated login disabled: OAUTH_CLIENT_ID not set")
	}

	// === HASH WORKERS ===
	s.pool = worker.NewPool(cfg.Hash.Workers, logger)
	s.pool.Start()
	s.closers = append(s.closers, func() error { s.pool.Stop(); return nil })

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// openUsers opens the user store named by cfg.Driver.
func openUsers(cfg config.DBConfig) (userStore, error) {
	switch cfg.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return postgresRepo.Open(ctx, cfg.DSN)
	default:
		if cfg.Path != ":memory:" {
			// 0755 = owner can read/write/execute, others can read/execute.
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		return sqliteRepo.New(cfg.Path)
	}
}

// openSessions picks Redis when configured, otherwise an in-memory store
// with a background sweeper tied to ctx.
//
// A Redis that is down at startup is not fatal: every session operation
// will report the store as unavailable (503) until it comes back.
func (s *Server) openSessions(ctx context.Context) session.Store {
	if s.config.Redis.Enabled() {
		rdb := redis.NewClient(s.config.Redis.ClientOptions())
		s.closers = append(s.closers, rdb.Close)

		store := session.NewRedisStore(rdb)
		if err := store.Ping(ctx); err != nil {
			s.logger.Warn("redis not reachable at startup",
				slog.String("addr", s.config.Redis.Addr),
				slog.Bool("tls", s.config.Redis.TLS()),
				slog.String("error", err.Error()),
			)
		}
		return store
	}

	s.logger.Info("using in-memory sessions; logins will not survive a restart")
	store := session.NewMemoryStore()
	go store.RunSweeper(ctx, sweepInterval)
	return store
}

// setupRoutes wires services to handlers and handlers to routes.
//
// ROUTE STRUCTURE:
// GET  /                          → home page descriptor
// GET  /login, /register          → form descriptors
// POST /register, /login          → local strategy → 303 /secrets
// GET  /auth/federated            → redirect to provider
// GET  /auth/federated/callback   → federated strategy → 303 /secrets
// GET  /logout                    → revoke, clear cookie → 303 /
// GET  /secrets                   → public list
// GET  /submit, POST /submit      → RequireAuth
// GET  /healthz, /metrics         → operations
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID, so the logger can print it
// 2. RealIP, so logs show the client behind a proxy
// 3. Recoverer, turning a panic into a 500 instead of a crash
// 4. Logger
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// === Services ===
	tokens, err := auth.NewTokenService(s.config.Session.Secret)
	if err != nil {
		return err
	}

	// The gauge reads through secretService, which needs the metrics to
	// exist first; the closure breaks the cycle.
	var secretService *service.SecretService
	m := metrics.New(func(ctx context.Context) (int, error) { return secretService.Count(ctx) })
	secretService = service.NewSecretService(s.users, m, s.logger)

	if err := s.registry.Register(m); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	serializer := session.NewSerializer(tokens, s.sessions, s.users, s.config.Session.TTL.Duration())
	verifier := service.NewVerifier(s.users, auth.NewPasswordService(s.config.Hash.BcryptCost), s.pool, m, s.logger)
	resolver := service.NewResolver(s.users, s.logger)
	broker := service.NewBroker(verifier, resolver, serializer, m, s.logger)
	guard := service.NewGuard(serializer, m, s.logger)

	// === Handlers ===
	pages := handler.NewPageHandler(s.provider != nil)
	authHandler := handler.NewAuthHandler(broker, guard, s.provider, handler.CookieConfig{
		TTL:    serializer.TTL(),
		Secure: s.config.Session.CookieSecure,
	}, s.logger)
	secretHandler := handler.NewSecretHandler(secretService, s.logger)

	stores := map[string]handler.Pinger{"users": s.users}
	if p, ok := s.sessions.(handler.Pinger); ok {
		stores["sessions"] = p
	}
	health := handler.NewHealthHandler(stores, s.logger)

	// === Public routes ===
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth(guard))
		r.Get("/", pages.HandleHome)
		r.Get("/login", pages.HandleLogin)
		r.Get("/register", pages.HandleRegister)
		r.Get("/secrets", secretHandler.HandleList)
	})

	s.router.Post("/register", authHandler.HandleRegister)
	s.router.Post("/login", authHandler.HandleLogin)
	s.router.Get("/logout", authHandler.HandleLogout)

	s.router.Route("/auth/federated", func(r chi.Router) {
		r.Get("/", authHandler.HandleFederatedLogin)
		r.Get("/callback", authHandler.HandleFederatedCallback)
	})

	// === Guarded routes ===
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(guard, s.logger))
		r.Get("/submit", pages.HandleSubmit)
		r.Post("/submit", secretHandler.HandleSubmit)
	})

	// === Operations ===
	s.router.Get("/healthz", health.HandleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return nil
}

// Handler returns the router, for tests and for embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Close releases every resource New acquired, newest first.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the stores and stop the hash workers
//
// Stores are closed only after in-flight requests finish, so a login that
// is half way through is not cut off from its database.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTP.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.HTTP.ReadTimeout.Duration(),
		WriteTimeout: s.config.HTTP.WriteTimeout.Duration(),
		IdleTimeout:  s.config.HTTP.IdleTimeout.Duration(),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.HTTP.Port),
			slog.String("database", s.config.DB.Driver),
			slog.Bool("redis", s.config.Redis.Enabled()),
			slog.Bool("federated", s.provider != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
