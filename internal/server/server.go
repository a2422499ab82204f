// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: New builds every dependency from the
// config (store, relay registry, executors, notifiers, auth) and wires the
// handlers to routes. Nothing else in the module constructs these.
//
// RESOURCE OWNERSHIP:
// The Server owns the relay registry, the database, the Docker runner and the
// notification dispatchers. Close releases them in reverse order of
// creation; Start calls it on the way out.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sakif/pyrelay/internal/auth"
	"github.com/sakif/pyrelay/internal/config"
	"github.com/sakif/pyrelay/internal/evaluator"
	"github.com/sakif/pyrelay/internal/executor"
	"github.com/sakif/pyrelay/internal/executor/docker"
	"github.com/sakif/pyrelay/internal/executor/interactive"
	"github.com/sakif/pyrelay/internal/handler"
	"github.com/sakif/pyrelay/internal/middleware"
	"github.com/sakif/pyrelay/internal/monitor"
	"github.com/sakif/pyrelay/internal/notify"
	"github.com/sakif/pyrelay/internal/relay"
	sqliteRepo "github.com/sakif/pyrelay/internal/repository/sqlite"
	"github.com/sakif/pyrelay/internal/service"
)

// contactRate limits contact form posts per client: one every five seconds
// with a small burst.
const (
	contactRate  = 0.2
	contactBurst = 3
)

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger

	metrics  *monitor.Metrics
	registry *relay.Registry
	orch     *interactive.Orchestrator
	db       *sqliteRepo.DB // nil when accounts are disabled
	runner   *docker.Runner // nil when Docker is disabled or unreachable
	visits   *notify.Async  // nil when no visit webhook is configured
	contacts *notify.Async  // nil when no contact webhook is configured

	// baseCtx is the parent of every request context. Cancelling it stops
	// executions blocked in input() and long-lived WebSocket connections,
	// which http.Server.Shutdown would otherwise wait on.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Server from cfg. Docker is optional: if the daemon cannot be
// reached the server starts anyway and /run answers 503.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		metrics:  monitor.NewMetrics(),
		registry: relay.NewRegistry(),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}

	tracer := monitor.NewTracer()
	s.orch = interactive.New(
		evaluator.New(cfg.EvaluatorConfig()),
		s.registry,
		interactive.Config{Timeout: cfg.Executor.Timeout},
		s.metrics,
		tracer,
		logger,
	)

	// === DATABASE ===
	if cfg.AuthEnabled() {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
			s.Close()
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		db, err := sqliteRepo.New(cfg.Storage.DBPath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("opening database: %w", err)
		}
		s.db = db
	} else {
		logger.Warn("JWT secret not set, accounts and saved scripts are disabled")
	}

	// === DOCKER ===
	if cfg.Docker.Enabled {
		runner, err := docker.New(ctx, cfg.DockerRunnerConfig(), s.metrics, tracer, logger)
		if err != nil {
			logger.Warn("Docker runner unavailable, /run will return 503",
				slog.String("error", err.Error()),
			)
		} else {
			s.runner = runner
		}
	}

	// === NOTIFICATIONS ===
	s.visits = s.newDispatcher(cfg.Notify.VisitWebhookURL)
	s.contacts = s.newDispatcher(cfg.Notify.ContactWebhookURL)

	if err := s.setupRoutes(); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

func (s *Server) newDispatcher(url string) *notify.Async {
	if url == "" {
		return nil
	}
	n := s.config.Notify
	sink := notify.NewWebhook(notify.WebhookConfig{
		URL:     url,
		Rate:    n.Rate,
		Burst:   n.Burst,
		Timeout: n.Timeout,
	}, s.metrics, s.logger)
	return notify.NewAsync(sink, n.QueueSize, s.logger).WithDrainTimeout(s.config.Server.ShutdownTimeout)
}

// Handler returns the root handler: the router wrapped so every request
// opens a server span that execution spans nest under.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "pyrelay",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                 → liveness, DB reachability
//	GET    /metrics                 → Prometheus
//	POST   /execute                 → interactive run, blocks across input()
//	POST   /input                   → feed a line to a waiting run
//	POST   /run                     → batch run in a container
//	GET    /ws/execute              → streaming interactive run
//	POST   /api/contact             → contact form → webhook
//	/auth/*, /api/me, /api/scripts  → only when a JWT secret is configured
//	GET    /*                       → static files, if a directory is configured
//
// Middleware order: RequestID first so every log line has an ID, RealIP
// before anything that keys on the client address, Recoverer inside Logger
// so a recovered panic is still logged as a 500.
func (s *Server) setupRoutes() error {
	r := s.router
	logger := s.logger

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TrackVisits(s.visits))

	// === Operational ===
	var pinger handler.Pinger
	if s.db != nil {
		pinger = s.db
	}
	health := handler.NewHealthHandler(pinger, s.registry, s.runner != nil)
	r.Get("/healthz", health.HandleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	// === Auth ===
	var tokens *auth.TokenService
	if s.config.AuthEnabled() {
		var err error
		tokens, err = auth.NewTokenService(s.config.Auth.JWTSecret)
		if err != nil {
			return fmt.Errorf("creating token service: %w", err)
		}
		tokens = tokens.WithTTL(s.config.Auth.TokenTTL)
	}

	// === Execution ===
	var runner executor.Runner
	if s.runner != nil {
		runner = s.runner
	}
	execH := handler.NewExecuteHandler(s.orch, logger)
	runH := handler.NewRunHandler(runner, logger)
	streamH := handler.NewStreamHandler(s.orch, s.config.Server.AllowedOrigins, logger)

	// /input stays outside the limiter: a value refused with 429 would never
	// reach the waiting program.
	r.Post("/input", execH.HandleInput)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.baseCtx, "execute", s.config.Executor.RateLimit, s.config.Executor.RateBurst, s.metrics))
		if tokens != nil {
			r.Use(auth.OptionalAuth(tokens))
		}
		r.Post("/execute", execH.HandleExecute)
		r.Post("/run", runH.HandleRun)
		r.Get("/ws/execute", streamH.HandleStream)
	})

	contactH := handler.NewContactHandler(s.contacts, logger)

	// === Accounts and saved scripts ===
	var authH *handler.AuthHandler
	var scriptH *handler.ScriptHandler
	if tokens != nil {
		var github *auth.GitHubProvider
		if s.config.GitHubEnabled() {
			github = auth.NewGitHubProvider(
				s.config.Auth.GitHubClientID,
				s.config.Auth.GitHubClientSecret,
				s.config.Auth.GitHubCallbackURL,
			)
		} else {
			logger.Info("GitHub OAuth not configured")
		}

		authService := service.NewAuthService(s.db, tokens, auth.NewPasswordService(), logger)
		authH = handler.NewAuthHandler(authService, github, s.config.Server.SecureCookies, logger)
		scriptH = handler.NewScriptHandler(service.NewScriptService(s.db, logger), logger)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authH.HandleRegister)
			r.Post("/login", authH.HandleLogin)
			r.Post("/logout", authH.HandleLogout)
			r.Get("/github/login", authH.HandleGitHubLogin)
			r.Get("/github/callback", authH.HandleGitHubCallback)
		})
	}

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RateLimit(s.baseCtx, "contact", contactRate, contactBurst, s.metrics)).
			Post("/contact", contactH.HandleContact)

		if tokens == nil {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", authH.HandleMe)
			r.Get("/scripts", scriptH.HandleList)
			r.Post("/scripts", scriptH.HandleCreate)
			r.Get("/scripts/{id}", scriptH.HandleGet)
			r.Put("/scripts/{id}", scriptH.HandleUpdate)
			r.Delete("/scripts/{id}", scriptH.HandleDelete)
		})
	})

	// === Static files ===
	if dir := s.config.Server.StaticDir; dir != "" {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("static dir %q is not a directory", dir)
		}
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}

	return nil
}

// Start serves until ctx is cancelled, then shuts down gracefully and
// releases every resource the Server owns.
//
// WriteTimeout stays zero: a POST /execute is open for as long as the program
// waits for input, and Executor.Timeout is what bounds it.
func (s *Server) Start(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
	}
	// Hijacked WebSocket connections are not tracked by Shutdown; cancelling
	// the base context is what ends them.
	srv.RegisterOnShutdown(s.cancel)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Server.Port)),
			slog.Bool("accounts", s.db != nil),
			slog.Bool("docker", s.runner != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Close releases everything the Server owns. Safe to call more than once.
func (s *Server) Close() {
	s.cancel()
	s.registry.Close()

	if s.visits != nil {
		s.visits.Close()
	}
	if s.contacts != nil {
		s.contacts.Close()
	}
	if s.runner != nil {
		if err := s.runner.Close(); err != nil {
			s.logger.Warn("closing Docker runner", slog.String("error", err.Error()))
		}
		s.runner = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("closing database", slog.String("error", err.Error()))
		}
		s.db = nil
	}
}
