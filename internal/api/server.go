// Package api is the HTTP serving layer. It reads cached records, asks the
// scheduler for a refresh on a miss and never runs a fetch itself.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/JanSparnaaij/ScoritoOdds/internal/accounts"
	"github.com/JanSparnaaij/ScoritoOdds/internal/orchestrator"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/config"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/metrics"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/storage"
)

// Catalog is the read side of the static tables. *config.Tables implements it.
type Catalog interface {
	Source(key string) (models.SourceDescriptor, bool)
	SourcesFor(sport models.Sport) []models.SourceDescriptor
	DefaultSource(sport models.Sport) (models.SourceDescriptor, bool)
	CyclingSet(key string) ([]models.CyclingRace, bool)
	CyclingSetKeys() []string
}

// Refresher enqueues background refreshes. *orchestrator.Scheduler implements it.
type Refresher interface {
	Trigger(ctx context.Context, sourceKey string) (orchestrator.TriggerResult, error)
	TriggerCycling(ctx context.Context, set string) (orchestrator.TriggerResult, error)
	// InProgress reports whether a refresh is queued or running.
	InProgress(ctx context.Context, sourceKey string) (bool, error)
	CyclingInProgress(ctx context.Context, set string) (bool, error)
}

// Check is a named dependency probe run by /health.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Deps struct {
	Catalog   Catalog
	Cache     storage.Cache
	Refresher Refresher
	Accounts  *accounts.Service
	Sessions  *accounts.Sessions
	Metrics   *metrics.Recorder
	Checks    []Check
	Logger    *slog.Logger
}

type Server struct {
	deps          Deps
	logger        *slog.Logger
	secureCookies bool
}

// NewRouter wires every route behind the shared middleware stack.
func NewRouter(cfg config.HTTPConfig, deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{deps: deps, logger: deps.Logger, secureCookies: cfg.SecureCookies}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(timeout))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/ping", s.handlePing)
	r.Get("/health", s.handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/me", s.handleMe)
		r.Get("/cycling/startlist", s.handleStartlist)
		r.Get("/{sport}/leagues", s.handleLeagues)
		r.Get("/{sport}/matches", s.handleMatches)
		r.Post("/{sport}/refresh", s.handleRefresh)
	})

	return r
}

// Run serves handler on cfg.Addr until ctx is cancelled.
func Run(ctx context.Context, cfg config.HTTPConfig, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("HTTP server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"request_id", chimiddleware.GetReqID(r.Context()),
				"duration", time.Since(start))
		})
	}
}
