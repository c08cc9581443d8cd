// Package server exposes the runner and the editor API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/vk/snippetrunner/internal/compiler"
	"github.com/vk/snippetrunner/internal/editor"
	"github.com/vk/snippetrunner/internal/render"
	"github.com/vk/snippetrunner/internal/store"
)

// Config holds the HTTP surface settings.
type Config struct {
	// ExpectedOrigin is the only origin heartbeat sockets accept messages
	// from.
	ExpectedOrigin string
	// RunnerURL and ReturnURL are used when a heartbeat socket does not
	// carry them in its query string.
	RunnerURL string
	ReturnURL string

	HeartbeatInterval time.Duration

	// RateLimit is the sustained rate of /compile and /run requests per
	// second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Deps are the collaborators the server routes to.
type Deps struct {
	// Medium may be shared with Editor; each heartbeat session forks its own
	// handle so that editor writes reach it as notifications.
	Medium   store.Medium
	Editor   *editor.Service
	Compiler *compiler.Compiler
	Renderer *render.Renderer
	Logger   *slog.Logger
}

// Server is the HTTP surface.
type Server struct {
	cfg      Config
	medium   store.Medium
	editor   *editor.Service
	compiler *compiler.Compiler
	renderer *render.Renderer
	logger   *slog.Logger
	limiter  *rate.Limiter
	router   *chi.Mux
}

// New builds the router.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Medium == nil || deps.Editor == nil || deps.Compiler == nil || deps.Renderer == nil {
		return nil, errors.New("server: medium, editor, compiler and renderer are required")
	}
	if cfg.ExpectedOrigin == "" {
		return nil, errors.New("server: an expected origin is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		medium:   deps.Medium,
		editor:   deps.Editor,
		compiler: deps.Compiler,
		renderer: deps.Renderer,
		logger:   deps.Logger.With("component", "server"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/compile", s.handleCompile)
		r.Get("/run", s.handleRun)
	})
	r.Get("/heartbeat/ws", s.handleHeartbeat)

	r.Route("/api/snippets/{host}", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Post("/import", s.handleImport)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Put("/", s.handleSave)
			r.Delete("/", s.handleDelete)
			r.Post("/open", s.handleOpen)
			r.Get("/export", s.handleExport)
		})
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("🚀 Runner server starting", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("runner server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("Shutting down runner server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("runner server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request served.",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
