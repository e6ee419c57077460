package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/spatial-filter/internal/core/config"
	"github.com/mohammed-shakir/spatial-filter/internal/core/health"
	middleware "github.com/mohammed-shakir/spatial-filter/internal/core/middleware"
	"github.com/mohammed-shakir/spatial-filter/internal/core/router"
)

type Options struct {
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	Checks  []health.Check
}

// NewHandler assembles middleware, probes and the API.
func NewHandler(logger *slog.Logger, api *router.API, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(opts.Checks...))
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	api.Mount(r)
	return r
}

// sets up http and serves until ctx is done
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, api *router.API, opts Options) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(logger, api, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
