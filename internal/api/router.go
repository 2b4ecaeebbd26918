package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter wires handlers and middleware into the service router.
func NewRouter(logger *zerolog.Logger, h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer(logger))
	r.Use(logging(logger))

	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", h.handleSearch)
		r.Post("/estimate", h.handleEstimate)
		r.Post("/aggregate", h.handleAggregate)
		r.Get("/queryables", h.handleQueryables)
		r.Get("/collections", h.handleCollections)
		r.Get("/collections/{collectionID}", h.handleGetCollection)
		r.Get("/collections/{collectionID}/queryables", h.handleQueryables)
		r.Get("/collections/{collectionID}/items/{itemID}", h.handleGetItem)
	})
	return r
}

// Run serves the router until ctx is done, then drains in-flight requests.
func Run(ctx context.Context, addr string, logger *zerolog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if logger != nil {
			logger.Info().Str("addr", addr).Msg("http listen")
		}
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
