package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"tally/internal/shared/config"
)

// StartServer creates the HTTP server and starts it in a goroutine.
// TLS terminates at the gateway, so the server itself speaks plain HTTP.
func StartServer(handler http.Handler, cfg *config.Config) *http.Server {
	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	return srv
}

// GracefulShutdown stops the HTTP server and the background workers in
// dependency order: the server first so webhooks stop submitting jobs,
// then the poller, then the pool drains what it already accepted.
func GracefulShutdown(srv *http.Server, deps *Dependencies, telemetryShutdown func(context.Context) error, timeout time.Duration) {
	log.Info().Msg("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error shutting down HTTP server")
	}

	deps.Poller.Shutdown(timeout)
	deps.Pool.ShutdownWithTimeout(timeout)
	deps.Listener.Stop()

	if telemetryShutdown != nil {
		if err := telemetryShutdown(ctx); err != nil {
			log.Error().Err(err).Msg("error shutting down telemetry")
		}
	}

	log.Info().Msg("server stopped")
}
