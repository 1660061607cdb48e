package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"tally/internal/shared/config"
	"tally/internal/shared/logger"
	"tally/internal/shared/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log.Logger = logger.New(cfg.Log.Level, cfg.Log.Pretty)

	var telemetryShutdown func(context.Context) error
	if cfg.Telemetry.Enabled {
		telemetryShutdown, err = telemetry.Init(context.Background(), telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Telemetry.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
		})
		if err != nil {
			return err
		}
	}

	deps, err := NewDependencies(cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	if err := deps.DB.Migrate("file://db/migrations", cfg.Database.DBName); err != nil {
		return err
	}

	// Workers come up before the server so webhook and poll jobs have
	// somewhere to go from the first request on.
	deps.Pool.Start()
	deps.Listener.Start(context.Background())
	if cfg.Sync.Enabled {
		deps.Poller.Start()
	} else {
		log.Info().Msg("scheduled sync is disabled")
	}

	handler := SetupRoutes(deps, cfg)
	srv := StartServer(handler, cfg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	GracefulShutdown(srv, deps, telemetryShutdown, 30*time.Second)
	return nil
}
