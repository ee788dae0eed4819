// Command facilitator runs the x402 payment facilitator as a standalone
// HTTP service: config in, chain registry/verifier/settlement engine/quota
// gate wired up via pkg/facilitator, graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/x402fac/facilitator/internal/logger"
	"github.com/x402fac/facilitator/pkg/facilitator"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; env vars and defaults apply otherwise)")
	flag.Parse()

	// Best-effort: a missing .env is normal in production where env vars
	// come from the deployment platform instead.
	_ = godotenv.Load()

	cfg, err := facilitator.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("facilitator: load config")
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "x402-facilitator",
		Environment: cfg.Logging.Environment,
	})

	app, err := facilitator.NewApp(cfg)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("facilitator: build app")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	go func() {
		appLogger.Info().Str("addr", cfg.Server.Address).Msg("facilitator: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal().Err(err).Msg("facilitator: serve")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	appLogger.Info().Msg("facilitator: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("facilitator: http shutdown")
	}
	if err := app.Close(); err != nil {
		appLogger.Error().Err(err).Msg("facilitator: resource cleanup")
	}

	os.Exit(0)
}
