// Command checkoutd serves the checkout backend: session creation,
// payment verification and the Stripe webhook.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/CedrosPay/checkout/pkg/cedros"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config (environment overrides apply)")
	envFile := flag.String("env", ".env", "dotenv file loaded before config; missing file is ignored")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatal().Err(err).Str("file", *envFile).Msg("server.env_load_failed")
	}

	cfg, err := cedros.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("server.config_invalid")
	}

	app, err := cedros.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("server.init_failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		_ = app.Close()
		if err != nil {
			log.Fatal().Err(err).Msg("server.listen_failed")
		}
		return
	case <-ctx.Done():
	}

	log.Info().Msg("server.shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server.shutdown_failed")
		os.Exit(1)
	}
	log.Info().Msg("server.stopped")
}
