// Command dispatchd is the delivery-dispatch core's process entrypoint: it
// wires the Order Store, the ephemeral Dispatch State Store, the Dispatch
// Engine, and the HTTP surface together, then serves until shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/localbite-davis/dispatch-core/internal/agentfeed"
	"github.com/localbite-davis/dispatch-core/internal/bidservice"
	"github.com/localbite-davis/dispatch-core/internal/config"
	"github.com/localbite-davis/dispatch-core/internal/dispatch"
	"github.com/localbite-davis/dispatch-core/internal/dispatchstate"
	"github.com/localbite-davis/dispatch-core/internal/fulfillment"
	"github.com/localbite-davis/dispatch-core/internal/httpapi"
	"github.com/localbite-davis/dispatch-core/internal/store"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("version", version).Msg("dispatchd starting")

	orderStore, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize order store")
	}

	dispatchState, err := dispatchstate.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize dispatch state store")
	}

	bids := bidservice.New(orderStore, dispatchState)
	engine := dispatch.New(orderStore, dispatchState, bids, dispatch.Params{
		Phase1WaitMin: cfg.Dispatch.Phase1WaitMin,
		Phase1WaitMax: cfg.Dispatch.Phase1WaitMax,
		Phase2Wait:    cfg.Dispatch.Phase2Wait,
		PollInterval:  cfg.Dispatch.PollInterval,
		RollingClose:  cfg.Dispatch.RollingClose,
	})
	feed := agentfeed.New(orderStore, dispatchState, bids)
	ledger := fulfillment.New(orderStore)

	api := httpapi.New(orderStore, dispatchState, bids, engine, feed, ledger)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}

		engine.Shutdown()
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Fatal().Err(err).Msg("dispatchd exited with error")
	}

	log.Info().Msg("dispatchd stopped")
}
