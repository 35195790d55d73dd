package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"evoting-core/api"
	"evoting-core/config"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "evoting: %v\n", err)
		os.Exit(2)
	}
	log.Logger = cfg.Logger(os.Stderr, false)

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing storage")
		}
	}()

	votingService, err := cfg.VotingService(store)
	if err != nil {
		return err
	}

	log.Info().
		Str("storage", cfg.StorageDriver).
		Int("key_bits", cfg.KeyBits).
		Int("tally_workers", cfg.TallyWorkers).
		Msg("Voting service initialized")

	server := api.NewServer(votingService, log.Logger)
	return server.Start(ctx, fmt.Sprintf(":%d", cfg.Port), cfg.ShutdownGrace)
}
