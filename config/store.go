package config

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"evoting-core/keyvault"
	"evoting-core/service"
	"evoting-core/storage"
	"evoting-core/storage/postgres"
)

// OpenStore connects the repository selected by StorageDriver.
func (c *Config) OpenStore(ctx context.Context) (storage.Repository, error) {
	switch c.StorageDriver {
	case DriverMemory:
		log.Warn().Msg("Using in-memory storage; all data is lost on exit")
		return storage.NewMemoryStore(), nil
	case DriverJSON:
		store, err := storage.NewJSONStore(c.StorageDir)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", store.Path()).Msg("Using JSON storage")
		return store, nil
	case DriverPostgres:
		store, err := postgres.Open(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.Errorf("unknown storage driver %q", c.StorageDriver)
	}
}

// VotingService wires the key vault and the core service on top of store.
func (c *Config) VotingService(store storage.Repository) (*service.VotingService, error) {
	vault, err := keyvault.New(store, c.MasterKey, c.KDFIterations)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create key vault")
	}
	return service.NewVotingService(store, vault, service.Config{
		KeySize:      c.KeyBits,
		TallyWorkers: c.TallyWorkers,
	})
}
