package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/lockstep-games/lockstep/internal/store/server"
)

// Services groups everything the store server wires together.
type Services struct {
	Store     *server.Service
	publisher *server.NATSPublisher
}

func setupServices(ctx context.Context, cfg StoreConfig) (*Services, error) {
	var repo server.Repository
	if cfg.DatabaseURL != "" {
		pool, err := setupDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		pg := server.NewPostgresRepository(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		repo = pg
	} else {
		log.Warn().Msg("no DATABASE_URL configured, using in-memory repository")
		repo = server.NewMemoryRepository()
	}

	services := &Services{}
	var publisher server.Publisher = server.NopPublisher{}
	if cfg.NATSURL != "" {
		natsPublisher, err := server.NewNATSPublisher(cfg.NATSURL, cfg.EventSubject)
		if err != nil {
			return nil, err
		}
		services.publisher = natsPublisher
		publisher = natsPublisher
		log.Info().Str("subject", cfg.EventSubject).Msg("session event publishing enabled")
	}

	services.Store = server.NewService(repo, publisher)
	return services, nil
}

// Close releases service resources.
func (s *Services) Close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
}
