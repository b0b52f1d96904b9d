package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"inkpost.org/internal/auth"
	"inkpost.org/internal/config"
	"inkpost.org/internal/httpapi"
	"inkpost.org/internal/store/memory"
	"inkpost.org/internal/store/mongodb"
	"inkpost.org/internal/store/pg"
)

// userStore bundles the configured backend with its health check, id format
// and cleanup. A nil validID keeps the API default.
type userStore struct {
	store   auth.UserStore
	pinger  httpapi.Pinger
	validID func(string) bool
	close   func()
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*userStore, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory user store; accounts are lost on restart")
		return &userStore{store: memory.New(), close: func() {}}, nil

	case config.BackendPostgres:
		s, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return &userStore{
			store:  s,
			pinger: s,
			close: func() {
				if err := s.Close(); err != nil {
					logger.Warn("close postgres", zap.Error(err))
				}
			},
		}, nil

	case config.BackendMongo:
		s, err := mongodb.Open(ctx, cfg.MongoURI, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open mongodb: %w", err)
		}
		return &userStore{
			store:   s,
			pinger:  s,
			validID: mongodb.ValidID,
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := s.Close(ctx); err != nil {
					logger.Warn("close mongodb", zap.Error(err))
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
