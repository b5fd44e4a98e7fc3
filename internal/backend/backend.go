// Package backend opens the store selected by STORAGE.
package backend

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-shop-orders/internal/config"
	"github.com/ariefcatur/go-shop-orders/internal/memstore"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/postgres"
	"go.uber.org/zap"
)

// Store is everything the commands need from a backend.
type Store interface {
	orders.Store
	GetProduct(ctx context.Context, id int64) (orders.Product, error)
	EnsureProduct(ctx context.Context, p orders.Product) (orders.Product, error)
}

var (
	_ Store = (*postgres.Store)(nil)
	_ Store = (*memstore.Store)(nil)
)

// Open returns the configured store and a func releasing it.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (Store, func(), error) {
	switch cfg.Storage {
	case config.StorageMemory:
		log.Warn("using in-memory storage; data is lost on exit")
		return memstore.New(), func() {}, nil
	case config.StoragePostgres:
		pool, err := postgres.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, log)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Postgres.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
			log.Info("schema migrated")
		}
		return &postgres.Store{DB: pool}, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}
