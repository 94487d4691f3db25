// Package bootstrap wires the database and Redis connections shared by the commands.
package bootstrap

import (
	"fmt"
	"log/slog"

	"finsys/internal/cache"
	"finsys/internal/config"
	"finsys/internal/database"
	"finsys/internal/middleware"
	"finsys/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	SeedDemoData bool
}

// InitRuntime connects to the database, applies migrations and connects to
// Redis. Redis is optional and the returned client may be nil.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if opts.SeedDemoData {
		if cfg.IsProduction() {
			return nil, nil, fmt.Errorf("refusing to seed demo data in production")
		}
		reqs, err := seed.NewSeeder(db, seed.Options{MaxAmount: cfg.MaxTransactionLimit}).Run()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
		middleware.Logger.Info("Seeded demo payout requests", slog.Int("count", len(reqs)))
	}

	return db, r, nil
}
