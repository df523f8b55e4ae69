package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config selects and configures a session store backend.
type Config struct {
	Type     StoreType      `yaml:"type" json:"type"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

// DefaultConfig returns the memory backend with sensible redis defaults
// filled in for when the type is switched.
func DefaultConfig() Config {
	return Config{
		Type: StoreTypeMemory,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "loanflow:session:",
			TTL:       24 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "loanflow.db",
		},
	}
}

// New builds a Store from configuration.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(logger), nil
	case StoreTypeRedis:
		return NewRedisStore(ctx, cfg.Redis, logger)
	case StoreTypeDatabase:
		return NewGormStore(cfg.Database, logger)
	default:
		return nil, fmt.Errorf("unknown session store type: %s", cfg.Type)
	}
}
