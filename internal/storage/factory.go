package storage

import (
	"fmt"

	"github.com/eternity-ar/arcoord/internal/config"
	"github.com/eternity-ar/arcoord/internal/database"
	gormstorage "github.com/eternity-ar/arcoord/internal/storage/gorm"
	"github.com/eternity-ar/arcoord/internal/storage/memory"
	redisstorage "github.com/eternity-ar/arcoord/internal/storage/redis"
	"github.com/rs/zerolog"
)

// NewBackend creates a storage backend based on configuration. The caller
// must call Init before use.
func NewBackend(cfg config.StorageConfig, log zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		db, err := database.OpenPostgres(cfg.Postgres.DSN(), log)
		if err != nil {
			return nil, fmt.Errorf("postgres backend: %w", err)
		}
		return gormstorage.New(gormstorage.Dependencies{DB: db, Logger: log}), nil
	case "sqlite":
		db, err := database.OpenSqlite(cfg.SQLite.Path, log)
		if err != nil {
			return nil, fmt.Errorf("sqlite backend: %w", err)
		}
		return gormstorage.New(gormstorage.Dependencies{DB: db, Logger: log}), nil
	case "redis":
		return redisstorage.New(redisstorage.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}), nil
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
