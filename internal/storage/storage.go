// Package storage opens the token store a goSession.StorageConfig names,
// including the backends that need a live connection.
package storage

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/tokens"
)

// Store is a token store plus whatever connection backs it.
type Store struct {
	tokens.Store
	close func() error
}

// Close releases the backing connection.
func (s *Store) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// Open builds the store cfg selects. Redis is pinged before returning.
func Open(ctx context.Context, cfg goSession.StorageConfig) (*Store, error) {
	switch cfg.Backend {
	case "", goSession.StorageMemory:
		return &Store{Store: tokens.NewMemoryStore()}, nil

	case goSession.StorageFile:
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("storage: file backend needs a path")
		}
		return &Store{Store: tokens.NewFileStore(cfg.FilePath)}, nil

	case goSession.StorageRedis:
		return openRedis(ctx, cfg)

	case goSession.StorageSQL:
		return openSQL(cfg)
	}
	return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
}

func openRedis(ctx context.Context, cfg goSession.StorageConfig) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("storage: redis ping %s: %w", cfg.Redis.Addr, err)
	}
	return &Store{
		Store: tokens.NewRedisStore(rdb, cfg.Key, cfg.TTL),
		close: rdb.Close,
	}, nil
}

func openSQL(cfg goSession.StorageConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.SQL.Driver {
	case "", "sqlite":
		dsn := cfg.SQL.DSN
		if dsn == "" {
			dsn = "file:gosession.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.SQL.DSN)
	default:
		return nil, fmt.Errorf("storage: unknown sql driver %q", cfg.SQL.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", cfg.SQL.Driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if cfg.SQL.Driver != "postgres" {
		// sqlite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}

	store, err := tokens.NewSQLStore(db, cfg.Key)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &Store{Store: store, close: sqlDB.Close}, nil
}
