package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"backtester/internal/config"
	"backtester/internal/database"
	"backtester/internal/logger"
)

// 后端名称
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

const bootPingTimeout = 3 * time.Second

// Open 按配置打开持久化后端并包上内存降级；memory 后端直接返回内存存储。
// 持久化后端启动时不可达也照样接入，写入先落到内存，恢复后由 Fallback 自动切回。
func Open(ctx context.Context, cfg *config.Config, observer Observer, log logger.Logger) (Store, *Memory, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	memory := NewMemory()

	var primary Store
	switch strings.ToLower(cfg.Store.Backend) {
	case BackendRedis:
		primary = NewRedis(cfg.Redis, cfg.Store.JobTTL)
	case BackendPostgres:
		db, err := database.Open(cfg.Database)
		if err != nil {
			return memory, memory, err
		}
		primary = newMigratedPostgres(db, log)
	case BackendMemory, "":
		log.Info("Using in-memory job store")
		return memory, memory, nil
	default:
		return memory, memory, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	pingCtx, cancel := context.WithTimeout(ctx, bootPingTimeout)
	defer cancel()
	if err := primary.Ping(pingCtx); err != nil {
		log.Warn("Job store unreachable at startup, writes go to memory until it recovers",
			logger.FieldStore, primary.Name(), "error", err)
	} else {
		log.Info("Job store ready", logger.FieldStore, primary.Name())
	}
	return NewFallback(primary, memory, observer, log), memory, nil
}

// migratedPostgres 首次连通时执行迁移，迁移成功前的操作都返回错误
type migratedPostgres struct {
	*Postgres
	db      *database.DB
	migrate func(ctx context.Context) error
	log     logger.Logger

	mu       sync.Mutex
	migrated bool
}

func newMigratedPostgres(db *database.DB, log logger.Logger) *migratedPostgres {
	return &migratedPostgres{
		Postgres: NewPostgres(db.DB),
		db:       db,
		log:      log,
		migrate: func(ctx context.Context) error {
			if err := db.HealthCheck(ctx); err != nil {
				return err
			}
			migrator, err := database.NewMigrator(db.DB, log)
			if err != nil {
				return err
			}
			return migrator.Up()
		},
	}
}

func (m *migratedPostgres) ensure(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.migrated {
		return nil
	}
	if err := m.migrate(ctx); err != nil {
		return fmt.Errorf("postgres not migrated: %w", err)
	}
	m.migrated = true
	m.log.Info("Postgres job store migrated")
	return nil
}

func (m *migratedPostgres) SetFields(ctx context.Context, id string, fields map[string]string) error {
	if err := m.ensure(ctx); err != nil {
		return err
	}
	return m.Postgres.SetFields(ctx, id, fields)
}

func (m *migratedPostgres) Get(ctx context.Context, id string) (map[string]string, error) {
	if err := m.ensure(ctx); err != nil {
		return nil, err
	}
	return m.Postgres.Get(ctx, id)
}

func (m *migratedPostgres) Recent(ctx context.Context, limit int) ([]map[string]string, error) {
	if err := m.ensure(ctx); err != nil {
		return nil, err
	}
	return m.Postgres.Recent(ctx, limit)
}

func (m *migratedPostgres) Ping(ctx context.Context) error {
	if err := m.ensure(ctx); err != nil {
		return err
	}
	return m.Postgres.Ping(ctx)
}

func (m *migratedPostgres) Close() error {
	return m.db.Close()
}
