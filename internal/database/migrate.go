package database

import (
	"database/sql"
	"embed"
	stderrors "errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"backtester/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator 任务表的 schema 迁移
type Migrator struct {
	migrate *migrate.Migrate
	log     logger.Logger
}

// NewMigrator 基于内嵌 SQL 创建迁移器
func NewMigrator(db *sql.DB, log logger.Logger) (*Migrator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Migrator{migrate: m, log: log}, nil
}

// Up 执行全部未应用的迁移
func (m *Migrator) Up() error {
	if err := m.migrate.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	m.log.Info("Database migrations completed")
	return nil
}

// Down 回滚全部迁移
func (m *Migrator) Down() error {
	if err := m.migrate.Down(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}
	m.log.Info("Database migrations rolled back")
	return nil
}

// Version 当前版本，未迁移时返回 0
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force 强制设置版本，用于修复 dirty 状态
func (m *Migrator) Force(version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force migration version: %w", err)
	}
	m.log.Warn("Forced migration version", "version", version)
	return nil
}

// Close 释放迁移器，不关闭传入的连接池之外的资源
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	if srcErr != nil {
		return fmt.Errorf("failed to close migration source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close migration driver: %w", dbErr)
	}
	return nil
}
