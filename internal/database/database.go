package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"backtester/internal/config"
	"backtester/internal/logger"
)

// DB 数据库连接
type DB struct {
	*sql.DB
	config config.DatabaseConfig
}

// PoolStats 连接池统计
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

const (
	defaultMaxOpen         = 25
	defaultMaxIdle         = 5
	defaultTimeout         = 5 * time.Second
	defaultConnMaxLifetime = time.Hour
	defaultConnMaxIdleTime = 15 * time.Minute
	pingAttempts           = 3
)

// Open 只配置连接池，不建立连接
func Open(cfg config.DatabaseConfig) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = defaultMaxOpen
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = defaultMaxIdle
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)
	return &DB{DB: db, config: cfg}, nil
}

// NewConnection 打开连接池并带重试地 ping
func NewConnection(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*DB, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	conn, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	db, cfg := conn.DB, conn.config

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var pingErr error
	for i := 0; i < pingAttempts; i++ {
		if pingErr = db.PingContext(pingCtx); pingErr == nil {
			break
		}
		log.Warn("Database ping failed", "attempt", i+1, "max", pingAttempts, "error", pingErr)
		if i < pingAttempts-1 {
			select {
			case <-time.After(time.Second * time.Duration(i+1)):
			case <-pingCtx.Done():
			}
		}
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %s@%s:%d after %d attempts: %w",
			cfg.DBName, cfg.Host, cfg.Port, pingAttempts, pingErr)
	}

	log.Info("Database connection established",
		"host", cfg.Host, "dbname", cfg.DBName, "max_open", cfg.MaxOpen, "max_idle", cfg.MaxIdle)
	return conn, nil
}

// HealthCheck 检查连接
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// GetPoolStats 当前连接池统计
func (db *DB) GetPoolStats() PoolStats {
	s := db.Stats()
	return PoolStats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}
