package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

const (
	upsertJobSQL = `
INSERT INTO backtest_jobs (id, fields, created_at, updated_at)
VALUES ($1, $2::jsonb, $3, $4)
ON CONFLICT (id) DO UPDATE
SET fields = backtest_jobs.fields || EXCLUDED.fields,
    updated_at = EXCLUDED.updated_at`

	selectJobSQL = `SELECT fields FROM backtest_jobs WHERE id = $1`

	recentJobsSQL = `SELECT fields FROM backtest_jobs ORDER BY created_at DESC LIMIT $1`
)

// Postgres backtest_jobs 表，字段存为 JSONB 并以合并方式 upsert
type Postgres struct {
	db *sql.DB
}

// NewPostgres 使用已迁移的连接池
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Name() string { return "postgres" }

func encodeFields(fields map[string]string) ([]byte, error) {
	return json.Marshal(fields)
}

func decodeFields(raw []byte) (map[string]string, error) {
	fields := make(map[string]string)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// rowTimes 从字段中取行的 created_at 和 updated_at
func rowTimes(fields map[string]string, now time.Time) (time.Time, time.Time) {
	created := Timestamp(fields, FieldCreatedAt)
	if created.IsZero() {
		created = now
	}
	updated := Timestamp(fields, FieldUpdatedAt)
	if updated.IsZero() {
		updated = now
	}
	return created, updated
}

func (p *Postgres) SetFields(ctx context.Context, id string, fields map[string]string) error {
	raw, err := encodeFields(fields)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", id, err)
	}
	created, updated := rowTimes(fields, time.Now().UTC())
	if _, err := p.db.ExecContext(ctx, upsertJobSQL, id, string(raw), created, updated); err != nil {
		return fmt.Errorf("postgres set %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (map[string]string, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, selectJobSQL, id).Scan(&raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %s: %w", id, err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return fields, nil
}

func (p *Postgres) Recent(ctx context.Context, limit int) ([]map[string]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.db.QueryContext(ctx, recentJobsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres history: %w", err)
	}
	defer rows.Close()

	out := make([]map[string]string, 0, limit)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres history scan: %w", err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("postgres history decode: %w", err)
		}
		out = append(out, fields)
	}
	return out, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close 连接池由调用方管理
func (p *Postgres) Close() error { return nil }
