package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"backtester/internal/config"
)

const (
	redisKeyPrefix = "backtest:job:"
	redisIndexKey  = "backtest:jobs:by_created"
)

// Redis 每个任务一个 hash，另有按 created_at 排序的 ZSET 索引
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis 创建 Redis 存储，连接在首次命令时建立，ttl 为 0 表示记录不过期
func NewRedis(cfg config.RedisConfig, ttl time.Duration) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return NewRedisWithClient(client, ttl)
}

// NewRedisWithClient 使用已有客户端
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Name() string { return "redis" }

func jobKey(id string) string {
	return redisKeyPrefix + id
}

// indexScore 索引分数取 created_at 的毫秒数，缺失时用 now
func indexScore(fields map[string]string, now time.Time) float64 {
	t := Timestamp(fields, FieldCreatedAt)
	if t.IsZero() {
		t = now
	}
	return float64(t.UnixMilli())
}

func hashArgs(fields map[string]string) []interface{} {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// SetFields HSET 合并字段并维护索引
func (r *Redis) SetFields(ctx context.Context, id string, fields map[string]string) error {
	key := jobKey(id)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, hashArgs(fields)...)
		if _, ok := fields[FieldCreatedAt]; ok {
			pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: indexScore(fields, time.Now()), Member: id})
		}
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return fields, nil
}

// Recent 按索引倒序读取，已过期的 hash 会从索引中移除
func (r *Redis) Recent(ctx context.Context, limit int) ([]map[string]string, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := r.client.ZRevRange(ctx, redisIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history: %w", err)
	}
	if len(ids) == 0 {
		return []map[string]string{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, jobKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis history: %w", err)
	}

	out := make([]map[string]string, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, fields)
	}
	if len(stale) > 0 {
		r.client.ZRem(ctx, redisIndexKey, stale...)
	}
	return out, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
