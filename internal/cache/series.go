package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"

	"backtester/internal/market"
)

// SeriesCache 已拉取行情序列的进程内缓存
type SeriesCache struct {
	cache  *bigcache.BigCache
	hits   atomic.Int64
	misses atomic.Int64
}

// Stats 缓存统计
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// NewSeriesCache 创建缓存，ttl 为条目存活时间
func NewSeriesCache(ctx context.Context, ttl time.Duration) (*SeriesCache, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	config := bigcache.DefaultConfig(ttl)
	config.Shards = 64
	config.MaxEntriesInWindow = 10000
	config.MaxEntrySize = 64 * 1024
	config.Verbose = false

	bc, err := bigcache.New(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create series cache: %w", err)
	}
	return &SeriesCache{cache: bc}, nil
}

// Key 缓存键: symbol|start|end
func Key(symbol string, start, end time.Time) string {
	return fmt.Sprintf("%s|%s|%s", symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
}

// Get 读取缓存，未命中返回 (nil, false)
func (c *SeriesCache) Get(symbol string, start, end time.Time) (*market.AssetSeries, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.cache.Get(Key(symbol, start, end))
	if err != nil {
		if !stderrors.Is(err, bigcache.ErrEntryNotFound) {
			return nil, false
		}
		c.misses.Add(1)
		return nil, false
	}

	var series market.AssetSeries
	if err := json.Unmarshal(data, &series); err != nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &series, true
}

// Set 写入缓存，空序列不缓存
func (c *SeriesCache) Set(symbol string, start, end time.Time, series *market.AssetSeries) error {
	if c == nil || series.Empty() {
		return nil
	}

	data, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("failed to encode series %s: %w", symbol, err)
	}
	return c.cache.Set(Key(symbol, start, end), data)
}

// Stats 返回统计信息
func (c *SeriesCache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: c.cache.Len()}
}

// Close 关闭缓存
func (c *SeriesCache) Close() error {
	if c == nil {
		return nil
	}
	return c.cache.Close()
}
