package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"backtester/internal/cache"
	"backtester/internal/logger"
	"backtester/internal/market"
	"backtester/internal/stability"
)

// BreakerSettings 每个数据源的熔断参数
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// ChainOptions Chain 的可选依赖，全部可为空
type ChainOptions struct {
	Limiter  *stability.RateLimiter
	Cache    *cache.SeriesCache
	Observer Observer
	Breaker  BreakerSettings
	Logger   logger.Logger
}

type guardedProvider struct {
	Provider
	breaker *gobreaker.CircuitBreaker
}

// Chain 按注册顺序依次尝试数据源，第一个返回非空序列的胜出
type Chain struct {
	mu        sync.RWMutex
	providers []*guardedProvider
	opts      ChainOptions
	log       logger.Logger
}

// NewChain 创建数据源链
func NewChain(opts ChainOptions) *Chain {
	if opts.Breaker.ConsecutiveFailures == 0 {
		opts.Breaker.ConsecutiveFailures = 5
	}
	if opts.Breaker.Timeout == 0 {
		opts.Breaker.Timeout = 30 * time.Second
	}
	return &Chain{opts: opts, log: loggerOr(opts.Logger)}
}

// Register 追加数据源到链尾
func (c *Chain) Register(p Provider) {
	threshold := c.opts.Breaker.ConsecutiveFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: c.opts.Breaker.MaxRequests,
		Interval:    c.opts.Breaker.Interval,
		Timeout:     c.opts.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("Provider circuit breaker state changed",
				logger.FieldProvider, name, "from", from.String(), "to", to.String())
		},
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = append(c.providers, &guardedProvider{Provider: p, breaker: breaker})
}

// Providers 返回已注册数据源名称(按优先级)
func (c *Chain) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// BreakerStates 各数据源熔断器状态，用于健康检查
func (c *Chain) BreakerStates() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	states := make(map[string]string, len(c.providers))
	for _, p := range c.providers {
		states[p.Name()] = p.breaker.State().String()
	}
	return states
}

func (c *Chain) snapshot() []*guardedProvider {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*guardedProvider, len(c.providers))
	copy(out, c.providers)
	return out
}

// FetchSymbol 依次尝试各数据源；全部失败时返回零数据点序列而不是错误
func (c *Chain) FetchSymbol(ctx context.Context, symbol string, start, end time.Time) *market.AssetSeries {
	if cached, ok := c.opts.Cache.Get(symbol, start, end); ok {
		c.log.Debug("Series cache hit", logger.FieldSymbol, symbol)
		return cached
	}

	for _, p := range c.snapshot() {
		if filter, ok := p.Provider.(SymbolFilter); ok && !filter.Supports(symbol) {
			continue
		}

		series, err := c.attempt(ctx, p, symbol, start, end)
		if err != nil {
			c.log.Warn("Provider failed", logger.FieldProvider, p.Name(), logger.FieldSymbol, symbol, "error", err)
			continue
		}
		if series.Empty() {
			c.log.Info("Provider returned no data", logger.FieldProvider, p.Name(), logger.FieldSymbol, symbol)
			continue
		}

		if err := c.opts.Cache.Set(symbol, start, end, series); err != nil {
			c.log.Debug("Failed to cache series", logger.FieldSymbol, symbol, "error", err)
		}
		return series
	}

	c.log.Error("All providers failed", logger.FieldSymbol, symbol)
	return market.EmptySeries(symbol)
}

func (c *Chain) attempt(ctx context.Context, p *guardedProvider, symbol string, start, end time.Time) (series *market.AssetSeries, err error) {
	began := time.Now()
	outcome := OutcomeError
	defer func() {
		if c.opts.Observer != nil {
			c.opts.Observer.ObserveProviderFetch(p.Name(), outcome, time.Since(began))
		}
	}()

	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx, p.Name(), stability.RateLimiterTypeProvider); err != nil {
			outcome = OutcomeRateLimited
			return nil, err
		}
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.Fetch(ctx, symbol, start, end)
	})
	if err != nil {
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = OutcomeBreakerOpen
		}
		return nil, err
	}

	fetched, ok := result.(*market.AssetSeries)
	if !ok || fetched == nil {
		return nil, fmt.Errorf("%s returned no series", p.Name())
	}

	// 统一过滤、排序并标记来源
	series = market.NewAssetSeries(symbol, p.Name(), fetched.Prices, start, end)
	if series.Empty() {
		outcome = OutcomeEmpty
	} else {
		outcome = OutcomeSuccess
	}
	return series, nil
}

// Fetch 并发拉取多个标的，每个标的一个 goroutine；重复标的只拉一次
func (c *Chain) Fetch(ctx context.Context, symbols []string, start, end time.Time) map[string]*market.AssetSeries {
	results := make(map[string]*market.AssetSeries, len(symbols))
	var mu sync.Mutex
	var g errgroup.Group

	seen := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}

		symbol := symbol
		g.Go(func() error {
			series := c.FetchSymbol(ctx, symbol, start, end)
			mu.Lock()
			results[symbol] = series
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// FetchBenchmark 拉取基准数据，false 表示无数据
func (c *Chain) FetchBenchmark(ctx context.Context, symbol string, start, end time.Time) (*market.AssetSeries, bool) {
	if symbol == "" {
		return nil, false
	}
	series := c.FetchSymbol(ctx, symbol, start, end)
	if series.Empty() {
		return nil, false
	}
	return series, true
}
