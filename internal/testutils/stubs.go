package testutils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"backtester/internal/market"
)

// StubProvider 可控的数据源替身
type StubProvider struct {
	ProviderName string
	Series       map[string]*market.AssetSeries
	Err          error
	Delay        time.Duration

	calls atomic.Int64
	mu    sync.Mutex
	seen  []string
}

// NewStubProvider 创建数据源替身
func NewStubProvider(name string, series ...*market.AssetSeries) *StubProvider {
	p := &StubProvider{ProviderName: name, Series: make(map[string]*market.AssetSeries)}
	for _, s := range series {
		p.Series[s.Symbol] = s
	}
	return p
}

func (p *StubProvider) Name() string { return p.ProviderName }

// Fetch 返回预置序列在 [start, end] 内的部分，未预置的标的返回空序列
func (p *StubProvider) Fetch(ctx context.Context, symbol string, start, end time.Time) (*market.AssetSeries, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.seen = append(p.seen, symbol)
	p.mu.Unlock()

	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.Err != nil {
		return nil, p.Err
	}
	s, ok := p.Series[symbol]
	if !ok {
		return market.EmptySeries(symbol), nil
	}
	return market.NewAssetSeries(symbol, p.ProviderName, s.Prices, start, end), nil
}

// Calls 调用次数
func (p *StubProvider) Calls() int {
	return int(p.calls.Load())
}

// Symbols 被请求过的标的
func (p *StubProvider) Symbols() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.seen))
	copy(out, p.seen)
	return out
}

// ErrStoreDown 替身存储返回的错误
var ErrStoreDown = errors.New("store unavailable")

// FailingStore 所有操作都失败的存储替身
type FailingStore struct {
	Writes atomic.Int64
}

func (s *FailingStore) Name() string { return "failing" }

func (s *FailingStore) SetFields(ctx context.Context, id string, fields map[string]string) error {
	s.Writes.Add(1)
	return ErrStoreDown
}

func (s *FailingStore) Get(ctx context.Context, id string) (map[string]string, error) {
	return nil, ErrStoreDown
}

func (s *FailingStore) Recent(ctx context.Context, limit int) ([]map[string]string, error) {
	return nil, ErrStoreDown
}

func (s *FailingStore) Ping(ctx context.Context) error { return ErrStoreDown }

func (s *FailingStore) Close() error { return nil }
