package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banbox/banexg"
	"github.com/banbox/banexg/bex"
	"github.com/banbox/banexg/errs"

	"backtester/internal/logger"
	"backtester/internal/market"
)

const (
	binanceTimeframe = "1d"
	binancePageLimit = 1000
	dayMillis        = int64(24 * time.Hour / time.Millisecond)
)

// ohlcvSource banexg.BanExchange 中用到的部分
type ohlcvSource interface {
	FetchOHLCV(symbol, timeframe string, since int64, limit int, params map[string]interface{}) ([]*banexg.Kline, *errs.Error)
}

// Binance 通过 banexg 拉取现货日线，只处理 BASE/QUOTE 形式的交易对
type Binance struct {
	exchange    ohlcvSource
	loadMarkets func() error
	mu          sync.Mutex
	loaded      bool
	log         logger.Logger
}

// BinanceOptions Binance 配置
type BinanceOptions struct {
	APIKey    string
	APISecret string
	Logger    logger.Logger
}

// NewBinance 创建 Binance 数据源
func NewBinance(opts BinanceOptions) (*Binance, error) {
	options := map[string]interface{}{
		banexg.OptMarketType: banexg.MarketSpot,
	}
	if opts.APIKey != "" {
		options[banexg.OptApiKey] = opts.APIKey
		options[banexg.OptApiSecret] = opts.APISecret
	}

	exg, err := bex.New("binance", options)
	if err != nil {
		return nil, fmt.Errorf("failed to create banexg exchange: %w", err)
	}

	p := newBinanceWithSource(exg, opts.Logger)
	p.loadMarkets = func() error {
		if _, err := exg.LoadMarkets(false, nil); err != nil {
			return fmt.Errorf("failed to load markets: %w", err)
		}
		return nil
	}
	return p, nil
}

func newBinanceWithSource(src ohlcvSource, log logger.Logger) *Binance {
	return &Binance{
		exchange:    src,
		loadMarkets: func() error { return nil },
		log:         loggerOr(log).WithField(logger.FieldProvider, "binance"),
	}
}

func (p *Binance) Name() string { return "binance" }

// ensureMarkets 加载市场信息，只有成功后才不再重试
func (p *Binance) ensureMarkets() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}
	if err := p.loadMarkets(); err != nil {
		p.log.Warn("Binance markets not loaded, will retry on next fetch", "error", err)
		return err
	}
	p.loaded = true
	return nil
}

// Supports 只接受 BTC/USDT 这类交易对
func (p *Binance) Supports(symbol string) bool {
	return strings.Contains(symbol, "/")
}

// Fetch 按页拉取 [start, end] 的日 K 线
func (p *Binance) Fetch(ctx context.Context, symbol string, start, end time.Time) (*market.AssetSeries, error) {
	if err := p.ensureMarkets(); err != nil {
		return nil, err
	}

	since := market.NormalizeDate(start).UnixMilli()
	until := market.NormalizeDate(end).UnixMilli()
	var points []market.PricePoint

	for since <= until {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		klines, fetchErr := p.exchange.FetchOHLCV(symbol, binanceTimeframe, since, binancePageLimit, nil)
		if fetchErr != nil {
			return nil, fmt.Errorf("binance FetchOHLCV %s: %w", symbol, fetchErr)
		}
		if len(klines) == 0 {
			break
		}

		last := since
		for _, k := range klines {
			if k == nil {
				continue
			}
			if k.Time > last {
				last = k.Time
			}
			if k.Close <= 0 {
				p.log.Debug("Skipping invalid kline", logger.FieldSymbol, symbol, "time", k.Time)
				continue
			}
			points = append(points, market.PricePoint{
				Date:   time.UnixMilli(k.Time).UTC(),
				Open:   k.Open,
				High:   k.High,
				Low:    k.Low,
				Close:  k.Close,
				Volume: k.Volume,
			})
		}

		if len(klines) < binancePageLimit {
			break
		}
		since = last + dayMillis
	}

	return market.NewAssetSeries(symbol, p.Name(), points, start, end), nil
}
