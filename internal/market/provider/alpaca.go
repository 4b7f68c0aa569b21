package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"backtester/internal/logger"
	"backtester/internal/market"
)

// barsClient marketdata.Client 中用到的部分
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// Alpaca Alpaca market data 日线数据源，仅覆盖美股
type Alpaca struct {
	client barsClient
	feed   marketdata.Feed
	log    logger.Logger
}

// AlpacaOptions Alpaca 配置
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Feed      string // iex 或 sip
	Logger    logger.Logger
}

// NewAlpaca 创建 Alpaca 数据源
func NewAlpaca(opts AlpacaOptions) *Alpaca {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.BaseURL != "" {
		clientOpts.BaseURL = opts.BaseURL
	}
	return newAlpacaWithClient(marketdata.NewClient(clientOpts), opts.Feed, opts.Logger)
}

func newAlpacaWithClient(client barsClient, feed string, log logger.Logger) *Alpaca {
	if feed == "" {
		feed = "iex"
	}
	return &Alpaca{
		client: client,
		feed:   marketdata.Feed(feed),
		log:    loggerOr(log).WithField(logger.FieldProvider, "alpaca"),
	}
}

func (p *Alpaca) Name() string { return "alpaca" }

// Supports 加密货币交易对不走 Alpaca 股票接口
func (p *Alpaca) Supports(symbol string) bool {
	return !strings.Contains(symbol, "/")
}

// Fetch 拉取日线，SDK 调用不支持 context，取消时提前返回
func (p *Alpaca) Fetch(ctx context.Context, symbol string, start, end time.Time) (*market.AssetSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bars, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     market.NormalizeDate(start),
		End:       market.NormalizeDate(end).AddDate(0, 0, 1),
		Feed:      p.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca GetBars: %w", err)
	}

	points := make([]market.PricePoint, 0, len(bars))
	for _, bar := range bars {
		if bar.Close <= 0 {
			p.log.Debug("Skipping invalid data point", logger.FieldSymbol, symbol, "timestamp", bar.Timestamp)
			continue
		}
		points = append(points, market.PricePoint{
			Date:   bar.Timestamp,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: float64(bar.Volume),
		})
	}

	return market.NewAssetSeries(symbol, p.Name(), points, start, end), nil
}
