package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"backtester/internal/logger"
	"backtester/internal/market"
)

const alphaVantageDefaultBase = "https://www.alphavantage.co/query"

// AlphaVantage Alpha Vantage 日线数据源
type AlphaVantage struct {
	client *resty.Client
	apiKey string
	log    logger.Logger
}

type alphaVantageBar struct {
	Open          flexFloat `json:"1. open"`
	High          flexFloat `json:"2. high"`
	Low           flexFloat `json:"3. low"`
	Close         flexFloat `json:"4. close"`
	AdjustedClose flexFloat `json:"5. adjusted close"`
	Volume        flexFloat `json:"6. volume"`
}

// NewAlphaVantage 创建 Alpha Vantage 数据源
func NewAlphaVantage(opts HTTPOptions) *AlphaVantage {
	return &AlphaVantage{
		client: newHTTPClient(opts, alphaVantageDefaultBase),
		apiKey: opts.APIKey,
		log:    loggerOr(opts.Logger).WithField(logger.FieldProvider, "alpha_vantage"),
	}
}

func (p *AlphaVantage) Name() string { return "alpha_vantage" }

// Fetch 拉取全量日线后在本地按日期过滤
func (p *AlphaVantage) Fetch(ctx context.Context, symbol string, start, end time.Time) (*market.AssetSeries, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"function":   "TIME_SERIES_DAILY_ADJUSTED",
			"symbol":     symbol,
			"apikey":     p.apiKey,
			"outputsize": "full",
		}).
		Get("")
	if err := checkResponse("alpha_vantage", resp, err); err != nil {
		return nil, err
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("alpha_vantage decode: %w", err)
	}
	for _, key := range []string{"Error Message", "Note", "Information"} {
		if msg, ok := payload[key]; ok {
			var text string
			_ = json.Unmarshal(msg, &text)
			return nil, fmt.Errorf("alpha_vantage %s: %s", key, text)
		}
	}
	rawSeries, ok := payload["Time Series (Daily)"]
	if !ok {
		return nil, fmt.Errorf("alpha_vantage: no time series data in response")
	}

	var series map[string]json.RawMessage
	if err := json.Unmarshal(rawSeries, &series); err != nil {
		return nil, fmt.Errorf("alpha_vantage decode time series: %w", err)
	}

	points := make([]market.PricePoint, 0, len(series))
	for dateStr, raw := range series {
		point, err := parseAlphaVantageBar(dateStr, raw)
		if err != nil {
			p.log.Debug("Skipping invalid data point", logger.FieldSymbol, symbol, "date", dateStr, "error", err)
			continue
		}
		points = append(points, point)
	}

	return market.NewAssetSeries(symbol, p.Name(), points, start, end), nil
}

func parseAlphaVantageBar(dateStr string, raw json.RawMessage) (market.PricePoint, error) {
	date, err := parseDate(dateStr)
	if err != nil {
		return market.PricePoint{}, fmt.Errorf("bad date %q: %w", dateStr, err)
	}
	var bar alphaVantageBar
	if err := json.Unmarshal(raw, &bar); err != nil {
		return market.PricePoint{}, err
	}
	if err := ohlc(bar.Open, bar.High, bar.Low, bar.Close); err != nil {
		return market.PricePoint{}, err
	}

	point := market.PricePoint{
		Date:   date,
		Open:   bar.Open.value,
		High:   bar.High.value,
		Low:    bar.Low.value,
		Close:  bar.Close.value,
		Volume: bar.Volume.value,
	}
	if bar.AdjustedClose.valid() {
		point.AdjustedClose = floatPtr(bar.AdjustedClose.value)
	}
	return point, nil
}
