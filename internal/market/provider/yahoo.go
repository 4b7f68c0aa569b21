package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"backtester/internal/logger"
	"backtester/internal/market"
)

const yahooDefaultBase = "https://query1.finance.yahoo.com"

// Yahoo Yahoo Finance 公共 chart 接口
type Yahoo struct {
	client    *resty.Client
	symbolMap map[string]string
	log       logger.Logger
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []interface{} `json:"open"`
					High   []interface{} `json:"high"`
					Low    []interface{} `json:"low"`
					Close  []interface{} `json:"close"`
					Volume []interface{} `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []interface{} `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// NewYahoo 创建 Yahoo 数据源
func NewYahoo(opts HTTPOptions) *Yahoo {
	return &Yahoo{
		client: newHTTPClient(opts, yahooDefaultBase),
		symbolMap: map[string]string{
			"SPX":    "^GSPC",
			"SP500":  "^GSPC",
			"SPX500": "^GSPC",
		},
		log: loggerOr(opts.Logger).WithField(logger.FieldProvider, "yahoo"),
	}
}

func (p *Yahoo) Name() string { return "yahoo" }

func (p *Yahoo) yahooSymbol(symbol string) string {
	if mapped, ok := p.symbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// at 取可空数组中的第 i 个值
func at(values []interface{}, i int) (float64, bool) {
	if i >= len(values) || values[i] == nil {
		return 0, false
	}
	switch n := values[i].(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Fetch 拉取 [start, end] 的日线，period2 取 end 次日零点以包含 end 当天
func (p *Yahoo) Fetch(ctx context.Context, symbol string, start, end time.Time) (*market.AssetSeries, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"period1":  strconv.FormatInt(market.NormalizeDate(start).Unix(), 10),
			"period2":  strconv.FormatInt(market.NormalizeDate(end).AddDate(0, 0, 1).Unix(), 10),
			"interval": "1d",
		}).
		Get("/v8/finance/chart/" + url.PathEscape(p.yahooSymbol(symbol)))
	if err := checkResponse("yahoo", resp, err); err != nil {
		return nil, err
	}

	var chart yahooChart
	if err := json.Unmarshal(resp.Body(), &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo: no result in response")
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo: no quote indicators in response")
	}
	quote := result.Indicators.Quote[0]
	var adjCloses []interface{}
	if len(result.Indicators.AdjClose) > 0 {
		adjCloses = result.Indicators.AdjClose[0].AdjClose
	}

	points := make([]market.PricePoint, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o, okO := at(quote.Open, i)
		h, okH := at(quote.High, i)
		l, okL := at(quote.Low, i)
		c, okC := at(quote.Close, i)
		if !okO && !okH && !okL && !okC {
			continue // 停牌日等空 bar
		}
		if !okC || c == 0 {
			p.log.Debug("Skipping bar without close", logger.FieldSymbol, symbol, "timestamp", ts)
			continue
		}
		v, _ := at(quote.Volume, i)
		point := market.PricePoint{
			Date:   time.Unix(ts, 0).UTC(),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: v,
		}
		if adj, ok := at(adjCloses, i); ok {
			point.AdjustedClose = floatPtr(adj)
		}
		points = append(points, point)
	}

	return market.NewAssetSeries(symbol, p.Name(), points, start, end), nil
}
