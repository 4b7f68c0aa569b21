package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"backtester/internal/logger"
	"backtester/internal/market"
)

const fmpDefaultBase = "https://financialmodelingprep.com/api/v3"

// FMP Financial Modeling Prep 日线数据源
type FMP struct {
	client *resty.Client
	apiKey string
	log    logger.Logger
}

type fmpResponse struct {
	Symbol       string            `json:"symbol"`
	Historical   []json.RawMessage `json:"historical"`
	ErrorMessage string            `json:"Error Message"`
}

type fmpBar struct {
	Date     string    `json:"date"`
	Open     flexFloat `json:"open"`
	High     flexFloat `json:"high"`
	Low      flexFloat `json:"low"`
	Close    flexFloat `json:"close"`
	AdjClose flexFloat `json:"adjClose"`
	Volume   flexFloat `json:"volume"`
}

// NewFMP 创建 FMP 数据源
func NewFMP(opts HTTPOptions) *FMP {
	return &FMP{
		client: newHTTPClient(opts, fmpDefaultBase),
		apiKey: opts.APIKey,
		log:    loggerOr(opts.Logger).WithField(logger.FieldProvider, "fmp"),
	}
}

func (p *FMP) Name() string { return "fmp" }

// Fetch 拉取日线，FMP 返回的 historical 按日期倒序
func (p *FMP) Fetch(ctx context.Context, symbol string, start, end time.Time) (*market.AssetSeries, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"apikey": p.apiKey,
			"from":   start.Format(dateLayout),
			"to":     end.Format(dateLayout),
		}).
		Get("/historical-price-full/" + url.PathEscape(symbol))
	if err := checkResponse("fmp", resp, err); err != nil {
		return nil, err
	}

	var payload fmpResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("fmp decode: %w", err)
	}
	if payload.ErrorMessage != "" {
		return nil, fmt.Errorf("fmp error: %s", payload.ErrorMessage)
	}
	if payload.Historical == nil {
		return nil, fmt.Errorf("fmp: no historical data in response")
	}

	points := make([]market.PricePoint, 0, len(payload.Historical))
	for i := len(payload.Historical) - 1; i >= 0; i-- {
		point, err := parseFMPBar(payload.Historical[i])
		if err != nil {
			p.log.Debug("Skipping invalid data point", logger.FieldSymbol, symbol, "error", err)
			continue
		}
		points = append(points, point)
	}

	return market.NewAssetSeries(symbol, p.Name(), points, start, end), nil
}

func parseFMPBar(raw json.RawMessage) (market.PricePoint, error) {
	var bar fmpBar
	if err := json.Unmarshal(raw, &bar); err != nil {
		return market.PricePoint{}, err
	}
	date, err := parseDate(bar.Date)
	if err != nil {
		return market.PricePoint{}, fmt.Errorf("bad date %q: %w", bar.Date, err)
	}
	if err := ohlc(bar.Open, bar.High, bar.Low, bar.Close); err != nil {
		return market.PricePoint{}, err
	}

	adj := bar.Close.value
	if bar.AdjClose.valid() {
		adj = bar.AdjClose.value
	}
	return market.PricePoint{
		Date:          date,
		Open:          bar.Open.value,
		High:          bar.High.value,
		Low:           bar.Low.value,
		Close:         bar.Close.value,
		Volume:        bar.Volume.value,
		AdjustedClose: floatPtr(adj),
	}, nil
}
