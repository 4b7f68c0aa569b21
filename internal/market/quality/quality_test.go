package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/errors"
	"backtester/internal/market"
)

func dailySeries(symbol string, closes ...float64) *market.AssetSeries {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]market.PricePoint, len(closes))
	for i, c := range closes {
		points[i] = market.PricePoint{
			Date:  start.AddDate(0, 0, i),
			Open:  c,
			High:  c * 1.01,
			Low:   c * 0.99,
			Close: c,
		}
	}
	return &market.AssetSeries{Symbol: symbol, Prices: points}
}

func flatCloses(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func TestValidateInsufficientData(t *testing.T) {
	ok, warnings := Validate(dailySeries("AAPL", flatCloses(10, 100)...), 0)

	assert.False(t, ok)
	require.Len(t, warnings, 1)
	assert.Equal(t, "Insufficient data points for AAPL: 10 < 50", warnings[0])
}

func TestValidateCleanSeries(t *testing.T) {
	ok, warnings := Validate(dailySeries("AAPL", flatCloses(60, 100)...), 50)

	assert.True(t, ok)
	assert.Empty(t, warnings)
}

func TestValidateAdvisoryWarningsKeepSeriesValid(t *testing.T) {
	s := dailySeries("MSFT", flatCloses(5, 100)...)
	// 10天间隔
	s.Prices[3].Date = s.Prices[2].Date.AddDate(0, 0, 10)
	s.Prices[4].Date = s.Prices[3].Date.AddDate(0, 0, 1)
	s.Prices[1].Open = 0
	s.Prices[4].High = 200
	s.Prices[4].Low = 100

	ok, warnings := Validate(s, 3)

	assert.True(t, ok)
	require.Len(t, warnings, 3)
	assert.Equal(t, "Data gap detected for MSFT: 10 days between 2024-01-03 and 2024-01-13", warnings[0])
	assert.Equal(t, "Invalid price data detected for MSFT: 1 data points", warnings[1])
	assert.Equal(t, "Extreme price movements detected for MSFT on 1 days", warnings[2])
}

func TestInspectReportsKinds(t *testing.T) {
	report := Inspect(market.EmptySeries("NONE"), 5)

	assert.False(t, report.Valid)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, IssueInsufficientData, report.Issues[0].Kind)
}

func TestPreflight(t *testing.T) {
	tests := []struct {
		name    string
		series  *market.AssetSeries
		wantErr string
	}{
		{"clean", dailySeries("A", 100, 101, 102), ""},
		{"empty", market.EmptySeries("B"), "No data available for B"},
		{"non-positive close", dailySeries("C", 100, 0, 100), "Invalid prices (<=0) detected in C"},
		{"extreme return", dailySeries("D", 100, 160), "Extreme price movements (>50%) detected in D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Preflight(tt.series)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeMarketDataInvalid))
			assert.Contains(t, err.Error(), "Data quality issues for")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
