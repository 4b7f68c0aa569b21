package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNewAssetSeriesFiltersSortsAndDedupes(t *testing.T) {
	points := []PricePoint{
		{Date: day(2024, 1, 5), Close: 5},
		{Date: day(2024, 1, 2).Add(15 * time.Hour), Close: 2},
		{Date: day(2024, 1, 3), Close: 3},
		{Date: day(2024, 1, 3), Close: 33},
		{Date: day(2023, 12, 29), Close: 1},
		{Date: day(2024, 1, 9), Close: 9},
	}

	s := NewAssetSeries("AAPL", "test", points, day(2024, 1, 1), day(2024, 1, 5))

	require.Equal(t, 3, s.Len())
	assert.Equal(t, []float64{2, 3, 5}, s.Closes())
	assert.Equal(t, day(2024, 1, 2), s.First())
	assert.Equal(t, day(2024, 1, 5), s.Last())
}

func TestAccessorsReturnCopies(t *testing.T) {
	s := NewAssetSeries("X", "test", []PricePoint{{Date: day(2024, 1, 2), Close: 10}}, time.Time{}, time.Time{})

	closes := s.Closes()
	closes[0] = 99

	assert.Equal(t, 10.0, s.Prices[0].Close)
}

func TestEmptySeries(t *testing.T) {
	s := EmptySeries("NONE")
	assert.True(t, s.Empty())
	assert.True(t, s.First().IsZero())

	var nilSeries *AssetSeries
	assert.Equal(t, 0, nilSeries.Len())
}

func TestNewEquityCurveDrawdown(t *testing.T) {
	dates := []time.Time{day(2024, 1, 1), day(2024, 1, 2), day(2024, 1, 3), day(2024, 1, 4)}
	curve := NewEquityCurve(dates, []float64{100, 120, 90, 130})

	require.Len(t, curve, 4)
	assert.Equal(t, 0.0, curve[0].DrawdownPct)
	assert.Equal(t, 0.0, curve[1].DrawdownPct)
	assert.InDelta(t, -25.0, curve[2].DrawdownPct, 1e-9)
	assert.Equal(t, 0.0, curve[3].DrawdownPct)
	for _, p := range curve {
		assert.LessOrEqual(t, p.DrawdownPct, 0.0)
	}
}

func TestNewEquityCurveFromBasis(t *testing.T) {
	dates := []time.Time{day(2024, 1, 1), day(2024, 1, 2), day(2024, 1, 3), day(2024, 1, 4)}
	// 首点是扣费前的资金，峰值从扣费后的 99.8 起算
	curve := NewEquityCurveFrom(dates, []float64{100, 99.85, 99.9, 100.5}, 99.8)

	require.Len(t, curve, 4)
	assert.Equal(t, 100.0, curve[0].Value)
	for _, p := range curve {
		assert.Equal(t, 0.0, p.DrawdownPct)
	}

	curve = NewEquityCurveFrom(dates, []float64{100, 99.9, 89.91, 100.5}, 99.8)
	assert.InDelta(t, -10.0, curve[2].DrawdownPct, 1e-9)
}
