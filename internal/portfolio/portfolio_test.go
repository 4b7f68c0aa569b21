package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/errors"
	"backtester/internal/market"
	"backtester/internal/testutils"
)

var day0 = testutils.Day(2023, 1, 2)

func seriesMap(series ...*market.AssetSeries) map[string]*market.AssetSeries {
	out := make(map[string]*market.AssetSeries, len(series))
	for _, s := range series {
		out[s.Symbol] = s
	}
	return out
}

func TestCadenceDays(t *testing.T) {
	assert.Equal(t, 1, Daily.Days())
	assert.Equal(t, 7, Weekly.Days())
	assert.Equal(t, 30, Monthly.Days())
	assert.Equal(t, 90, Quarterly.Days())
	assert.Equal(t, 365, Yearly.Days())
	assert.Equal(t, 90, Cadence("").Days())
	assert.Equal(t, 90, Cadence("hourly").Days())
	assert.Equal(t, 7, Cadence("WEEKLY").Days())
	assert.False(t, Cadence("hourly").Valid())
}

func TestAlignCommonWindowAndForwardFill(t *testing.T) {
	// A 覆盖 0..9 天，B 从第 2 天开始且缺第 5 天
	a := testutils.RisingSeries("A", day0, 10, 10, 19)
	bPoints := testutils.RisingSeries("B", day0.AddDate(0, 0, 2), 10, 100, 109).Prices
	bPoints = append(bPoints[:3:3], bPoints[4:]...)
	b := market.NewAssetSeries("B", "test", bPoints, day0, day0.AddDate(0, 0, 30))

	aligned, err := Align(seriesMap(a, b), []string{"A", "B"})
	require.NoError(t, err)

	// 共同区间 [第2天, 第9天]
	require.Equal(t, 8, aligned.Len())
	assert.Equal(t, day0.AddDate(0, 0, 2), aligned.Dates[0])
	assert.Equal(t, day0.AddDate(0, 0, 9), aligned.Dates[7])

	// 第5天 B 缺失，沿用第4天的价格
	idx := 3
	assert.Equal(t, day0.AddDate(0, 0, 5), aligned.Dates[idx])
	assert.Equal(t, aligned.Closes["B"][idx-1], aligned.Closes["B"][idx])
	assert.Equal(t, 15.0, aligned.Closes["A"][idx])
}

func TestAlignErrors(t *testing.T) {
	a := testutils.FlatSeries("A", day0, 10, 10)
	late := testutils.FlatSeries("L", day0.AddDate(0, 1, 0), 10, 10)

	_, err := Align(seriesMap(a), []string{"A", "MISSING"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDataInsufficient))

	_, err = Align(seriesMap(a, late), []string{"A", "L"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDataInsufficient))

	_, err = Align(seriesMap(a), nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDataInsufficient))
}

func TestAlignRejectsDuplicateSymbols(t *testing.T) {
	a := testutils.FlatSeries("A", day0, 10, 10)

	_, err := Align(seriesMap(a), []string{"A", "A"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDataInsufficient))
	assert.Contains(t, err.Error(), "Duplicate asset A")
}

func TestSimulateFlatQuarterly(t *testing.T) {
	a := testutils.FlatSeries("A", day0, 200, 50)
	b := testutils.FlatSeries("B", day0, 200, 20)
	aligned, err := Align(seriesMap(a, b), []string{"A", "B"})
	require.NoError(t, err)

	result, err := Simulate(aligned, Config{
		Allocations:    []Allocation{{Symbol: "A", Weight: 50}, {Symbol: "B", Weight: 50}},
		InitialCapital: 100000,
		Cadence:        Quarterly,
		FeeRate:        0.1,
	})
	require.NoError(t, err)

	require.Len(t, result.Equity, 200)
	assert.Equal(t, 100000.0, result.FinalValue)
	for _, p := range result.Equity {
		assert.Equal(t, 100000.0, p.Value)
	}

	require.Len(t, result.Events, 2)
	assert.Equal(t, day0.AddDate(0, 0, 90), result.Events[0].Date)
	assert.Equal(t, day0.AddDate(0, 0, 180), result.Events[1].Date)
	sum := 0.0
	for _, e := range result.Events {
		assert.InDelta(t, 100.0, e.Fee, 1e-9)
		sum += e.Fee
	}
	assert.InDelta(t, sum, result.TotalFees, 1e-9)
}

func TestSimulateWeightedReturns(t *testing.T) {
	// A 翻倍，B 不变，60/40 组合最终收益 60%
	a := testutils.SeriesFromCloses("A", day0, []float64{10, 20})
	b := testutils.SeriesFromCloses("B", day0, []float64{5, 5})
	aligned, err := Align(seriesMap(a, b), []string{"A", "B"})
	require.NoError(t, err)

	result, err := Simulate(aligned, Config{
		Allocations:    []Allocation{{Symbol: "A", Weight: 60}, {Symbol: "B", Weight: 40}},
		InitialCapital: 1000,
		Cadence:        Daily,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1600.0, result.FinalValue, 1e-9)
	require.Len(t, result.Events, 1)
	assert.Equal(t, 0.0, result.TotalFees)
}

func TestSimulateEmpty(t *testing.T) {
	_, err := Simulate(&Aligned{}, Config{InitialCapital: 1000})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDataInsufficient))

	_, err = Simulate(nil, Config{InitialCapital: 1000})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDataInsufficient))
}
