package testutils

import (
	"math"
	"math/rand"
	"time"

	"backtester/internal/market"
)

// Day 返回UTC零点日期
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// SeriesFromCloses 从收盘价生成连续自然日序列
func SeriesFromCloses(symbol string, start time.Time, closes []float64) *market.AssetSeries {
	points := make([]market.PricePoint, len(closes))
	for i, c := range closes {
		points[i] = market.PricePoint{
			Date:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c * 1.005,
			Low:    c * 0.995,
			Close:  c,
			Volume: 1000000,
		}
	}
	return market.NewAssetSeries(symbol, "test", points, time.Time{}, time.Time{})
}

// LinearCloses 从 from 到 to 线性变化的 n 个价格
func LinearCloses(n int, from, to float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		if n == 1 {
			closes[i] = from
			continue
		}
		closes[i] = from + (to-from)*float64(i)/float64(n-1)
	}
	return closes
}

// RisingSeries 线性上涨序列
func RisingSeries(symbol string, start time.Time, n int, from, to float64) *market.AssetSeries {
	return SeriesFromCloses(symbol, start, LinearCloses(n, from, to))
}

// FlatSeries 价格不变的序列
func FlatSeries(symbol string, start time.Time, n int, price float64) *market.AssetSeries {
	return SeriesFromCloses(symbol, start, LinearCloses(n, price, price))
}

// RandomWalk 固定种子的随机游走，单日涨跌幅不超过 vol
func RandomWalk(symbol string, start time.Time, n int, startPrice, vol float64, seed int64) *market.AssetSeries {
	rng := rand.New(rand.NewSource(seed))
	closes := make([]float64, n)
	price := startPrice
	for i := range closes {
		if i > 0 {
			price *= 1 + (rng.Float64()*2-1)*vol
			price = math.Max(price, 0.01)
		}
		closes[i] = price
	}
	return SeriesFromCloses(symbol, start, closes)
}

// Oscillating 围绕 mid 以 amplitude 振荡的正弦序列，period 为周期天数
func Oscillating(symbol string, start time.Time, n int, mid, amplitude float64, period int) *market.AssetSeries {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = mid + amplitude*math.Sin(2*math.Pi*float64(i)/float64(period))
	}
	return SeriesFromCloses(symbol, start, closes)
}
