package market

import (
	"sort"
	"time"
)

// PricePoint 单日行情
type PricePoint struct {
	Date          time.Time `json:"date"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Volume        float64   `json:"volume"`
	AdjustedClose *float64  `json:"adjusted_close,omitempty"`
}

// AssetSeries 单个标的的日线序列，按日期升序且无重复日期
type AssetSeries struct {
	Symbol string       `json:"symbol"`
	Source string       `json:"source"`
	Prices []PricePoint `json:"prices"`
}

// EquityPoint 权益曲线上的一个点
type EquityPoint struct {
	Date        time.Time `json:"date"`
	Value       float64   `json:"value"`
	DrawdownPct float64   `json:"drawdown_pct"`
}

// NormalizeDate 把时间截断到UTC零点
func NormalizeDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NewAssetSeries 过滤到 [start, end]，升序排序并按日期去重(保留排序后首个)。
// start 或 end 为零值时不做对应方向的过滤。
func NewAssetSeries(symbol, source string, points []PricePoint, start, end time.Time) *AssetSeries {
	if !start.IsZero() {
		start = NormalizeDate(start)
	}
	if !end.IsZero() {
		end = NormalizeDate(end)
	}

	filtered := make([]PricePoint, 0, len(points))
	for _, p := range points {
		p.Date = NormalizeDate(p.Date)
		if !start.IsZero() && p.Date.Before(start) {
			continue
		}
		if !end.IsZero() && p.Date.After(end) {
			continue
		}
		filtered = append(filtered, p)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Date.Before(filtered[j].Date)
	})

	prices := make([]PricePoint, 0, len(filtered))
	for _, p := range filtered {
		if n := len(prices); n > 0 && prices[n-1].Date.Equal(p.Date) {
			continue
		}
		prices = append(prices, p)
	}

	return &AssetSeries{Symbol: symbol, Source: source, Prices: prices}
}

// EmptySeries 返回零数据点的序列
func EmptySeries(symbol string) *AssetSeries {
	return &AssetSeries{Symbol: symbol, Prices: []PricePoint{}}
}

// Len 数据点数量
func (s *AssetSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Prices)
}

// Empty 是否没有数据
func (s *AssetSeries) Empty() bool {
	return s.Len() == 0
}

// Closes 收盘价副本
func (s *AssetSeries) Closes() []float64 {
	out := make([]float64, s.Len())
	for i := range out {
		out[i] = s.Prices[i].Close
	}
	return out
}

// Dates 日期副本
func (s *AssetSeries) Dates() []time.Time {
	out := make([]time.Time, s.Len())
	for i := range out {
		out[i] = s.Prices[i].Date
	}
	return out
}

// First 第一个数据点的日期
func (s *AssetSeries) First() time.Time {
	if s.Empty() {
		return time.Time{}
	}
	return s.Prices[0].Date
}

// Last 最后一个数据点的日期
func (s *AssetSeries) Last() time.Time {
	if s.Empty() {
		return time.Time{}
	}
	return s.Prices[len(s.Prices)-1].Date
}

// NewEquityCurve 根据日期和净值计算回撤，dates 与 values 等长
func NewEquityCurve(dates []time.Time, values []float64) []EquityPoint {
	if len(values) == 0 {
		return []EquityPoint{}
	}
	return NewEquityCurveFrom(dates, values, values[0])
}

// NewEquityCurveFrom 同 NewEquityCurve，但回撤峰值从 basis 起算而不是 values[0]。
// 首个点的净值保持原样，只是不参与峰值。
func NewEquityCurveFrom(dates []time.Time, values []float64, basis float64) []EquityPoint {
	n := len(values)
	if len(dates) < n {
		n = len(dates)
	}

	curve := make([]EquityPoint, n)
	peak := basis
	for i := 0; i < n; i++ {
		v := values[i]
		if i > 0 && v > peak {
			peak = v
		}
		dd := 0.0
		if peak > 0 && v < peak {
			dd = (v - peak) / peak * 100
		}
		curve[i] = EquityPoint{Date: dates[i], Value: v, DrawdownPct: dd}
	}
	return curve
}

// Values 权益值副本
func Values(curve []EquityPoint) []float64 {
	out := make([]float64, len(curve))
	for i, p := range curve {
		out[i] = p.Value
	}
	return out
}
