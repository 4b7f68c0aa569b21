package portfolio

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"backtester/internal/errors"
	"backtester/internal/market"
)

// Cadence 再平衡频率
type Cadence string

const (
	Daily     Cadence = "daily"
	Weekly    Cadence = "weekly"
	Monthly   Cadence = "monthly"
	Quarterly Cadence = "quarterly"
	Yearly    Cadence = "yearly"
)

var cadenceDays = map[Cadence]int{
	Daily:     1,
	Weekly:    7,
	Monthly:   30,
	Quarterly: 90,
	Yearly:    365,
}

// Days 频率对应的自然日数，未知频率按季度处理
func (c Cadence) Days() int {
	if d, ok := cadenceDays[Cadence(strings.ToLower(string(c)))]; ok {
		return d
	}
	return cadenceDays[Quarterly]
}

// Valid 是否为已知频率
func (c Cadence) Valid() bool {
	_, ok := cadenceDays[Cadence(strings.ToLower(string(c)))]
	return ok
}

// Allocation 目标权重，Weight 为百分比
type Allocation struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
}

// Config 组合回测配置
type Config struct {
	Allocations    []Allocation `json:"allocations"`
	InitialCapital float64      `json:"initial_capital"`
	Cadence        Cadence      `json:"cadence"`
	FeeRate        float64      `json:"fee_rate"`
	SlippageRate   float64      `json:"slippage_rate"`
}

// RebalanceEvent 再平衡记录
type RebalanceEvent struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
	Fee   float64   `json:"fee"`
}

// Result 组合回测结果
type Result struct {
	Equity     []market.EquityPoint `json:"equity"`
	Events     []RebalanceEvent     `json:"events"`
	TotalFees  float64              `json:"total_fees"`
	FinalValue float64              `json:"final_value"`
}

// Aligned 按日期对齐后的收盘价矩阵
type Aligned struct {
	Dates   []time.Time
	Symbols []string
	Closes  map[string][]float64
}

// Len 行数
func (a *Aligned) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Dates)
}

func insufficient(format string, args ...interface{}) error {
	return errors.NewAppError(errors.ErrCodeDataInsufficient, fmt.Sprintf(format, args...), nil)
}

// Align 截取各标的共同区间，取日期并集并前向填充，仍有缺失的行被丢弃
func Align(series map[string]*market.AssetSeries, symbols []string) (*Aligned, error) {
	if len(symbols) == 0 {
		return nil, insufficient("No assets to align")
	}

	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		if seen[sym] {
			return nil, insufficient("Duplicate asset %s in portfolio", sym)
		}
		seen[sym] = true
	}

	var windowStart, windowEnd time.Time
	for i, sym := range symbols {
		s := series[sym]
		if s.Empty() {
			return nil, insufficient("Insufficient or invalid data for %s", sym)
		}
		if i == 0 || s.First().After(windowStart) {
			windowStart = s.First()
		}
		if i == 0 || s.Last().Before(windowEnd) {
			windowEnd = s.Last()
		}
	}
	if windowStart.After(windowEnd) {
		return nil, insufficient("Assets have no overlapping date range")
	}

	dateSet := make(map[time.Time]struct{})
	for _, sym := range symbols {
		for _, p := range series[sym].Prices {
			if !p.Date.Before(windowStart) && !p.Date.After(windowEnd) {
				dateSet[p.Date] = struct{}{}
			}
		}
	}
	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	// 前向填充：取每个日期当天或之前最近的收盘价
	filled := make(map[string][]float64, len(symbols))
	valid := make([]bool, len(dates))
	for i := range valid {
		valid[i] = true
	}
	for _, sym := range symbols {
		prices := series[sym].Prices
		col := make([]float64, len(dates))
		j := 0
		last := 0.0
		have := false
		for i, d := range dates {
			for j < len(prices) && !prices[j].Date.After(d) {
				last = prices[j].Close
				have = true
				j++
			}
			if !have {
				valid[i] = false
				continue
			}
			col[i] = last
		}
		filled[sym] = col
	}

	aligned := &Aligned{Symbols: append([]string(nil), symbols...), Closes: make(map[string][]float64, len(symbols))}
	for i, d := range dates {
		if !valid[i] {
			continue
		}
		aligned.Dates = append(aligned.Dates, d)
		for _, sym := range symbols {
			aligned.Closes[sym] = append(aligned.Closes[sym], filled[sym][i])
		}
	}
	if aligned.Len() == 0 {
		return nil, insufficient("No overlapping data after alignment")
	}
	return aligned, nil
}

// Simulate 按固定权重计算组合净值，并按频率记录再平衡事件
func Simulate(aligned *Aligned, cfg Config) (*Result, error) {
	if aligned.Len() == 0 {
		return nil, insufficient("No aligned data to simulate")
	}
	for _, a := range cfg.Allocations {
		if _, ok := aligned.Closes[a.Symbol]; !ok {
			return nil, insufficient("Insufficient or invalid data for %s", a.Symbol)
		}
	}

	n := aligned.Len()
	values := make([]float64, n)
	values[0] = cfg.InitialCapital

	interval := cfg.Cadence.Days()
	lastRebalance := aligned.Dates[0]
	result := &Result{}

	for i := 1; i < n; i++ {
		r := 0.0
		for _, a := range cfg.Allocations {
			closes := aligned.Closes[a.Symbol]
			if closes[i-1] > 0 {
				r += a.Weight / 100 * (closes[i]/closes[i-1] - 1)
			}
		}
		values[i] = values[i-1] * (1 + r)

		date := aligned.Dates[i]
		if int(date.Sub(lastRebalance).Hours()/24) >= interval {
			fee := values[i] * cfg.FeeRate / 100
			result.Events = append(result.Events, RebalanceEvent{Date: date, Value: values[i], Fee: fee})
			result.TotalFees += fee
			lastRebalance = date
		}
	}

	result.Equity = market.NewEquityCurve(aligned.Dates, values)
	result.FinalValue = values[n-1]
	return result, nil
}
