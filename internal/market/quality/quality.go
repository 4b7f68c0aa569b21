package quality

import (
	"fmt"
	"math"
	"strings"

	"backtester/internal/errors"
	"backtester/internal/market"
)

// DefaultMinDataPoints 默认最少数据点
const DefaultMinDataPoints = 50

const (
	maxGapDays     = 7
	maxDailyRange  = 0.5
	maxDailyReturn = 0.5
	hoursPerDay    = 24
)

// IssueKind 质量问题类型
type IssueKind string

const (
	IssueInsufficientData IssueKind = "insufficient_data"
	IssueDataGap          IssueKind = "data_gap"
	IssueInvalidPrice     IssueKind = "invalid_price"
	IssueExtremeMove      IssueKind = "extreme_move"
)

// Issue 一条质量问题
type Issue struct {
	Kind        IssueKind `json:"kind"`
	Description string    `json:"description"`
	Count       int       `json:"count"`
}

// Report 质量检查结果
type Report struct {
	Symbol     string  `json:"symbol"`
	DataPoints int     `json:"data_points"`
	Valid      bool    `json:"valid"`
	Issues     []Issue `json:"issues"`
}

// Warnings 问题描述列表
func (r *Report) Warnings() []string {
	out := make([]string, 0, len(r.Issues))
	for _, issue := range r.Issues {
		out = append(out, issue.Description)
	}
	return out
}

// Inspect 对序列做质量检查，只有数据点不足会使序列无效
func Inspect(series *market.AssetSeries, minPoints int) *Report {
	if minPoints <= 0 {
		minPoints = DefaultMinDataPoints
	}
	symbol := ""
	if series != nil {
		symbol = series.Symbol
	}

	n := series.Len()
	report := &Report{Symbol: symbol, DataPoints: n, Valid: n >= minPoints}

	if n < minPoints {
		report.Issues = append(report.Issues, Issue{
			Kind:        IssueInsufficientData,
			Description: fmt.Sprintf("Insufficient data points for %s: %d < %d", symbol, n, minPoints),
			Count:       n,
		})
	}
	if n == 0 {
		return report
	}

	prices := series.Prices
	for i := 1; i < n; i++ {
		gap := int(prices[i].Date.Sub(prices[i-1].Date).Hours() / hoursPerDay)
		if gap > maxGapDays {
			report.Issues = append(report.Issues, Issue{
				Kind: IssueDataGap,
				Description: fmt.Sprintf("Data gap detected for %s: %d days between %s and %s",
					symbol, gap, prices[i-1].Date.Format("2006-01-02"), prices[i].Date.Format("2006-01-02")),
				Count: gap,
			})
		}
	}

	invalid := 0
	extreme := 0
	for _, p := range prices {
		if p.Close <= 0 || p.Open <= 0 {
			invalid++
		}
		if p.High > 0 && p.Low > 0 && (p.High-p.Low)/p.Low > maxDailyRange {
			extreme++
		}
	}
	if invalid > 0 {
		report.Issues = append(report.Issues, Issue{
			Kind:        IssueInvalidPrice,
			Description: fmt.Sprintf("Invalid price data detected for %s: %d data points", symbol, invalid),
			Count:       invalid,
		})
	}
	if extreme > 0 {
		report.Issues = append(report.Issues, Issue{
			Kind:        IssueExtremeMove,
			Description: fmt.Sprintf("Extreme price movements detected for %s on %d days", symbol, extreme),
			Count:       extreme,
		})
	}

	return report
}

// Validate 返回 (是否可用, 警告列表)
func Validate(series *market.AssetSeries, minPoints int) (bool, []string) {
	report := Inspect(series, minPoints)
	return report.Valid, report.Warnings()
}

// Preflight 模拟前的严格检查，任何问题都拒绝该序列
func Preflight(series *market.AssetSeries) error {
	symbol := ""
	if series != nil {
		symbol = series.Symbol
	}

	var issues []string
	if series.Empty() {
		issues = append(issues, fmt.Sprintf("No data available for %s", symbol))
	} else {
		badClose := false
		extreme := false
		for i, p := range series.Prices {
			if p.Close <= 0 || math.IsNaN(p.Close) || math.IsInf(p.Close, 0) {
				badClose = true
				continue
			}
			if i == 0 {
				continue
			}
			prev := series.Prices[i-1].Close
			if prev > 0 && !math.IsInf(prev, 0) && math.Abs(p.Close/prev-1) > maxDailyReturn {
				extreme = true
			}
		}
		if badClose {
			issues = append(issues, fmt.Sprintf("Invalid prices (<=0) detected in %s", symbol))
		}
		if extreme {
			issues = append(issues, fmt.Sprintf("Extreme price movements (>50%%) detected in %s", symbol))
		}
	}

	if len(issues) == 0 {
		return nil
	}
	return errors.NewAppError(errors.ErrCodeMarketDataInvalid,
		fmt.Sprintf("Data quality issues for %s: %s", symbol, strings.Join(issues, ", ")), nil).
		WithContext("symbol", symbol)
}
