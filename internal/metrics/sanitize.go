package metrics

import (
	"math"

	"backtester/internal/market"
)

// SentinelInf 无穷值替换值
const SentinelInf = 999999

// Sanitize NaN 转 0，±Inf 转 ±999999
func Sanitize(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case math.IsInf(x, 1):
		return SentinelInf
	case math.IsInf(x, -1):
		return -SentinelInf
	}
	return x
}

// Sanitized 返回清洗后的副本
func (b Bundle) Sanitized() Bundle {
	for _, f := range []*float64{
		&b.TotalReturn, &b.AnnualizedReturn, &b.Volatility, &b.SharpeRatio, &b.SortinoRatio,
		&b.CalmarRatio, &b.MaxDrawdown, &b.VaR95, &b.CVaR95, &b.WinRate, &b.ProfitFactor,
		&b.AvgWin, &b.AvgLoss, &b.BestMonth, &b.WorstMonth,
	} {
		*f = Sanitize(*f)
	}
	return b
}

// Sanitized 返回清洗后的副本
func (c *BenchmarkComparison) Sanitized() *BenchmarkComparison {
	if c == nil {
		return nil
	}
	out := *c
	for _, f := range []*float64{
		&out.BenchmarkTotalReturn, &out.BenchmarkVolatility, &out.BenchmarkSharpe,
		&out.BenchmarkMaxDrawdown, &out.Alpha, &out.Beta, &out.Correlation, &out.TrackingError,
	} {
		*f = Sanitize(*f)
	}
	return &out
}

// SanitizeCurve 清洗权益曲线
func SanitizeCurve(curve []market.EquityPoint) []market.EquityPoint {
	out := make([]market.EquityPoint, len(curve))
	for i, p := range curve {
		p.Value = Sanitize(p.Value)
		p.DrawdownPct = Sanitize(p.DrawdownPct)
		out[i] = p
	}
	return out
}
