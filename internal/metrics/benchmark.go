package metrics

import (
	"math"

	"github.com/montanaflynn/stats"

	"backtester/internal/market"
)

// BenchmarkComparison 与基准的对比
type BenchmarkComparison struct {
	BenchmarkSymbol      string  `json:"benchmark_symbol"`
	BenchmarkTotalReturn float64 `json:"benchmark_total_return"`
	BenchmarkVolatility  float64 `json:"benchmark_volatility"`
	BenchmarkSharpe      float64 `json:"benchmark_sharpe_ratio"`
	BenchmarkMaxDrawdown float64 `json:"benchmark_max_drawdown"`
	Alpha                float64 `json:"alpha"`
	Beta                 float64 `json:"beta"`
	Correlation          float64 `json:"correlation"`
	TrackingError        float64 `json:"tracking_error"`
}

// CompareBenchmark 计算基准自身指标与相对指标；基准无数据时返回 nil
func CompareBenchmark(symbol string, curve []market.EquityPoint, bench *market.AssetSeries) *BenchmarkComparison {
	if bench.Empty() {
		return nil
	}

	closes := bench.Closes()
	benchReturns := Returns(closes)
	c := &BenchmarkComparison{BenchmarkSymbol: symbol}

	c.BenchmarkTotalReturn = (closes[len(closes)-1]/closes[0] - 1) * 100
	if sd := stdDev(benchReturns); sd > 0 {
		c.BenchmarkVolatility = sd * math.Sqrt(tradingDays) * 100
		c.BenchmarkSharpe = meanOf(benchReturns) * tradingDays / (sd * math.Sqrt(tradingDays))
	}

	cumulative := make([]float64, len(benchReturns))
	acc := 1.0
	for i, r := range benchReturns {
		acc *= 1 + r
		cumulative[i] = acc
	}
	c.BenchmarkMaxDrawdown = MaxDrawdown(cumulative)

	portfolioReturns := Returns(market.Values(curve))
	if len(portfolioReturns) <= 1 || len(benchReturns) <= 1 {
		c.Beta = 1
		return c.Sanitized()
	}

	// 取两者最近的重叠部分
	n := len(portfolioReturns)
	if len(benchReturns) < n {
		n = len(benchReturns)
	}
	p := portfolioReturns[len(portfolioReturns)-n:]
	b := benchReturns[len(benchReturns)-n:]

	c.Correlation, _ = stats.Correlation(p, b)
	cov, _ := stats.Covariance(p, b)
	variance, _ := stats.SampleVariance(b)
	c.Beta = cov / variance
	c.Alpha = (meanOf(p) - c.Beta*meanOf(b)) * tradingDays * 100

	diff := make([]float64, n)
	for i := range diff {
		diff[i] = p[i] - b[i]
	}
	c.TrackingError = stdDev(diff) * math.Sqrt(tradingDays) * 100

	return c.Sanitized()
}
