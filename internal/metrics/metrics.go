package metrics

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"backtester/internal/market"
)

const (
	tradingDays   = 252
	daysPerYear   = 365.25
	varPercentile = 5
)

// Bundle 绩效指标，百分比字段已乘 100
type Bundle struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	VaR95            float64 `json:"var_95"`
	CVaR95           float64 `json:"cvar_95"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     float64 `json:"profit_factor"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	TotalTrades      int     `json:"total_trades"`
	BestMonth        float64 `json:"best_month"`
	WorstMonth       float64 `json:"worst_month"`
	PositiveMonths   int     `json:"positive_months"`
	NegativeMonths   int     `json:"negative_months"`
}

// MonthlyReturn 单月收益
type MonthlyReturn struct {
	Year      int        `json:"year"`
	Month     time.Month `json:"month"`
	ReturnPct float64    `json:"return_pct"`
}

// Returns 逐期简单收益率
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		out = append(out, values[i]/values[i-1]-1)
	}
	return out
}

// Calculate 由权益曲线计算指标，结果已做数值清洗
func Calculate(curve []market.EquityPoint, totalTrades int) Bundle {
	b := Bundle{TotalTrades: totalTrades}
	if len(curve) == 0 {
		return b
	}

	values := market.Values(curve)
	first, last := values[0], values[len(values)-1]
	returns := Returns(values)

	b.TotalReturn = (last/first - 1) * 100
	if days := curve[len(curve)-1].Date.Sub(curve[0].Date).Hours() / 24; days > 0 {
		b.AnnualizedReturn = (math.Pow(last/first, daysPerYear/days) - 1) * 100
	}

	sd := stdDev(returns)
	mean := meanOf(returns)
	if len(returns) >= 2 {
		b.Volatility = sd * math.Sqrt(tradingDays) * 100
	}
	if sd > 0 {
		b.SharpeRatio = mean * tradingDays / (sd * math.Sqrt(tradingDays))
	}
	if dd := downsideDeviation(returns); dd > 0 {
		b.SortinoRatio = mean * tradingDays / (dd * math.Sqrt(tradingDays))
	}

	b.MaxDrawdown = CurveMaxDrawdown(curve)
	if b.MaxDrawdown != 0 {
		b.CalmarRatio = b.AnnualizedReturn / math.Abs(b.MaxDrawdown)
	}

	b.VaR95, b.CVaR95 = valueAtRisk(returns)
	fillWinLoss(&b, returns)

	monthly := MonthlyReturns(curve)
	for i, m := range monthly {
		if i == 0 || m.ReturnPct > b.BestMonth {
			b.BestMonth = m.ReturnPct
		}
		if i == 0 || m.ReturnPct < b.WorstMonth {
			b.WorstMonth = m.ReturnPct
		}
		switch {
		case m.ReturnPct > 0:
			b.PositiveMonths++
		case m.ReturnPct < 0:
			b.NegativeMonths++
		}
	}

	return b.Sanitized()
}

// CurveMaxDrawdown 曲线上记录的最深回撤
func CurveMaxDrawdown(curve []market.EquityPoint) float64 {
	worst := 0.0
	for _, p := range curve {
		if p.DrawdownPct < worst {
			worst = p.DrawdownPct
		}
	}
	return worst
}

// MaxDrawdown 最大回撤百分比，<= 0
func MaxDrawdown(values []float64) float64 {
	peak := 0.0
	worst := 0.0
	for i, v := range values {
		if i == 0 || v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (v - peak) / peak * 100; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

func fillWinLoss(b *Bundle, returns []float64) {
	if len(returns) == 0 {
		return
	}
	var wins, losses []float64
	var sumWin, sumLoss float64
	for _, r := range returns {
		switch {
		case r > 0:
			wins = append(wins, r)
			sumWin += r
		case r < 0:
			losses = append(losses, r)
			sumLoss += r
		}
	}
	b.WinRate = float64(len(wins)) / float64(len(returns)) * 100
	if sumLoss != 0 {
		b.ProfitFactor = sumWin / math.Abs(sumLoss)
	}
	b.AvgWin = meanOf(wins) * 100
	b.AvgLoss = meanOf(losses) * 100
}

// valueAtRisk 历史法 VaR/CVaR(95%)；样本太少无法取分位时用最小收益
func valueAtRisk(returns []float64) (float64, float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	var cutoff float64
	var err error
	if float64(len(returns))*varPercentile/100 < 1 {
		cutoff, err = stats.Min(returns)
	} else {
		cutoff, err = stats.Percentile(returns, varPercentile)
	}
	if err != nil {
		return 0, 0
	}

	var tail []float64
	for _, r := range returns {
		if r <= cutoff {
			tail = append(tail, r)
		}
	}
	return cutoff * 100, meanOf(tail) * 100
}

func downsideDeviation(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range returns {
		if r < 0 {
			sum += r * r
		}
	}
	return math.Sqrt(sum / float64(len(returns)))
}

// meanOf 空输入返回 0
func meanOf(data []float64) float64 {
	m, err := stats.Mean(data)
	if err != nil {
		return 0
	}
	return m
}

// stdDev 样本标准差，少于 2 个样本返回 0
func stdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationSample(data)
	if err != nil {
		return 0
	}
	return sd
}

// MonthlyReturns 每月从首个点到最后一个点的收益
func MonthlyReturns(curve []market.EquityPoint) []MonthlyReturn {
	var out []MonthlyReturn
	for i := 0; i < len(curve); {
		y, m, _ := curve[i].Date.Date()
		j := i
		for j+1 < len(curve) {
			ny, nm, _ := curve[j+1].Date.Date()
			if ny != y || nm != m {
				break
			}
			j++
		}

		ret := 0.0
		if startValue := curve[i].Value; startValue > 0 {
			ret = (curve[j].Value - startValue) / startValue * 100
		}
		out = append(out, MonthlyReturn{Year: y, Month: m, ReturnPct: Sanitize(ret)})
		i = j + 1
	}
	return out
}
