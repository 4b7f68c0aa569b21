package backtest

import (
	"fmt"
	"math"
	"strings"
	"time"

	"backtester/internal/errors"
	"backtester/internal/portfolio"
	"backtester/internal/strategy"
)

const dateLayout = "2006-01-02"

// 请求默认值
const (
	DefaultInitialCapital = 100000.0
	DefaultFees           = 0.1
	DefaultSlippage       = 0.05
	DefaultBenchmark      = "SPY"

	MinCapital      = 1000.0
	MinRangeDays    = 30
	MaxRangeDays    = 3650
	MaxFees         = 5.0
	MaxSlippage     = 2.0
	AllocationDelta = 0.05
)

// Asset 标的及其目标权重(百分比)
type Asset struct {
	Symbol     string  `json:"symbol"`
	Allocation float64 `json:"allocation"`
}

// Request 回测请求
type Request struct {
	Assets             []Asset  `json:"assets"`
	StartDate          string   `json:"start_date"`
	EndDate            string   `json:"end_date"`
	InitialCapital     float64  `json:"initial_capital"`
	StrategyType       string   `json:"strategy_type"`
	SMAShort           int      `json:"sma_short,omitempty"`
	SMALong            int      `json:"sma_long,omitempty"`
	EMAShort           int      `json:"ema_short,omitempty"`
	EMALong            int      `json:"ema_long,omitempty"`
	RSIPeriod          int      `json:"rsi_period,omitempty"`
	RSIOversold        float64  `json:"rsi_oversold,omitempty"`
	RSIOverbought      float64  `json:"rsi_overbought,omitempty"`
	BBPeriod           int      `json:"bb_period,omitempty"`
	BBStd              float64  `json:"bb_std,omitempty"`
	RebalanceFrequency string   `json:"rebalance_frequency"`
	TransactionFees    *float64 `json:"transaction_fees,omitempty"`
	Slippage           *float64 `json:"slippage,omitempty"`
	Benchmark          *string  `json:"benchmark,omitempty"`
}

// Normalize 规范化标的代码并填充默认值；benchmark 缺省时使用 defaultBenchmark，显式空串表示不比较
func (r *Request) Normalize(defaultBenchmark string) {
	for i := range r.Assets {
		r.Assets[i].Symbol = strings.ToUpper(strings.TrimSpace(r.Assets[i].Symbol))
	}
	r.StartDate = strings.TrimSpace(r.StartDate)
	r.EndDate = strings.TrimSpace(r.EndDate)

	if r.InitialCapital == 0 {
		r.InitialCapital = DefaultInitialCapital
	}
	if r.StrategyType == "" {
		r.StrategyType = string(strategy.BuyAndHold)
	}
	r.StrategyType = strings.ToLower(strings.TrimSpace(r.StrategyType))
	defaults := strategy.DefaultConfig(strategy.Variant(r.StrategyType))
	if r.SMAShort == 0 && r.SMALong == 0 {
		r.SMAShort, r.SMALong = defaults.SMA.Short, defaults.SMA.Long
	}
	if r.EMAShort == 0 && r.EMALong == 0 {
		r.EMAShort, r.EMALong = defaults.EMA.Short, defaults.EMA.Long
	}
	if r.RSIPeriod == 0 {
		r.RSIPeriod = defaults.RSI.Period
	}
	if r.RSIOversold == 0 && r.RSIOverbought == 0 {
		r.RSIOversold, r.RSIOverbought = defaults.RSI.Oversold, defaults.RSI.Overbought
	}
	if r.BBPeriod == 0 {
		r.BBPeriod = defaults.Bollinger.Period
	}
	if r.BBStd == 0 {
		r.BBStd = defaults.Bollinger.K
	}
	if r.RebalanceFrequency == "" {
		r.RebalanceFrequency = string(portfolio.Quarterly)
	}
	r.RebalanceFrequency = strings.ToLower(r.RebalanceFrequency)
	if r.TransactionFees == nil {
		fees := DefaultFees
		r.TransactionFees = &fees
	}
	if r.Slippage == nil {
		slippage := DefaultSlippage
		r.Slippage = &slippage
	}
	if r.Benchmark == nil {
		if defaultBenchmark == "" {
			defaultBenchmark = DefaultBenchmark
		}
		benchmark := defaultBenchmark
		r.Benchmark = &benchmark
	} else {
		benchmark := strings.ToUpper(strings.TrimSpace(*r.Benchmark))
		r.Benchmark = &benchmark
	}
}

// Start 开始日期，格式错误时为零值
func (r *Request) Start() time.Time {
	t, _ := time.Parse(dateLayout, r.StartDate)
	return t
}

// End 结束日期，格式错误时为零值
func (r *Request) End() time.Time {
	t, _ := time.Parse(dateLayout, r.EndDate)
	return t
}

// Days 区间自然日数
func (r *Request) Days() int {
	return int(r.End().Sub(r.Start()).Hours() / 24)
}

// Symbols 标的列表
func (r *Request) Symbols() []string {
	out := make([]string, len(r.Assets))
	for i, a := range r.Assets {
		out[i] = a.Symbol
	}
	return out
}

func (r *Request) fees() float64 {
	if r.TransactionFees == nil {
		return DefaultFees
	}
	return *r.TransactionFees
}

func (r *Request) slippage() float64 {
	if r.Slippage == nil {
		return DefaultSlippage
	}
	return *r.Slippage
}

// BenchmarkSymbol 基准代码，空串表示不比较
func (r *Request) BenchmarkSymbol() string {
	if r.Benchmark == nil {
		return ""
	}
	return *r.Benchmark
}

// StrategyConfig 转换为策略配置，未设置的参数取引擎默认值
func (r *Request) StrategyConfig() strategy.Config {
	variant, err := strategy.ParseVariant(r.StrategyType)
	if err != nil {
		variant = strategy.Variant(r.StrategyType)
	}
	return strategy.Config{
		Variant:   variant,
		SMA:       strategy.CrossoverParams{Short: r.SMAShort, Long: r.SMALong},
		EMA:       strategy.CrossoverParams{Short: r.EMAShort, Long: r.EMALong},
		RSI:       strategy.RSIParams{Period: r.RSIPeriod, Oversold: r.RSIOversold, Overbought: r.RSIOverbought},
		Bollinger: strategy.BollingerParams{Period: r.BBPeriod, K: r.BBStd},
	}.WithDefaults()
}

// PortfolioConfig 转换为组合配置
func (r *Request) PortfolioConfig() portfolio.Config {
	allocations := make([]portfolio.Allocation, len(r.Assets))
	for i, a := range r.Assets {
		allocations[i] = portfolio.Allocation{Symbol: a.Symbol, Weight: a.Allocation}
	}
	return portfolio.Config{
		Allocations:    allocations,
		InitialCapital: r.InitialCapital,
		Cadence:        portfolio.Cadence(r.RebalanceFrequency),
		FeeRate:        r.fees(),
		SlippageRate:   r.slippage(),
	}
}

// Validate 返回全部校验错误，空表示合法
func (r *Request) Validate(now time.Time) []string {
	var problems []string

	if len(r.Assets) == 0 {
		problems = append(problems, "At least one asset is required")
	}
	total := 0.0
	seen := make(map[string]bool, len(r.Assets))
	for _, a := range r.Assets {
		total += a.Allocation
		sym := strings.ToUpper(strings.TrimSpace(a.Symbol))
		if sym == "" {
			problems = append(problems, "Asset symbol cannot be empty")
		} else if seen[sym] {
			problems = append(problems, fmt.Sprintf("Duplicate asset symbol %s", sym))
		}
		seen[sym] = true
		if a.Allocation <= 0 {
			problems = append(problems, fmt.Sprintf("Asset allocation must be positive, got %g%% for %s", a.Allocation, a.Symbol))
		}
	}
	if len(r.Assets) > 0 && math.Abs(total-100) > AllocationDelta {
		problems = append(problems, fmt.Sprintf("Asset allocations must sum to 100%%, got %g%%", total))
	}

	start, startErr := time.Parse(dateLayout, r.StartDate)
	end, endErr := time.Parse(dateLayout, r.EndDate)
	switch {
	case startErr != nil:
		problems = append(problems, fmt.Sprintf("Invalid start date %q, expected YYYY-MM-DD", r.StartDate))
	case endErr != nil:
		problems = append(problems, fmt.Sprintf("Invalid end date %q, expected YYYY-MM-DD", r.EndDate))
	default:
		if !start.Before(end) {
			problems = append(problems, "Start date must be before end date")
		}
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if end.After(today) {
			problems = append(problems, "End date cannot be in the future")
		}
		days := int(end.Sub(start).Hours() / 24)
		if days > MaxRangeDays {
			problems = append(problems, "Backtest period cannot exceed 10 years")
		}
		if days < MinRangeDays {
			problems = append(problems, "Backtest period must be at least 30 days")
		}
	}

	if r.InitialCapital < MinCapital {
		problems = append(problems, "Initial capital must be at least $1,000")
	}
	if fees := r.fees(); fees < 0 || fees > MaxFees {
		problems = append(problems, "Transaction fees must be between 0% and 5%")
	}
	if slip := r.slippage(); slip < 0 || slip > MaxSlippage {
		problems = append(problems, "Slippage must be between 0% and 2%")
	}

	if err := r.StrategyConfig().Validate(); err != nil {
		if appErr := errors.GetAppError(err); appErr != nil && appErr.Details != "" {
			problems = append(problems, appErr.Details)
		} else if appErr != nil {
			problems = append(problems, appErr.Message)
		} else {
			problems = append(problems, err.Error())
		}
	}

	return problems
}

// Check 校验并返回 INVALID_INPUT 错误
func (r *Request) Check(now time.Time) error {
	problems := r.Validate(now)
	if len(problems) == 0 {
		return nil
	}
	return errors.NewAppErrorWithDetails(errors.ErrCodeInvalidInput,
		"Invalid request: "+strings.Join(problems, ", "), strings.Join(problems, "; "), nil).
		WithContext("problems", problems)
}
