package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"backtester/internal/errors"
	"backtester/internal/logger"
	"backtester/internal/market"
	"backtester/internal/market/quality"
	"backtester/internal/metrics"
	"backtester/internal/portfolio"
	"backtester/internal/strategy"
)

// 进度里程碑
const (
	ProgressRunning    = 30
	ProgressProcessing = 80

	MessageRunning    = "Running backtest algorithms..."
	MessageProcessing = "Processing results..."
)

// DataSource 历史数据来源，provider.Chain 实现了该接口
type DataSource interface {
	Fetch(ctx context.Context, symbols []string, start, end time.Time) map[string]*market.AssetSeries
	FetchBenchmark(ctx context.Context, symbol string, start, end time.Time) (*market.AssetSeries, bool)
}

// ProgressFunc 进度回调，可为 nil
type ProgressFunc func(progress int, message string)

// Options 服务配置
type Options struct {
	MinDataPoints     int
	QuickRunMaxDays   int
	QuickRunMaxAssets int
	DefaultBenchmark  string
	Logger            logger.Logger
	Now               func() time.Time
}

// Service 回测流水线：取数、质量检查、模拟、指标
type Service struct {
	source DataSource
	opts   Options
	log    logger.Logger
}

// NewService 创建回测服务
func NewService(source DataSource, opts Options) *Service {
	if opts.MinDataPoints <= 0 {
		opts.MinDataPoints = quality.DefaultMinDataPoints
	}
	if opts.QuickRunMaxDays <= 0 {
		opts.QuickRunMaxDays = 365
	}
	if opts.QuickRunMaxAssets <= 0 {
		opts.QuickRunMaxAssets = 3
	}
	if opts.DefaultBenchmark == "" {
		opts.DefaultBenchmark = DefaultBenchmark
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Service{source: source, opts: opts, log: log}
}

// Prepare 规范化并校验请求
func (s *Service) Prepare(req *Request) error {
	req.Normalize(s.opts.DefaultBenchmark)
	return req.Check(s.opts.Now())
}

// Run 执行完整回测
func (s *Service) Run(ctx context.Context, req Request, progress ProgressFunc) (*Results, error) {
	began := s.opts.Now()
	if err := s.Prepare(&req); err != nil {
		return nil, err
	}
	report := func(p int, msg string) {
		if progress != nil {
			progress(p, msg)
		}
	}

	symbols := req.Symbols()
	start, end := req.Start(), req.End()
	s.log.Info("Fetching historical data", "assets", len(symbols), "start", req.StartDate, "end", req.EndDate)
	data := s.source.Fetch(ctx, symbols, start, end)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var warnings []string
	for _, sym := range symbols {
		valid, w := quality.Validate(data[sym], s.opts.MinDataPoints)
		warnings = append(warnings, w...)
		if !valid {
			return nil, errors.NewAppError(errors.ErrCodeDataInsufficient,
				fmt.Sprintf("Insufficient or invalid data for %s", sym), nil)
		}
	}

	report(ProgressRunning, MessageRunning)

	results := &Results{
		RequestID: NewRequestID(began),
		CreatedAt: began,
		Config:    req,
	}
	var curve []market.EquityPoint
	totalTrades := 0

	if len(symbols) == 1 {
		series := data[symbols[0]]
		if err := quality.Preflight(series); err != nil {
			return nil, err
		}
		run, err := strategy.Run(ctx, series, req.StrategyConfig(), strategy.ExecutionParams{
			InitialCapital: req.InitialCapital,
			FeeRate:        req.fees(),
			SlippageRate:   req.slippage(),
		})
		if err != nil {
			return nil, err
		}
		curve = run.Equity
		totalTrades = run.TotalTrades
		results.Trades = run.Trades
		results.FinalPortfolioValue = run.FinalValue
		results.TotalFeesPaid = run.TotalFees
	} else {
		aligned, err := portfolio.Align(data, symbols)
		if err != nil {
			return nil, err
		}
		sim, err := portfolio.Simulate(aligned, req.PortfolioConfig())
		if err != nil {
			return nil, err
		}
		curve = sim.Equity
		totalTrades = len(sim.Events)
		results.RebalanceEvents = sim.Events
		results.FinalPortfolioValue = sim.FinalValue
		results.TotalFeesPaid = sim.TotalFees
	}

	report(ProgressProcessing, MessageProcessing)

	results.Metrics = metrics.Calculate(curve, totalTrades)
	results.MonthlyReturns = metrics.MonthlyReturns(curve)
	if bench := req.BenchmarkSymbol(); bench != "" {
		if series, ok := s.source.FetchBenchmark(ctx, bench, start, end); ok {
			results.BenchmarkComparison = metrics.CompareBenchmark(bench, curve, series)
		} else {
			s.log.Info("Benchmark data unavailable, skipping comparison", logger.FieldSymbol, bench)
		}
	}

	results.EquityCurve = metrics.SanitizeCurve(curve)
	results.FinalPortfolioValue = metrics.Sanitize(results.FinalPortfolioValue)
	results.TotalFeesPaid = metrics.Sanitize(results.TotalFeesPaid)
	results.Warnings = warnings
	if results.Warnings == nil {
		results.Warnings = []string{}
	}
	results.ExecutionTimeSeconds = s.opts.Now().Sub(began).Seconds()

	s.log.Info("Backtest finished",
		"assets", len(symbols),
		"final_value", results.FinalPortfolioValue,
		"total_return", results.Metrics.TotalReturn,
		"duration", time.Duration(results.ExecutionTimeSeconds*float64(time.Second)).String())
	return results, nil
}

// RunSync 同步快速回测，限制区间长度与标的数量
func (s *Service) RunSync(ctx context.Context, req Request) (*Results, error) {
	if err := s.Prepare(&req); err != nil {
		return nil, err
	}
	if req.Days() > s.opts.QuickRunMaxDays || len(req.Assets) > s.opts.QuickRunMaxAssets {
		return nil, errors.NewAppError(errors.ErrCodeQuickRunLimit,
			fmt.Sprintf("Quick backtest is limited to %d days and %d assets maximum. Use /run for larger backtests.",
				s.opts.QuickRunMaxDays, s.opts.QuickRunMaxAssets), nil)
	}
	s.log.Info("Running quick backtest", "assets", len(req.Assets), "days", req.Days())
	return s.Run(ctx, req, nil)
}

// ValidateData 检查各标的在区间内的数据可用性
func (s *Service) ValidateData(ctx context.Context, symbols []string, start, end time.Time) DataValidation {
	result := DataValidation{Errors: []string{}, Warnings: []string{}, DataPoints: map[string]int{}}

	if !start.Before(end) {
		result.Errors = append(result.Errors, "Start date must be before end date")
		return result
	}
	if end.After(s.opts.Now()) {
		result.Errors = append(result.Errors, "End date cannot be in the future")
		return result
	}

	normalized := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			normalized = append(normalized, sym)
		}
	}
	if len(normalized) == 0 {
		result.Errors = append(result.Errors, "At least one symbol is required")
		return result
	}

	data := s.source.Fetch(ctx, normalized, start, end)
	for _, sym := range normalized {
		series := data[sym]
		result.DataPoints[sym] = series.Len()
		if series.Empty() {
			result.Errors = append(result.Errors, fmt.Sprintf("No data available for %s", sym))
			continue
		}
		valid, warnings := quality.Validate(series, s.opts.MinDataPoints)
		if !valid {
			result.Errors = append(result.Errors, fmt.Sprintf("Insufficient data quality for %s", sym))
		}
		result.Warnings = append(result.Warnings, warnings...)
	}

	result.Valid = len(result.Errors) == 0
	return result
}
