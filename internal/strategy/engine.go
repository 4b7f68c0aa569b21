package strategy

import (
	"context"
	"fmt"

	"backtester/internal/errors"
	"backtester/internal/market"
)

// ExecutionParams 撮合参数，费率与滑点均为百分比
type ExecutionParams struct {
	InitialCapital float64
	FeeRate        float64
	SlippageRate   float64
}

// Result 单标的回测结果
type Result struct {
	Equity      []market.EquityPoint `json:"equity"`
	Trades      []Trade              `json:"trades"`
	TotalTrades int                  `json:"total_trades"`
	TotalFees   float64              `json:"total_fees"`
	FinalValue  float64              `json:"final_value"`
}

// Engine 单标的策略引擎
type Engine struct {
	config Config
	def    definition
	exec   ExecutionParams
}

// NewEngine 创建引擎，参数非法时返回错误
func NewEngine(cfg Config, exec ExecutionParams) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exec.InitialCapital <= 0 {
		return nil, errors.NewAppError(errors.ErrCodeParameterInvalid, "Initial capital must be positive", nil)
	}
	return &Engine{config: cfg, def: registry[cfg.Variant], exec: exec}, nil
}

// Run 按时间顺序逐 bar 模拟，收盘价成交
func (e *Engine) Run(ctx context.Context, series *market.AssetSeries) (*Result, error) {
	if series.Empty() {
		symbol := ""
		if series != nil {
			symbol = series.Symbol
		}
		return nil, errors.NewAppError(errors.ErrCodeDataInsufficient,
			fmt.Sprintf("No data available for %s", symbol), nil)
	}

	closes := series.Closes()
	dates := series.Dates()
	r := e.def.build(closes, e.config)

	slip := e.exec.SlippageRate / 100
	ledger := NewLedger(e.exec.InitialCapital, CommissionRate(e.exec.FeeRate))
	values := make([]float64, len(closes))
	entries := 0

	for i, c := range closes {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		switch {
		case !ledger.Long() && r.entry(i):
			equity := ledger.Value(c)
			if _, ok := ledger.Buy(dates[i], c*(1+slip), e.def.fraction, equity); ok {
				entries++
			}
		case ledger.Long() && r.exit(i):
			ledger.Sell(dates[i], c*(1-slip))
		}

		values[i] = ledger.Value(c)
	}
	// 首 bar 成交后的净值作为回撤基准，曲线首点仍显示初始资金
	basis := values[0]
	values[0] = e.exec.InitialCapital

	return &Result{
		Equity:      market.NewEquityCurveFrom(dates, values, basis),
		Trades:      ledger.Trades(),
		TotalTrades: entries,
		TotalFees:   ledger.TotalFees(),
		FinalValue:  values[len(values)-1],
	}, nil
}

// Run 便捷入口
func Run(ctx context.Context, series *market.AssetSeries, cfg Config, exec ExecutionParams) (*Result, error) {
	engine, err := NewEngine(cfg, exec)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, series)
}
