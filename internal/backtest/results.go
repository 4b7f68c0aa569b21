package backtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"backtester/internal/market"
	"backtester/internal/metrics"
	"backtester/internal/portfolio"
	"backtester/internal/strategy"
)

// Results 回测结果，所有浮点数已清洗
type Results struct {
	RequestID            string                       `json:"request_id"`
	CreatedAt            time.Time                    `json:"created_at"`
	Config               Request                      `json:"config"`
	Metrics              metrics.Bundle               `json:"metrics"`
	BenchmarkComparison  *metrics.BenchmarkComparison `json:"benchmark_comparison,omitempty"`
	EquityCurve          []market.EquityPoint         `json:"equity_curve"`
	MonthlyReturns       []metrics.MonthlyReturn      `json:"monthly_returns"`
	Trades               []strategy.Trade             `json:"trades,omitempty"`
	RebalanceEvents      []portfolio.RebalanceEvent   `json:"rebalance_events,omitempty"`
	FinalPortfolioValue  float64                      `json:"final_portfolio_value"`
	TotalFeesPaid        float64                      `json:"total_fees_paid"`
	ExecutionTimeSeconds float64                      `json:"execution_time_seconds"`
	Warnings             []string                     `json:"warnings"`
}

// DataValidation 数据可用性检查结果
type DataValidation struct {
	Valid      bool           `json:"valid"`
	Errors     []string       `json:"errors"`
	Warnings   []string       `json:"warnings"`
	DataPoints map[string]int `json:"data_points"`
}

// NewRequestID 生成 bt_<8位hex>_<unix秒> 形式的任务ID
func NewRequestID(now time.Time) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("bt_%s_%d", hex[:8], now.Unix())
}
