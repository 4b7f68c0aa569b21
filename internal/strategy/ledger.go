package strategy

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Side 成交方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// MinCommission 最低佣金率
const MinCommission = 0.002

// CommissionRate 佣金率 = max(fee%/100, 0.2%)
func CommissionRate(feePct float64) float64 {
	return math.Max(feePct/100, MinCommission)
}

// Trade 成交记录，金额使用 decimal 保存
type Trade struct {
	Date     time.Time       `json:"date"`
	Side     Side            `json:"side"`
	Price    float64         `json:"price"`
	Units    int64           `json:"units"`
	Notional decimal.Decimal `json:"notional"`
	Fee      decimal.Decimal `json:"fee"`
	PnL      decimal.Decimal `json:"pnl"`
}

// Ledger 单标的现金与持仓账本
type Ledger struct {
	cash       decimal.Decimal
	units      int64
	commission decimal.Decimal
	costBasis  decimal.Decimal
	fees       decimal.Decimal
	trades     []Trade
}

// NewLedger 创建账本
func NewLedger(capital, commission float64) *Ledger {
	return &Ledger{
		cash:       decimal.NewFromFloat(capital),
		commission: decimal.NewFromFloat(commission),
	}
}

// Long 是否持仓
func (l *Ledger) Long() bool { return l.units > 0 }

func (l *Ledger) Units() int64 { return l.units }

func (l *Ledger) Cash() float64 { return l.cash.InexactFloat64() }

// Value 以收盘价计的权益
func (l *Ledger) Value(close float64) float64 {
	return l.cash.Add(decimal.NewFromInt(l.units).Mul(decimal.NewFromFloat(close))).InexactFloat64()
}

// Buy 按 fraction * equity 买入整数单位；现金不足以覆盖佣金时缩减数量，数量为 0 时不成交
func (l *Ledger) Buy(date time.Time, fill, fraction, equity float64) (Trade, bool) {
	if fill <= 0 {
		return Trade{}, false
	}
	units := int64(math.Floor(fraction * equity / fill))

	price := decimal.NewFromFloat(fill)
	perUnit := price.Mul(decimal.NewFromInt(1).Add(l.commission))
	if decimal.NewFromInt(units).Mul(perUnit).GreaterThan(l.cash) {
		units = l.cash.Div(perUnit).Floor().IntPart()
	}
	if units <= 0 {
		return Trade{}, false
	}

	notional := price.Mul(decimal.NewFromInt(units))
	fee := notional.Mul(l.commission)
	l.cash = l.cash.Sub(notional).Sub(fee)
	l.units += units
	l.costBasis = l.costBasis.Add(notional).Add(fee)
	l.fees = l.fees.Add(fee)

	trade := Trade{Date: date, Side: SideBuy, Price: fill, Units: units, Notional: notional, Fee: fee}
	l.trades = append(l.trades, trade)
	return trade, true
}

// Sell 全部平仓
func (l *Ledger) Sell(date time.Time, fill float64) (Trade, bool) {
	if l.units <= 0 {
		return Trade{}, false
	}
	units := l.units
	notional := decimal.NewFromFloat(fill).Mul(decimal.NewFromInt(units))
	fee := notional.Mul(l.commission)
	proceeds := notional.Sub(fee)

	l.cash = l.cash.Add(proceeds)
	l.units = 0
	l.fees = l.fees.Add(fee)

	trade := Trade{
		Date:     date,
		Side:     SideSell,
		Price:    fill,
		Units:    units,
		Notional: notional,
		Fee:      fee,
		PnL:      proceeds.Sub(l.costBasis),
	}
	l.costBasis = decimal.Zero
	l.trades = append(l.trades, trade)
	return trade, true
}

// TotalFees 累计佣金
func (l *Ledger) TotalFees() float64 { return l.fees.InexactFloat64() }

// Trades 成交记录副本
func (l *Ledger) Trades() []Trade {
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}
