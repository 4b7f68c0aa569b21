package strategy

import (
	"math"

	"github.com/montanaflynn/stats"
)

// 指标在历史不足时为 NaN，且第 i 个值只依赖 [0, i] 的数据

// SMA 简单移动平均
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period < 1 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA 指数移动平均，以前 period 个值的 SMA 为种子
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period < 1 || len(values) < period {
		return out
	}
	alpha := 2.0 / float64(period+1)

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	prev := seed / float64(period)
	out[period-1] = prev

	for i := period; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// RSI Wilder 平滑 RSI，需要 period 个价格变动；均无涨跌时为 50，无下跌时为 100
func RSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period < 1 || len(values) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := change(values[i-1], values[i])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		gain, loss := change(values[i-1], values[i])
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func change(prev, cur float64) (gain, loss float64) {
	d := cur - prev
	if d > 0 {
		return d, 0
	}
	return 0, -d
}

func rsiValue(avgGain, avgLoss float64) float64 {
	switch {
	case avgGain == 0 && avgLoss == 0:
		return 50
	case avgLoss == 0:
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Bands 布林带
type Bands struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Bollinger 中轨为 SMA(period)，上下轨为中轨 ± k 倍样本标准差
func Bollinger(values []float64, period int, k float64) Bands {
	bands := Bands{
		Middle: SMA(values, period),
		Upper:  nanSlice(len(values)),
		Lower:  nanSlice(len(values)),
	}
	if period < 2 {
		return bands
	}
	for i := period - 1; i < len(values); i++ {
		sd, err := stats.StandardDeviationSample(values[i-period+1 : i+1])
		if err != nil {
			continue
		}
		bands.Upper[i] = bands.Middle[i] + k*sd
		bands.Lower[i] = bands.Middle[i] - k*sd
	}
	return bands
}

// CrossedAbove a 在第 i 根 bar 上穿 b：前一根 a <= b，当前 a > b
func CrossedAbove(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) {
		return false
	}
	if !defined(a[i-1], b[i-1], a[i], b[i]) {
		return false
	}
	return a[i-1] <= b[i-1] && a[i] > b[i]
}

func defined(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
