package strategy

import "math"

// ParamInfo 参数说明
type ParamInfo struct {
	Name        string      `json:"name"`
	Default     interface{} `json:"default"`
	Description string      `json:"description"`
}

// Info 策略目录条目
type Info struct {
	ID          Variant     `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ParamInfo `json:"parameters"`
}

// rules 某次运行的进出场判断，i 为 bar 下标
type rules struct {
	entry func(i int) bool
	exit  func(i int) bool
}

type definition struct {
	info     Info
	fraction float64
	build    func(closes []float64, cfg Config) rules
}

var order = []Variant{BuyAndHold, SMACrossover, EMACrossover, RSIOversold, BollingerBands}

var registry = map[Variant]definition{
	BuyAndHold: {
		info: Info{
			ID:          BuyAndHold,
			Name:        "Buy and Hold",
			Description: "Buy assets at the start and hold until the end",
		},
		fraction: 1.0,
		build: func(closes []float64, cfg Config) rules {
			return rules{
				entry: func(i int) bool { return true },
				exit:  func(i int) bool { return false },
			}
		},
	},
	SMACrossover: {
		info: Info{
			ID:          SMACrossover,
			Name:        "SMA Crossover",
			Description: "Buy when short SMA crosses above long SMA, sell when it crosses below",
			Parameters: []ParamInfo{
				{Name: "sma_short", Default: DefaultSMA.Short, Description: "Short SMA period"},
				{Name: "sma_long", Default: DefaultSMA.Long, Description: "Long SMA period"},
			},
		},
		fraction: 0.90,
		build: func(closes []float64, cfg Config) rules {
			return crossoverRules(SMA(closes, cfg.SMA.Short), SMA(closes, cfg.SMA.Long))
		},
	},
	EMACrossover: {
		info: Info{
			ID:          EMACrossover,
			Name:        "EMA Crossover",
			Description: "Buy when short EMA crosses above long EMA, sell when it crosses below",
			Parameters: []ParamInfo{
				{Name: "ema_short", Default: DefaultEMA.Short, Description: "Short EMA period"},
				{Name: "ema_long", Default: DefaultEMA.Long, Description: "Long EMA period"},
			},
		},
		fraction: 0.90,
		build: func(closes []float64, cfg Config) rules {
			return crossoverRules(EMA(closes, cfg.EMA.Short), EMA(closes, cfg.EMA.Long))
		},
	},
	RSIOversold: {
		info: Info{
			ID:          RSIOversold,
			Name:        "RSI Oversold/Overbought",
			Description: "Buy when RSI is oversold, sell when overbought",
			Parameters: []ParamInfo{
				{Name: "rsi_period", Default: DefaultRSI.Period, Description: "RSI calculation period"},
				{Name: "rsi_oversold", Default: DefaultRSI.Oversold, Description: "Oversold threshold"},
				{Name: "rsi_overbought", Default: DefaultRSI.Overbought, Description: "Overbought threshold"},
			},
		},
		fraction: 0.90,
		build: func(closes []float64, cfg Config) rules {
			rsi := RSI(closes, cfg.RSI.Period)
			at := func(i int) float64 {
				if math.IsNaN(rsi[i]) {
					return 50
				}
				return rsi[i]
			}
			return rules{
				entry: func(i int) bool { return at(i) < cfg.RSI.Oversold },
				exit:  func(i int) bool { return at(i) > cfg.RSI.Overbought },
			}
		},
	},
	BollingerBands: {
		info: Info{
			ID:          BollingerBands,
			Name:        "Bollinger Bands",
			Description: "Buy when price touches lower band, sell when it touches upper band",
			Parameters: []ParamInfo{
				{Name: "bb_period", Default: DefaultBollinger.Period, Description: "Moving average period"},
				{Name: "bb_std", Default: DefaultBollinger.K, Description: "Standard deviation multiplier"},
			},
		},
		fraction: 0.90,
		build: func(closes []float64, cfg Config) rules {
			bands := Bollinger(closes, cfg.Bollinger.Period, cfg.Bollinger.K)
			return rules{
				entry: func(i int) bool { return defined(bands.Lower[i]) && closes[i] < bands.Lower[i] },
				exit:  func(i int) bool { return defined(bands.Upper[i]) && closes[i] > bands.Upper[i] },
			}
		},
	},
}

func crossoverRules(short, long []float64) rules {
	return rules{
		entry: func(i int) bool { return CrossedAbove(short, long, i) },
		exit:  func(i int) bool { return CrossedAbove(long, short, i) },
	}
}

// Catalog 按固定顺序列出可用策略
func Catalog() []Info {
	out := make([]Info, 0, len(order))
	for _, v := range order {
		out = append(out, registry[v].info)
	}
	return out
}
