package strategy

import (
	"fmt"
	"strings"

	"backtester/internal/errors"
)

// Variant 策略类型
type Variant string

const (
	BuyAndHold     Variant = "buy_and_hold"
	SMACrossover   Variant = "sma_crossover"
	EMACrossover   Variant = "ema_crossover"
	RSIOversold    Variant = "rsi_oversold"
	BollingerBands Variant = "bollinger_bands"
)

// CrossoverParams 均线交叉参数
type CrossoverParams struct {
	Short int `json:"short"`
	Long  int `json:"long"`
}

// RSIParams RSI 参数
type RSIParams struct {
	Period     int     `json:"period"`
	Oversold   float64 `json:"oversold"`
	Overbought float64 `json:"overbought"`
}

// BollingerParams 布林带参数
type BollingerParams struct {
	Period int     `json:"period"`
	K      float64 `json:"k"`
}

// Config 策略配置，Variant 决定哪一组参数生效
type Config struct {
	Variant   Variant         `json:"variant"`
	SMA       CrossoverParams `json:"sma"`
	EMA       CrossoverParams `json:"ema"`
	RSI       RSIParams       `json:"rsi"`
	Bollinger BollingerParams `json:"bollinger"`
}

// 引擎默认参数
var (
	DefaultSMA       = CrossoverParams{Short: 10, Long: 20}
	DefaultEMA       = CrossoverParams{Short: 12, Long: 26}
	DefaultRSI       = RSIParams{Period: 14, Oversold: 30, Overbought: 70}
	DefaultBollinger = BollingerParams{Period: 20, K: 2}
)

// ParseVariant 解析策略类型，大小写不敏感
func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := registry[v]; !ok {
		return "", errors.NewAppError(errors.ErrCodeStrategyInvalid,
			fmt.Sprintf("Unknown strategy type: %s", s), nil)
	}
	return v, nil
}

// DefaultConfig 返回带默认参数的配置
func DefaultConfig(v Variant) Config {
	return Config{Variant: v}.WithDefaults()
}

// WithDefaults 为未设置的参数填充默认值
func (c Config) WithDefaults() Config {
	if c.Variant == "" {
		c.Variant = BuyAndHold
	}
	if c.SMA.Short == 0 && c.SMA.Long == 0 {
		c.SMA = DefaultSMA
	}
	if c.EMA.Short == 0 && c.EMA.Long == 0 {
		c.EMA = DefaultEMA
	}
	if c.RSI.Period == 0 {
		c.RSI.Period = DefaultRSI.Period
	}
	if c.RSI.Oversold == 0 && c.RSI.Overbought == 0 {
		c.RSI.Oversold = DefaultRSI.Oversold
		c.RSI.Overbought = DefaultRSI.Overbought
	}
	if c.Bollinger.Period == 0 {
		c.Bollinger.Period = DefaultBollinger.Period
	}
	if c.Bollinger.K == 0 {
		c.Bollinger.K = DefaultBollinger.K
	}
	return c
}

// Validate 按策略类型校验参数
func (c Config) Validate() error {
	if _, ok := registry[c.Variant]; !ok {
		return errors.NewAppError(errors.ErrCodeStrategyInvalid,
			fmt.Sprintf("Unknown strategy type: %s", c.Variant), nil)
	}

	var problems []string
	switch c.Variant {
	case SMACrossover:
		problems = validateCrossover("sma", c.SMA)
	case EMACrossover:
		problems = validateCrossover("ema", c.EMA)
	case RSIOversold:
		if c.RSI.Period < 1 {
			problems = append(problems, "rsi period must be at least 1")
		}
		if c.RSI.Oversold < 0 || c.RSI.Overbought > 100 {
			problems = append(problems, "rsi thresholds must be within [0, 100]")
		}
		if c.RSI.Oversold >= c.RSI.Overbought {
			problems = append(problems, "rsi oversold must be below overbought")
		}
	case BollingerBands:
		if c.Bollinger.Period < 2 {
			problems = append(problems, "bollinger period must be at least 2")
		}
		if c.Bollinger.K <= 0 {
			problems = append(problems, "bollinger k must be positive")
		}
	}

	if len(problems) > 0 {
		return errors.NewAppErrorWithDetails(errors.ErrCodeParameterInvalid,
			"Invalid strategy parameters", strings.Join(problems, "; "), nil)
	}
	return nil
}

func validateCrossover(name string, p CrossoverParams) []string {
	var problems []string
	if p.Short < 1 {
		problems = append(problems, fmt.Sprintf("%s short period must be at least 1", name))
	}
	if p.Long <= p.Short {
		problems = append(problems, fmt.Sprintf("%s short period must be less than long period", name))
	}
	return problems
}
