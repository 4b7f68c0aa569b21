package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"backtester/internal/logger"
	"backtester/internal/market"
)

// Provider 历史日线数据源
type Provider interface {
	Name() string
	// Fetch 返回 [start, end] 内的日线；数据源不可用或响应无法解析时返回错误
	Fetch(ctx context.Context, symbol string, start, end time.Time) (*market.AssetSeries, error)
}

// SymbolFilter 可选接口，数据源只覆盖部分标的时实现
type SymbolFilter interface {
	Supports(symbol string) bool
}

// Observer 接收每次调用的结果，monitoring.Metrics 实现了该接口
type Observer interface {
	ObserveProviderFetch(provider, outcome string, d time.Duration)
}

// 调用结果标签
const (
	OutcomeSuccess     = "success"
	OutcomeEmpty       = "empty"
	OutcomeError       = "error"
	OutcomeBreakerOpen = "breaker_open"
	OutcomeRateLimited = "rate_limited"
)

const dateLayout = "2006-01-02"

// HTTPOptions HTTP 数据源的公共配置
type HTTPOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // 0 表示不限时
	Logger  logger.Logger
}

func newHTTPClient(opts HTTPOptions, defaultBase string) *resty.Client {
	base := opts.BaseURL
	if base == "" {
		base = defaultBase
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "Mozilla/5.0 (compatible; backtester/1.0)")
}

func loggerOr(l logger.Logger) logger.Logger {
	if l == nil {
		return logger.GetGlobalLogger()
	}
	return l
}

// checkResponse 非200视为数据源失败
func checkResponse(name string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s request failed: %w", name, err)
	}
	if resp.StatusCode() != 200 {
		body := resp.Body()
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Errorf("%s returned status %d: %s", name, resp.StatusCode(), string(body))
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

// flexFloat 兼容数字和字符串两种编码
type flexFloat struct {
	value float64
	set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		f.value, f.set = n, true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return err
	}
	f.value, f.set = n, true
	return nil
}

func (f flexFloat) valid() bool {
	return f.set && !math.IsNaN(f.value) && !math.IsInf(f.value, 0)
}

// ohlc 校验开高低收四个字段都存在
func ohlc(open, high, low, close flexFloat) error {
	names := []string{"open", "high", "low", "close"}
	for i, f := range []flexFloat{open, high, low, close} {
		if !f.valid() {
			return fmt.Errorf("missing or invalid field %q", names[i])
		}
	}
	return nil
}

func floatPtr(v float64) *float64 {
	return &v
}
