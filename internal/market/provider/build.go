package provider

import (
	"backtester/internal/config"
	"backtester/internal/logger"
	"backtester/internal/stability"
)

// BuildChain 按默认优先级注册已启用且凭证齐全的数据源：fmp, alpha_vantage, yahoo, alpaca, binance
func BuildChain(cfg config.ProvidersConfig, opts ChainOptions) *Chain {
	opts.Breaker = BreakerSettings{
		MaxRequests:         cfg.Breaker.MaxRequests,
		Interval:            cfg.Breaker.Interval,
		Timeout:             cfg.Breaker.Timeout,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
	}
	chain := NewChain(opts)
	log := chain.log

	limit := func(name string, pc config.ProviderConfig) {
		if opts.Limiter == nil || pc.RateLimit <= 0 {
			return
		}
		burst := pc.Burst
		if burst <= 0 {
			burst = 1
		}
		opts.Limiter.SetKeyConfig(name, stability.RateLimiterTypeProvider, &stability.RateLimiterConfig{
			Type:           stability.RateLimiterTypeProvider,
			RequestsPerSec: pc.RateLimit,
			Burst:          burst,
			WaitTimeout:    cfg.Timeout,
		})
	}
	skip := func(name, reason string) {
		log.Info("Provider not registered", logger.FieldProvider, name, "reason", reason)
	}

	httpOpts := func(pc config.ProviderConfig) HTTPOptions {
		return HTTPOptions{BaseURL: pc.BaseURL, APIKey: pc.APIKey, Timeout: cfg.Timeout, Logger: opts.Logger}
	}

	switch {
	case !cfg.FMP.Enabled:
	case cfg.FMP.APIKey == "":
		skip("fmp", "missing api key")
	default:
		limit("fmp", cfg.FMP)
		chain.Register(NewFMP(httpOpts(cfg.FMP)))
	}

	switch {
	case !cfg.AlphaVantage.Enabled:
	case cfg.AlphaVantage.APIKey == "":
		skip("alpha_vantage", "missing api key")
	default:
		limit("alpha_vantage", cfg.AlphaVantage)
		chain.Register(NewAlphaVantage(httpOpts(cfg.AlphaVantage)))
	}

	if cfg.Yahoo.Enabled {
		limit("yahoo", cfg.Yahoo)
		chain.Register(NewYahoo(httpOpts(cfg.Yahoo)))
	}

	switch {
	case !cfg.Alpaca.Enabled:
	case cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "":
		skip("alpaca", "missing api key or secret")
	default:
		limit("alpaca", cfg.Alpaca)
		chain.Register(NewAlpaca(AlpacaOptions{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			BaseURL:   cfg.Alpaca.BaseURL,
			Feed:      cfg.Alpaca.Feed,
			Logger:    opts.Logger,
		}))
	}

	if cfg.Binance.Enabled {
		binance, err := NewBinance(BinanceOptions{
			APIKey:    cfg.Binance.APIKey,
			APISecret: cfg.Binance.APISecret,
			Logger:    opts.Logger,
		})
		if err != nil {
			skip("binance", err.Error())
		} else {
			limit("binance", cfg.Binance)
			chain.Register(binance)
		}
	}

	log.Info("Provider chain ready", "providers", chain.Providers())
	return chain
}
