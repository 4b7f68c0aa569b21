package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backtester/internal/api"
	"backtester/internal/backtest"
	"backtester/internal/cache"
	"backtester/internal/config"
	"backtester/internal/events"
	"backtester/internal/logger"
	"backtester/internal/market/provider"
	"backtester/internal/monitoring"
	"backtester/internal/orchestrator"
	"backtester/internal/stability"
	"backtester/internal/store"
)

const (
	shutdownTimeout  = 30 * time.Second
	schedulerTimeout = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(logger.Config{
		Level:      logger.LogLevel(cfg.Logging.Level),
		Format:     logger.LogFormat(cfg.Logging.Format),
		Output:     cfg.Logging.Output,
		Filename:   cfg.Logging.Filename,
		MaxSize:    logger.DefaultConfig.MaxSize,
		MaxAge:     logger.DefaultConfig.MaxAge,
		MaxBackups: logger.DefaultConfig.MaxBackups,
		Compress:   logger.DefaultConfig.Compress,
	})
	log.Info("Starting backtester", "version", cfg.App.Version, "env", cfg.App.Env)

	if err := run(cfg, log); err != nil {
		log.Fatal("Backtester exited with error", "error", err)
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitoring.NewMetrics(nil)
	limiter := stability.NewRateLimiter()

	seriesCache, err := cache.NewSeriesCache(ctx, cfg.Providers.CacheTTL)
	if err != nil {
		log.Warn("Series cache disabled", "error", err)
		seriesCache = nil
	}
	chain := provider.BuildChain(cfg.Providers, provider.ChainOptions{
		Limiter:  limiter,
		Cache:    seriesCache,
		Observer: metrics,
		Logger:   log,
	})
	if len(chain.Providers()) == 0 {
		log.Warn("No market data providers registered; every backtest will fail")
	}

	jobStore, memory, err := store.Open(ctx, cfg, metrics, log)
	if err != nil {
		log.Error("Durable job store misconfigured, using memory only",
			"backend", cfg.Store.Backend, "error", err)
	}
	// 启动时先跑一次健康检查，后续由 cron 任务刷新
	_ = orchestrator.StoreHealth(jobStore, metrics, log).Handle(ctx)

	publisher := events.New(cfg.Kafka, log)

	service := backtest.NewService(chain, backtest.Options{
		MinDataPoints:     cfg.Backtest.MinDataPoints,
		QuickRunMaxDays:   cfg.Backtest.QuickRunMaxDays,
		QuickRunMaxAssets: cfg.Backtest.QuickRunMaxAssets,
		DefaultBenchmark:  cfg.Backtest.DefaultBenchmark,
		Logger:            log,
	})

	queue := orchestrator.NewTaskQueue(cfg.Jobs.Workers, cfg.Jobs.QueueSize, log)
	queue.Start(ctx)
	manager := orchestrator.NewManager(jobStore, service, queue, orchestrator.ManagerOptions{
		Publisher: publisher,
		Metrics:   metrics,
		Logger:    log,
	})

	scheduler := orchestrator.NewScheduler(schedulerTimeout, log)
	scheduler.RegisterHandler(orchestrator.TaskTypeMemorySweep, orchestrator.MemorySweep(memory, cfg.Store.FallbackRetention, log))
	scheduler.RegisterHandler(orchestrator.TaskTypeStoreHealth, orchestrator.StoreHealth(jobStore, metrics, log))
	if err := scheduler.AddTask(orchestrator.TaskTypeMemorySweep, cfg.Store.SweepSchedule); err != nil {
		return fmt.Errorf("schedule memory sweep: %w", err)
	}
	if err := scheduler.AddTask(orchestrator.TaskTypeStoreHealth, cfg.Store.HealthSchedule); err != nil {
		return fmt.Errorf("schedule store health: %w", err)
	}
	scheduler.Start()

	server := api.NewServer(cfg, api.Dependencies{
		Manager: manager,
		Service: service,
		Store:   jobStore,
		Chain:   chain,
		Queue:   queue,
		Metrics: metrics,
		Limiter: limiter,
		Logger:  log,
	})

	shutdown := stability.NewShutdownManager(shutdownTimeout/2, log)
	shutdown.RegisterComponent("api_server", 100, server.Stop)
	shutdown.RegisterComponent("scheduler", 80, func(context.Context) error {
		scheduler.Stop()
		return nil
	})
	shutdown.RegisterComponent("task_queue", 60, func(context.Context) error {
		cancel()
		queue.Stop()
		return nil
	})
	shutdown.RegisterComponent("event_publisher", 40, func(context.Context) error {
		return publisher.Close()
	})
	shutdown.RegisterComponent("job_store", 20, func(context.Context) error {
		return jobStore.Close()
	})
	if seriesCache != nil {
		shutdown.RegisterComponent("series_cache", 10, func(context.Context) error {
			return seriesCache.Close()
		})
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", "signal", sig.String())
	case runErr = <-serverErr:
		if runErr != nil {
			log.Error("API server stopped unexpectedly", "error", runErr)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	result := shutdown.Shutdown(shutdownCtx)
	if !result.Success {
		log.Warn("Shutdown completed with errors", "errors", result.Errors, "duration", result.Duration)
	} else {
		log.Info("Shutdown complete", "duration", result.Duration)
	}
	return runErr
}
