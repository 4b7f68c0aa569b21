package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"backtester/internal/backtest"
	"backtester/internal/config"
	"backtester/internal/logger"
	"backtester/internal/market/provider"
	"backtester/internal/middleware"
	"backtester/internal/monitoring"
	"backtester/internal/orchestrator"
	"backtester/internal/stability"
	"backtester/internal/store"
)

// Dependencies API 层依赖的核心服务
type Dependencies struct {
	Manager *orchestrator.Manager
	Service *backtest.Service
	Store   store.Store
	Chain   *provider.Chain
	Queue   *orchestrator.TaskQueue
	Metrics *monitoring.Metrics
	Limiter *stability.RateLimiter
	Logger  logger.Logger
}

// Server represents the API server
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	handlers   *Handlers
	metrics    *monitoring.Metrics
	limiter    *stability.RateLimiter
	log        logger.Logger
}

// Handlers contains all API handlers
type Handlers struct {
	Backtest  *BacktestHandler
	Health    *HealthHandler
	WebSocket *WebSocketHandler
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = stability.NewRateLimiter()
	}

	server := &Server{
		config: cfg,
		router: gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.CORS),
		},
		metrics: deps.Metrics,
		limiter: limiter,
		log:     log,
	}

	server.handlers = &Handlers{
		Backtest:  NewBacktestHandler(deps.Manager, deps.Service, log),
		Health:    NewHealthHandler(cfg, deps.Store, deps.Chain, deps.Queue, deps.Manager),
		WebSocket: NewWebSocketHandler(server.upgrader, deps.Manager, deps.Metrics, log),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.ErrorHandler(s.log))
	s.router.Use(middleware.RequestLogger(s.log))
	s.router.Use(s.metrics.MetricsMiddleware())
	s.router.Use(middleware.CORS(s.config.CORS))
	s.router.NoRoute(middleware.NotFound)

	s.router.GET("/health", s.handlers.Health.Check)

	if s.config.Monitoring.PrometheusEnabled && s.metrics != nil {
		s.router.GET(s.config.Monitoring.PrometheusPath, gin.WrapH(s.metrics.Handler()))
	}

	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	limited := s.router.Group("")
	limited.Use(middleware.RateLimit(s.limiter, s.config.RateLimit, s.log))
	limited.Use(middleware.JWTAuth(s.config.JWT.SecretKey, s.log))

	v1 := limited.Group("/api/v1")
	{
		bt := v1.Group("/backtest")
		{
			bt.POST("/run", s.handlers.Backtest.Run)
			bt.GET("/status/:id", s.handlers.Backtest.Status)
			bt.GET("/results/:id", s.handlers.Backtest.Results)
			bt.DELETE("/cancel/:id", s.handlers.Backtest.Cancel)
			bt.POST("/quick-run", s.handlers.Backtest.QuickRun)
			bt.GET("/history", s.handlers.Backtest.History)
			bt.GET("/strategies", s.handlers.Backtest.Strategies)
			bt.GET("/validate", s.handlers.Backtest.Validate)
		}
	}

	limited.GET("/ws/backtest/:id", s.handlers.WebSocket.JobStream)
}

// Router 返回 HTTP 处理器，测试直接使用
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}

	s.log.Info("Starting API server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("Shutting down API server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("API server stopped")
	return nil
}

// originChecker websocket 握手的来源校验，与 CORS 配置一致
func originChecker(cfg config.CORSConfig) func(r *http.Request) bool {
	if len(cfg.AllowedOrigins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

const healthTimeout = 3 * time.Second
