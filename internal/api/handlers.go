package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"backtester/internal/backtest"
	"backtester/internal/config"
	"backtester/internal/errors"
	"backtester/internal/logger"
	"backtester/internal/market/provider"
	"backtester/internal/middleware"
	"backtester/internal/orchestrator"
	"backtester/internal/store"
	"backtester/internal/strategy"
)

// Response represents a standard API response
type Response = middleware.Response

const (
	dateLayout      = "2006-01-02"
	maxHistoryLimit = 100
)

// BacktestHandler 回测任务相关接口
type BacktestHandler struct {
	manager *orchestrator.Manager
	service *backtest.Service
	log     logger.Logger
}

// NewBacktestHandler creates a new backtest handler
func NewBacktestHandler(manager *orchestrator.Manager, service *backtest.Service, log logger.Logger) *BacktestHandler {
	return &BacktestHandler{manager: manager, service: service, log: log}
}

// SubmitResponse 提交任务的返回
type SubmitResponse struct {
	RequestID string                `json:"request_id"`
	Status    orchestrator.JobState `json:"status"`
	Message   string                `json:"message"`
}

// Run 提交异步回测
// @Summary Submit a backtest
// @Tags Backtest
// @Accept json
// @Produce json
// @Param request body backtest.Request true "Backtest request"
// @Success 200 {object} Response
// @Router /backtest/run [post]
func (h *BacktestHandler) Run(c *gin.Context) {
	var req backtest.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, h.log, errors.NewAppError(errors.ErrCodeInvalidInput, "Invalid request body", err))
		return
	}

	id, err := h.manager.Submit(c.Request.Context(), req)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: SubmitResponse{
			RequestID: id,
			Status:    orchestrator.JobPending,
			Message:   orchestrator.MessageQueued,
		},
	})
}

// Status 查询任务状态
// @Summary Get backtest status
// @Tags Backtest
// @Param id path string true "Request ID"
// @Success 200 {object} Response
// @Router /backtest/status/{id} [get]
func (h *BacktestHandler) Status(c *gin.Context) {
	job, err := h.manager.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: job})
}

// Results 查询已完成任务的结果
// @Summary Get backtest results
// @Tags Backtest
// @Param id path string true "Request ID"
// @Success 200 {object} Response
// @Router /backtest/results/{id} [get]
func (h *BacktestHandler) Results(c *gin.Context) {
	results, err := h.manager.GetResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: results})
}

// Cancel 取消任务
// @Summary Cancel a backtest
// @Tags Backtest
// @Param id path string true "Request ID"
// @Success 200 {object} Response
// @Router /backtest/cancel/{id} [delete]
func (h *BacktestHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Cancel(c.Request.Context(), id); err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"request_id": id, "status": orchestrator.JobCancelled},
		Message: orchestrator.MessageCancelled,
	})
}

// QuickRun 同步回测，范围受限
// @Summary Run a small backtest synchronously
// @Tags Backtest
// @Accept json
// @Param request body backtest.Request true "Backtest request"
// @Success 200 {object} Response
// @Router /backtest/quick-run [post]
func (h *BacktestHandler) QuickRun(c *gin.Context) {
	var req backtest.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, h.log, errors.NewAppError(errors.ErrCodeInvalidInput, "Invalid request body", err))
		return
	}

	results, err := h.service.RunSync(c.Request.Context(), req)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: results})
}

// History 最近的回测任务
// @Summary List recent backtests
// @Tags Backtest
// @Param limit query int false "Max records (default 10)"
// @Success 200 {object} Response
// @Router /backtest/history [get]
func (h *BacktestHandler) History(c *gin.Context) {
	limit := orchestrator.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			middleware.RespondError(c, h.log, errors.NewAppError(errors.ErrCodeInvalidInput, "limit must be a positive integer", err))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	jobs, err := h.manager.History(c.Request.Context(), limit)
	if err != nil {
		middleware.RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"backtests": jobs, "count": len(jobs)}})
}

// Strategies 可用策略及参数
// @Summary List strategies
// @Tags Backtest
// @Success 200 {object} Response
// @Router /backtest/strategies [get]
func (h *BacktestHandler) Strategies(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"strategies": strategy.Catalog()}})
}

// Validate 检查标的在区间内的数据可用性
// @Summary Validate data availability
// @Tags Backtest
// @Param symbols query string true "Comma separated symbols"
// @Param start_date query string true "YYYY-MM-DD"
// @Param end_date query string true "YYYY-MM-DD"
// @Success 200 {object} Response
// @Router /backtest/validate [get]
func (h *BacktestHandler) Validate(c *gin.Context) {
	start, err := time.Parse(dateLayout, c.Query("start_date"))
	if err != nil {
		middleware.RespondError(c, h.log, errors.NewAppError(errors.ErrCodeInvalidInput, "start_date must be YYYY-MM-DD", err))
		return
	}
	end, err := time.Parse(dateLayout, c.Query("end_date"))
	if err != nil {
		middleware.RespondError(c, h.log, errors.NewAppError(errors.ErrCodeInvalidInput, "end_date must be YYYY-MM-DD", err))
		return
	}

	result := h.service.ValidateData(c.Request.Context(), splitSymbols(c.Query("symbols")), start, end)
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

func splitSymbols(raw string) []string {
	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}

// HealthHandler 健康检查
type HealthHandler struct {
	version string
	store   store.Store
	chain   *provider.Chain
	queue   *orchestrator.TaskQueue
	manager *orchestrator.Manager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(cfg *config.Config, st store.Store, chain *provider.Chain, queue *orchestrator.TaskQueue, manager *orchestrator.Manager) *HealthHandler {
	return &HealthHandler{version: cfg.App.Version, store: st, chain: chain, queue: queue, manager: manager}
}

// StoreHealth 存储健康状态
type StoreHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthStatus /health 的返回
type HealthStatus struct {
	Status     string                   `json:"status"`
	Version    string                   `json:"version,omitempty"`
	Timestamp  time.Time                `json:"timestamp"`
	Store      *StoreHealth             `json:"store,omitempty"`
	Providers  []string                 `json:"providers"`
	Breakers   map[string]string        `json:"breakers,omitempty"`
	Queue      *orchestrator.QueueStats `json:"queue,omitempty"`
	ActiveJobs int                      `json:"active_jobs"`
}

// Check 存储不可用时状态为 degraded，任务仍会写入内存存储
// @Summary Service health
// @Tags Health
// @Success 200 {object} Response
// @Router /health [get]
func (h *HealthHandler) Check(c *gin.Context) {
	status := HealthStatus{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Providers: []string{},
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		sh := &StoreHealth{Name: h.store.Name(), Healthy: true}
		if err := h.store.Ping(ctx); err != nil {
			sh.Healthy = false
			sh.Error = err.Error()
			status.Status = "degraded"
		}
		status.Store = sh
	}
	if h.chain != nil {
		status.Providers = h.chain.Providers()
		status.Breakers = h.chain.BreakerStates()
		if len(status.Providers) == 0 {
			status.Status = "degraded"
		}
	}
	if h.queue != nil {
		stats := h.queue.GetStats()
		status.Queue = &stats
	}
	if h.manager != nil {
		status.ActiveJobs = h.manager.Active()
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: status})
}
