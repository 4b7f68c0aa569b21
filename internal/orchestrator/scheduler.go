package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"backtester/internal/logger"
	"backtester/internal/store"
)

// TaskType 定时任务类型
type TaskType string

const (
	TaskTypeMemorySweep TaskType = "memory_sweep"
	TaskTypeStoreHealth TaskType = "store_health"
)

// TaskStatus 定时任务最近一次运行的状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task 定时任务
type Task struct {
	Type        TaskType   `json:"type"`
	Schedule    string     `json:"schedule"`
	LastRunTime time.Time  `json:"last_run_time"`
	Runs        int        `json:"runs"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// TaskHandler 定时任务处理器
type TaskHandler interface {
	Handle(ctx context.Context) error
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context) error

func (f HandlerFunc) Handle(ctx context.Context) error { return f(ctx) }

// Scheduler 基于秒级 cron 的定时任务
type Scheduler struct {
	cron     *cron.Cron
	tasks    map[TaskType]*Task
	handlers map[TaskType]TaskHandler
	timeout  time.Duration
	log      logger.Logger
	mu       sync.RWMutex
}

// NewScheduler 创建调度器，timeout 限制单次运行时长
func NewScheduler(timeout time.Duration, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		tasks:    make(map[TaskType]*Task),
		handlers: make(map[TaskType]TaskHandler),
		timeout:  timeout,
		log:      log,
	}
}

// RegisterHandler 注册处理器
func (s *Scheduler) RegisterHandler(taskType TaskType, handler TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskType] = handler
}

// AddTask 按 cron 表达式调度已注册的处理器
func (s *Scheduler) AddTask(taskType TaskType, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handlers[taskType]; !exists {
		return fmt.Errorf("no handler registered for task type: %s", taskType)
	}
	if _, exists := s.tasks[taskType]; exists {
		return fmt.Errorf("task already scheduled: %s", taskType)
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.RunNow(context.Background(), taskType)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job %s: %w", taskType, err)
	}
	s.tasks[taskType] = &Task{Type: taskType, Schedule: schedule, Status: TaskStatusPending}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started", "tasks", len(s.tasks))
}

// Stop 停止调度并等待运行中的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunNow 立即运行一次
func (s *Scheduler) RunNow(ctx context.Context, taskType TaskType) error {
	s.mu.Lock()
	handler, ok := s.handlers[taskType]
	task := s.tasks[taskType]
	if task == nil {
		task = &Task{Type: taskType}
		s.tasks[taskType] = task
	}
	task.Status = TaskStatusRunning
	task.LastRunTime = time.Now()
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("no handler registered for task type: %s", taskType)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := handler.Handle(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	task.Runs++
	if err != nil {
		task.Status = TaskStatusFailed
		task.Error = err.Error()
		s.log.Warn("Scheduled task failed", "task", taskType, "error", err)
	} else {
		task.Status = TaskStatusCompleted
		task.Error = ""
	}
	return err
}

// GetTask 任务快照
func (s *Scheduler) GetTask(taskType TaskType) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskType]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// ListTasks 全部任务快照
func (s *Scheduler) ListTasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, *task)
	}
	return out
}

// MemorySweep 清理内存降级存储中超过保留期的终态记录
func MemorySweep(memory *store.Memory, retention time.Duration, log logger.Logger) TaskHandler {
	return HandlerFunc(func(ctx context.Context) error {
		cutoff := time.Now().Add(-retention)
		removed := memory.Sweep(cutoff, func(rec map[string]string) bool {
			return JobState(rec[fieldStatus]).Terminal()
		})
		if removed > 0 {
			log.Info("Swept fallback job records", "removed", removed, "remaining", memory.Len())
		}
		return nil
	})
}

// HealthGauge 存储健康指标，monitoring.Metrics 实现了该接口
type HealthGauge interface {
	SetStoreHealthy(healthy bool)
}

// StoreHealth ping 持久化存储并更新健康指标
func StoreHealth(st store.Store, gauge HealthGauge, log logger.Logger) TaskHandler {
	return HandlerFunc(func(ctx context.Context) error {
		err := st.Ping(ctx)
		if gauge != nil {
			gauge.SetStoreHealthy(err == nil)
		}
		if err != nil {
			log.Warn("Job store unhealthy", logger.FieldStore, st.Name(), "error", err)
			return fmt.Errorf("store %s ping: %w", st.Name(), err)
		}
		return nil
	})
}
