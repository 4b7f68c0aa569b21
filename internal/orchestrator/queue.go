package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"backtester/internal/errors"
	"backtester/internal/logger"
)

// QueuedTask 队列中的一个任务
type QueuedTask struct {
	ID        string
	Run       func(ctx context.Context)
	CreatedAt time.Time
}

// QueueStats 队列统计
type QueueStats struct {
	Workers     int           `json:"workers"`
	Capacity    int           `json:"capacity"`
	Pending     int           `json:"pending"`
	Running     int64         `json:"running"`
	Completed   int64         `json:"completed"`
	Panicked    int64         `json:"panicked"`
	Rejected    int64         `json:"rejected"`
	AvgWaitTime time.Duration `json:"avg_wait_time"`
}

// TaskQueue 带缓冲的任务通道加固定数量的 worker
type TaskQueue struct {
	tasks   chan *QueuedTask
	workers int
	log     logger.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup

	running   atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
	rejected  atomic.Int64
	waitNanos atomic.Int64
}

// NewTaskQueue 创建任务队列
func NewTaskQueue(workers, size int, log logger.Logger) *TaskQueue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &TaskQueue{
		tasks:   make(chan *QueuedTask, size),
		workers: workers,
		log:     log,
	}
}

// Start 启动 worker，重复调用无效
func (q *TaskQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.log.Info("Task queue started", "workers", q.workers, "capacity", cap(q.tasks))
}

func (q *TaskQueue) worker(ctx context.Context, n int) {
	defer q.wg.Done()
	for task := range q.tasks {
		q.process(ctx, n, task)
	}
}

func (q *TaskQueue) process(ctx context.Context, n int, task *QueuedTask) {
	q.running.Add(1)
	q.waitNanos.Add(int64(time.Since(task.CreatedAt)))
	defer func() {
		q.running.Add(-1)
		if r := recover(); r != nil {
			q.panicked.Add(1)
			q.log.Error("Task panicked", logger.FieldJobID, task.ID, "worker", n, "panic", fmt.Sprint(r))
			return
		}
		q.completed.Add(1)
	}()
	task.Run(ctx)
}

// Enqueue 非阻塞入队，队列已满或已停止时返回 QUEUE_FULL
func (q *TaskQueue) Enqueue(task *QueuedTask) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.rejected.Add(1)
		return errors.NewAppError(errors.ErrCodeQueueFull, "Task queue is stopped", nil)
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		q.rejected.Add(1)
		return errors.NewAppError(errors.ErrCodeQueueFull,
			fmt.Sprintf("Task queue is full (%d pending)", cap(q.tasks)), nil)
	}
}

// Stop 停止接收新任务并等待已入队任务执行完
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	started := q.started
	q.mu.Unlock()

	if !started {
		return
	}
	q.wg.Wait()
	q.log.Info("Task queue stopped", "completed", q.completed.Load())
}

// GetStats 当前统计
func (q *TaskQueue) GetStats() QueueStats {
	stats := QueueStats{
		Workers:   q.workers,
		Capacity:  cap(q.tasks),
		Pending:   len(q.tasks),
		Running:   q.running.Load(),
		Completed: q.completed.Load(),
		Panicked:  q.panicked.Load(),
		Rejected:  q.rejected.Load(),
	}
	if done := stats.Completed + stats.Panicked; done > 0 {
		stats.AvgWaitTime = time.Duration(q.waitNanos.Load() / done)
	}
	return stats
}
