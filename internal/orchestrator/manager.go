package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"backtester/internal/backtest"
	"backtester/internal/errors"
	"backtester/internal/events"
	"backtester/internal/logger"
	"backtester/internal/store"
)

// DefaultHistoryLimit 历史查询默认条数
const DefaultHistoryLimit = 10

const (
	publishTimeout = 5 * time.Second
	watchBuffer    = 16
)

// Runner 执行回测，backtest.Service 实现了该接口
type Runner interface {
	Prepare(req *backtest.Request) error
	Run(ctx context.Context, req backtest.Request, progress backtest.ProgressFunc) (*backtest.Results, error)
}

// Recorder 任务指标，monitoring.Metrics 实现了该接口
type Recorder interface {
	RecordJobState(state string)
	ObserveJobDuration(d time.Duration)
}

// ManagerOptions Manager 的可选依赖
type ManagerOptions struct {
	Publisher events.Publisher
	Metrics   Recorder
	Logger    logger.Logger
	Now       func() time.Time
}

// Manager 任务生命周期管理：提交、执行、查询、取消
type Manager struct {
	store     store.Store
	runner    Runner
	queue     *TaskQueue
	publisher events.Publisher
	metrics   Recorder
	log       logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	handles map[string]*jobHandle
}

// NewManager 创建任务管理器
func NewManager(st store.Store, runner Runner, queue *TaskQueue, opts ManagerOptions) *Manager {
	if opts.Publisher == nil {
		opts.Publisher = events.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobalLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:     st,
		runner:    runner,
		queue:     queue,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		now:       opts.Now,
		handles:   make(map[string]*jobHandle),
	}
}

// jobHandle 串行化同一任务的状态迁移，是该任务记录的唯一写入者
type jobHandle struct {
	mu       sync.Mutex
	job      Job
	watchers map[chan Job]struct{}
}

// Submit 校验请求、持久化 pending 记录并入队，返回任务ID
func (m *Manager) Submit(ctx context.Context, req backtest.Request) (string, error) {
	if err := m.runner.Prepare(&req); err != nil {
		return "", err
	}

	now := m.now().UTC()
	cfg := req
	h := &jobHandle{
		job: Job{
			ID:        backtest.NewRequestID(now),
			Status:    JobPending,
			Progress:  0,
			Message:   MessageQueued,
			CreatedAt: now,
			UpdatedAt: now,
			Config:    &cfg,
		},
		watchers: make(map[chan Job]struct{}),
	}
	id := h.job.ID

	if err := m.persist(ctx, &h.job); err != nil {
		return "", errors.NewAppError(errors.ErrCodeStoreUnavailable, "Failed to persist backtest job", err)
	}
	m.mu.Lock()
	m.handles[id] = h
	m.mu.Unlock()
	m.observe(h.job)

	err := m.queue.Enqueue(&QueuedTask{
		ID:        id,
		CreatedAt: now,
		Run: func(ctx context.Context) {
			m.execute(ctx, h, req)
		},
	})
	if err != nil {
		m.fail(ctx, h, err)
		return "", err
	}

	m.log.Info("Backtest submitted", logger.FieldJobID, id, "assets", len(req.Assets), "strategy", req.StrategyType)
	return id, nil
}

// execute 在 worker 中运行，任何错误或 panic 都会把任务置为 failed
func (m *Manager) execute(ctx context.Context, h *jobHandle, req backtest.Request) {
	started := m.now()
	defer func() {
		if r := recover(); r != nil {
			m.fail(ctx, h, fmt.Errorf("panic: %v", r))
		}
	}()

	if !m.transition(ctx, h, JobRunning, ProgressFetching, MessageFetching, nil) {
		return
	}

	results, err := m.runner.Run(ctx, req, func(progress int, message string) {
		m.transition(ctx, h, JobRunning, progress, message, nil)
	})
	if err != nil {
		m.fail(ctx, h, err)
		return
	}

	m.transition(ctx, h, JobCompleted, ProgressDone, MessageCompleted, func(j *Job) {
		j.Result = results
		if m.metrics != nil {
			m.metrics.ObserveJobDuration(m.now().Sub(started))
		}
	})
}

func (m *Manager) fail(ctx context.Context, h *jobHandle, cause error) {
	msg := cause.Error()
	if appErr := errors.GetAppError(cause); appErr != nil {
		msg = appErr.Message
	}
	if m.transition(ctx, h, JobFailed, 0, fmt.Sprintf(messageFailedFmt, msg), func(j *Job) {
		j.Error = msg
	}) {
		m.log.Warn("Backtest failed", logger.FieldJobID, h.job.ID, "error", cause)
	}
}

// transition 在 handle 锁内校验并写入完整记录；迁移不合法时返回 false。
// running 状态下的同态迁移只更新进度。
func (m *Manager) transition(ctx context.Context, h *jobHandle, to JobState, progress int, message string, mutate func(*Job)) bool {
	h.mu.Lock()
	from := h.job.Status
	if !(from == JobRunning && to == JobRunning) && !CanTransition(from, to) {
		h.mu.Unlock()
		m.log.Debug("Ignoring job transition", logger.FieldJobID, h.job.ID, "from", from, "to", to)
		return false
	}

	h.job.Status = to
	h.job.Progress = progress
	h.job.Message = message
	h.job.UpdatedAt = m.now().UTC()
	if mutate != nil {
		mutate(&h.job)
	}
	if err := m.persist(ctx, &h.job); err != nil {
		m.log.Error("Failed to persist job transition", logger.FieldJobID, h.job.ID, "status", to, "error", err)
	}

	snapshot := h.job.clone()
	for ch := range h.watchers {
		deliver(ch, snapshot)
		if to.Terminal() {
			close(ch)
			delete(h.watchers, ch)
		}
	}
	h.mu.Unlock()

	if to.Terminal() {
		m.mu.Lock()
		delete(m.handles, snapshot.ID)
		m.mu.Unlock()
	}
	if from != to {
		m.observe(snapshot)
	}
	return true
}

// deliver 非阻塞发送，缓冲满时丢弃最旧的快照
func deliver(ch chan Job, job Job) {
	for {
		select {
		case ch <- job:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (m *Manager) persist(ctx context.Context, job *Job) error {
	fields, err := job.Fields()
	if err != nil {
		return err
	}
	return m.store.SetFields(ctx, job.ID, fields)
}

func (m *Manager) observe(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err := m.publisher.Publish(ctx, events.JobEvent{
		JobID:     job.ID,
		Status:    string(job.Status),
		Progress:  job.Progress,
		Message:   job.Message,
		Timestamp: job.UpdatedAt,
	})
	if err != nil {
		m.log.Warn("Failed to publish job event", logger.FieldJobID, job.ID, "status", job.Status, "error", err)
	}

	if m.metrics != nil {
		m.metrics.RecordJobState(string(job.Status))
	}
}

func (m *Manager) load(ctx context.Context, id string, withResult bool) (*Job, error) {
	fields, err := m.store.Get(ctx, id)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.NewAppError(errors.ErrCodeJobNotFound, fmt.Sprintf("Backtest %s not found", id), nil)
	}
	if err != nil {
		return nil, errors.NewAppError(errors.ErrCodeStoreUnavailable, "Failed to read backtest job", err)
	}
	return JobFromFields(fields, withResult)
}

// GetStatus 任务状态，不含结果
func (m *Manager) GetStatus(ctx context.Context, id string) (*Job, error) {
	return m.load(ctx, id, false)
}

// GetResults 已完成任务的结果
func (m *Manager) GetResults(ctx context.Context, id string) (*backtest.Results, error) {
	job, err := m.load(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if job.Status != JobCompleted || job.Result == nil {
		return nil, errors.NewAppError(errors.ErrCodeJobNotCompleted,
			fmt.Sprintf("Backtest not completed. Current status: %s", job.Status), nil).
			WithContext("status", string(job.Status))
	}
	return job.Result, nil
}

// handleFor 返回存活任务的 handle；进程重启后遗留的非终态任务会从存储恢复 handle
func (m *Manager) handleFor(ctx context.Context, id string) (*jobHandle, error) {
	m.mu.Lock()
	h, ok := m.handles[id]
	m.mu.Unlock()
	if ok {
		return h, nil
	}

	job, err := m.load(ctx, id, false)
	if err != nil {
		return nil, err
	}
	h = &jobHandle{job: *job, watchers: make(map[chan Job]struct{})}
	if !job.Status.Terminal() {
		m.mu.Lock()
		if existing, ok := m.handles[id]; ok {
			h = existing
		} else {
			m.handles[id] = h
		}
		m.mu.Unlock()
	}
	return h, nil
}

// Cancel 取消 pending 或 running 的任务；正在执行的模拟不会被打断，但之后的迁移都会被忽略
func (m *Manager) Cancel(ctx context.Context, id string) error {
	h, err := m.handleFor(ctx, id)
	if err != nil {
		return err
	}

	h.mu.Lock()
	status, progress := h.job.Status, h.job.Progress
	h.mu.Unlock()
	if status.Terminal() || !m.transition(ctx, h, JobCancelled, progress, MessageCancelled, nil) {
		return errors.NewAppError(errors.ErrCodeJobTerminal,
			fmt.Sprintf("Cannot cancel backtest with status: %s", status), nil).
			WithContext("status", string(status))
	}

	m.log.Info("Backtest cancelled", logger.FieldJobID, id)
	return nil
}

// History 最近的任务，按创建时间倒序，不含结果
func (m *Manager) History(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	records, err := m.store.Recent(ctx, limit)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrCodeStoreUnavailable, "Failed to read backtest history", err)
	}

	jobs := make([]Job, 0, len(records))
	for _, rec := range records {
		job, err := JobFromFields(rec, false)
		if err != nil {
			m.log.Warn("Skipping unreadable job record", logger.FieldJobID, rec[store.FieldID], "error", err)
			continue
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// Watch 订阅任务的状态快照；任务进入终态后通道关闭。
// 任务不存在或已结束时返回已关闭的通道。
func (m *Manager) Watch(id string) (<-chan Job, func()) {
	ch := make(chan Job, watchBuffer)

	m.mu.Lock()
	h, ok := m.handles[id]
	m.mu.Unlock()
	if !ok {
		close(ch)
		return ch, func() {}
	}

	h.mu.Lock()
	if h.job.Status.Terminal() {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.watchers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.watchers[ch]; ok {
				delete(h.watchers, ch)
				close(ch)
			}
		})
	}
	return ch, stop
}

// Active 存活任务数
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}
