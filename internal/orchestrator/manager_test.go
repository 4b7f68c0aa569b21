package orchestrator

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/backtest"
	"backtester/internal/errors"
	"backtester/internal/events"
	"backtester/internal/logger"
	"backtester/internal/market/provider"
	"backtester/internal/store"
	"backtester/internal/testutils"
)

const waitTimeout = 3 * time.Second

type fakeRunner struct {
	prepareErr error
	run        func(ctx context.Context, progress backtest.ProgressFunc) (*backtest.Results, error)
	calls      atomic.Int64
}

func (r *fakeRunner) Prepare(req *backtest.Request) error {
	return r.prepareErr
}

func (r *fakeRunner) Run(ctx context.Context, req backtest.Request, progress backtest.ProgressFunc) (*backtest.Results, error) {
	r.calls.Add(1)
	if r.run == nil {
		progress(backtest.ProgressRunning, backtest.MessageRunning)
		progress(backtest.ProgressProcessing, backtest.MessageProcessing)
		return &backtest.Results{FinalPortfolioValue: 123456}, nil
	}
	return r.run(ctx, progress)
}

type recordingMetrics struct {
	mu        sync.Mutex
	states    []string
	durations int
}

func (m *recordingMetrics) RecordJobState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
}

func (m *recordingMetrics) ObserveJobDuration(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations++
}

func (m *recordingMetrics) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.states...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.JobEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

// tickingClock 每次调用前进一秒，保证 created_at 有序
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	manager   *Manager
	queue     *TaskQueue
	store     *store.Memory
	metrics   *recordingMetrics
	publisher *recordingPublisher
}

func newFixture(t *testing.T, runner Runner, queueSize int, start bool) *fixture {
	t.Helper()
	f := &fixture{
		queue:     NewTaskQueue(2, queueSize, logger.NewNop()),
		store:     store.NewMemory(),
		metrics:   &recordingMetrics{},
		publisher: &recordingPublisher{},
	}
	clock := &tickingClock{now: time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)}
	f.manager = NewManager(f.store, runner, f.queue, ManagerOptions{
		Publisher: f.publisher,
		Metrics:   f.metrics,
		Logger:    logger.NewNop(),
		Now:       clock.Now,
	})
	if start {
		f.queue.Start(context.Background())
	}
	t.Cleanup(f.queue.Stop)
	return f
}

func (f *fixture) waitFor(t *testing.T, id string, state JobState) *Job {
	t.Helper()
	var job *Job
	testutils.WaitForCondition(t, func() bool {
		j, err := f.manager.GetStatus(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == state
	}, waitTimeout, "job did not reach "+string(state))
	return job
}

// waitStates 指标和事件在写入记录之后才发出
func (f *fixture) waitStates(t *testing.T, n int) []string {
	t.Helper()
	testutils.WaitForCondition(t, func() bool {
		return len(f.metrics.snapshot()) >= n
	}, waitTimeout, "job state metrics not recorded")
	return f.metrics.snapshot()
}

func sampleRequest() backtest.Request {
	return backtest.Request{
		Assets:       []backtest.Asset{{Symbol: "AAPL", Allocation: 100}},
		StartDate:    "2023-01-01",
		EndDate:      "2023-06-30",
		StrategyType: "buy_and_hold",
	}
}

func TestManagerCompletesJob(t *testing.T) {
	f := newFixture(t, &fakeRunner{}, 10, true)
	ctx := context.Background()

	id, err := f.manager.Submit(ctx, sampleRequest())
	require.NoError(t, err)
	assert.Regexp(t, `^bt_[0-9a-f]{8}_\d+$`, id)

	job := f.waitFor(t, id, JobCompleted)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, MessageCompleted, job.Message)
	assert.Nil(t, job.Result)

	results, err := f.manager.GetResults(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 123456.0, results.FinalPortfolioValue)

	assert.Equal(t, []string{"pending", "running", "completed"}, f.waitStates(t, 3))
	f.metrics.mu.Lock()
	assert.Equal(t, 1, f.metrics.durations)
	f.metrics.mu.Unlock()
	assert.Equal(t, 0, f.manager.Active())

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	require.Len(t, f.publisher.events, 3)
	assert.Equal(t, id, f.publisher.events[0].JobID)
	assert.Equal(t, MessageQueued, f.publisher.events[0].Message)
}

func TestManagerFailsJob(t *testing.T) {
	runner := &fakeRunner{run: func(context.Context, backtest.ProgressFunc) (*backtest.Results, error) {
		return nil, errors.NewAppError(errors.ErrCodeDataInsufficient, "Insufficient or invalid data for ZZZ", nil)
	}}
	f := newFixture(t, runner, 10, true)
	ctx := context.Background()

	id, err := f.manager.Submit(ctx, sampleRequest())
	require.NoError(t, err)

	job := f.waitFor(t, id, JobFailed)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, "Backtest failed: Insufficient or invalid data for ZZZ", job.Message)
	assert.Equal(t, "Insufficient or invalid data for ZZZ", job.Error)

	_, err = f.manager.GetResults(ctx, id)
	assert.True(t, errors.IsCode(err, errors.ErrCodeJobNotCompleted))

	err = f.manager.Cancel(ctx, id)
	assert.True(t, errors.IsCode(err, errors.ErrCodeJobTerminal))
}

func TestManagerRecoversRunnerPanic(t *testing.T) {
	runner := &fakeRunner{run: func(context.Context, backtest.ProgressFunc) (*backtest.Results, error) {
		panic("index out of range")
	}}
	f := newFixture(t, runner, 10, true)

	id, err := f.manager.Submit(context.Background(), sampleRequest())
	require.NoError(t, err)

	job := f.waitFor(t, id, JobFailed)
	assert.Contains(t, job.Message, "panic: index out of range")
}

func TestManagerRejectsInvalidRequest(t *testing.T) {
	invalid := errors.NewAppError(errors.ErrCodeInvalidInput, "Invalid request: At least one asset is required", nil)
	f := newFixture(t, &fakeRunner{prepareErr: invalid}, 10, true)

	id, err := f.manager.Submit(context.Background(), backtest.Request{})
	require.Error(t, err)
	assert.Empty(t, id)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
	assert.Equal(t, 0, f.store.Len())
}

func TestManagerCancelPendingSkipsRun(t *testing.T) {
	runner := &fakeRunner{}
	f := newFixture(t, runner, 10, false)
	ctx := context.Background()

	id, err := f.manager.Submit(ctx, sampleRequest())
	require.NoError(t, err)

	require.NoError(t, f.manager.Cancel(ctx, id))
	job, err := f.manager.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, job.Status)
	assert.Equal(t, MessageCancelled, job.Message)

	err = f.manager.Cancel(ctx, id)
	assert.True(t, errors.IsCode(err, errors.ErrCodeJobTerminal))

	f.queue.Start(ctx)
	f.queue.Stop()
	assert.Equal(t, int64(0), runner.calls.Load())

	job, err = f.manager.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, job.Status)
}

func TestManagerCancelRunningIsCooperative(t *testing.T) {
	release := make(chan struct{})
	runner := &fakeRunner{run: func(_ context.Context, progress backtest.ProgressFunc) (*backtest.Results, error) {
		<-release
		progress(backtest.ProgressProcessing, backtest.MessageProcessing)
		return &backtest.Results{}, nil
	}}
	f := newFixture(t, runner, 10, true)
	ctx := context.Background()

	id, err := f.manager.Submit(ctx, sampleRequest())
	require.NoError(t, err)
	f.waitFor(t, id, JobRunning)

	require.NoError(t, f.manager.Cancel(ctx, id))
	close(release)
	f.queue.Stop()

	job, err := f.manager.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, job.Status)
	assert.Equal(t, ProgressFetching, job.Progress)
	assert.Equal(t, int64(1), runner.calls.Load())
}

func TestManagerNotFound(t *testing.T) {
	f := newFixture(t, &fakeRunner{}, 10, true)
	ctx := context.Background()

	_, err := f.manager.GetStatus(ctx, "bt_missing_1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeJobNotFound))
	_, err = f.manager.GetResults(ctx, "bt_missing_1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeJobNotFound))
	err = f.manager.Cancel(ctx, "bt_missing_1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeJobNotFound))
}

func TestManagerQueueFullMarksJobFailed(t *testing.T) {
	f := newFixture(t, &fakeRunner{}, 1, false)
	ctx := context.Background()

	_, err := f.manager.Submit(ctx, sampleRequest())
	require.NoError(t, err)

	_, err = f.manager.Submit(ctx, sampleRequest())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeQueueFull))

	history, err := f.manager.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, JobFailed, history[0].Status)
	assert.Contains(t, history[0].Message, "Backtest failed: Task queue is full")
	assert.Equal(t, JobPending, history[1].Status)
}

func TestManagerHistoryNewestFirst(t *testing.T) {
	f := newFixture(t, &fakeRunner{}, 10, true)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := f.manager.Submit(ctx, sampleRequest())
		require.NoError(t, err)
		ids = append(ids, id)
		f.waitFor(t, id, JobCompleted)
	}

	history, err := f.manager.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ids[2], history[0].ID)
	assert.Equal(t, ids[1], history[1].ID)
	assert.Nil(t, history[0].Result)

	all, err := f.manager.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestManagerWatchStreamsUntilTerminal(t *testing.T) {
	release := make(chan struct{})
	runner := &fakeRunner{run: func(_ context.Context, progress backtest.ProgressFunc) (*backtest.Results, error) {
		<-release
		progress(backtest.ProgressRunning, backtest.MessageRunning)
		progress(backtest.ProgressProcessing, backtest.MessageProcessing)
		return &backtest.Results{}, nil
	}}
	f := newFixture(t, runner, 10, true)

	id, err := f.manager.Submit(context.Background(), sampleRequest())
	require.NoError(t, err)
	f.waitFor(t, id, JobRunning)

	ch, stop := f.manager.Watch(id)
	defer stop()
	close(release)

	var progress []int
	for job := range ch {
		progress = append(progress, job.Progress)
	}
	assert.Equal(t, []int{30, 80, 100}, progress)

	closed, _ := f.manager.Watch(id)
	_, open := <-closed
	assert.False(t, open)
}

func TestManagerPublishFailureDoesNotFailJob(t *testing.T) {
	f := newFixture(t, &fakeRunner{}, 10, true)
	f.publisher.err = stderrors.New("kafka down")

	id, err := f.manager.Submit(context.Background(), sampleRequest())
	require.NoError(t, err)
	f.waitFor(t, id, JobCompleted)
}

func TestManagerSurvivesPrimaryStoreOutage(t *testing.T) {
	fallback := store.NewFallback(&testutils.FailingStore{}, nil, nil, logger.NewNop())
	queue := NewTaskQueue(1, 4, logger.NewNop())
	queue.Start(context.Background())
	defer queue.Stop()
	m := NewManager(fallback, &fakeRunner{}, queue, ManagerOptions{Logger: logger.NewNop()})

	id, err := m.Submit(context.Background(), sampleRequest())
	require.NoError(t, err)

	testutils.WaitForCondition(t, func() bool {
		job, err := m.GetStatus(context.Background(), id)
		return err == nil && job.Status == JobCompleted
	}, waitTimeout, "job did not complete on fallback store")
}

func TestManagerWithBacktestService(t *testing.T) {
	start := testutils.Day(2023, time.January, 1)
	now := func() time.Time { return testutils.Day(2024, time.June, 1) }

	newManager := func(t *testing.T, providers ...provider.Provider) *fixture {
		chain := provider.NewChain(provider.ChainOptions{Logger: logger.NewNop()})
		for _, p := range providers {
			chain.Register(p)
		}
		svc := backtest.NewService(chain, backtest.Options{Logger: logger.NewNop(), Now: now})
		return newFixture(t, svc, 10, true)
	}

	t.Run("reachable data completes", func(t *testing.T) {
		stub := testutils.NewStubProvider("stub",
			testutils.RisingSeries("AAPL", start, 200, 100, 140),
			testutils.RisingSeries("SPY", start, 200, 380, 400))
		f := newManager(t, stub)

		id, err := f.manager.Submit(context.Background(), sampleRequest())
		require.NoError(t, err)
		f.waitFor(t, id, JobCompleted)

		results, err := f.manager.GetResults(context.Background(), id)
		require.NoError(t, err)
		assert.Greater(t, results.Metrics.TotalReturn, 0.0)
		assert.NotNil(t, results.BenchmarkComparison)
	})

	t.Run("every provider failing fails the job", func(t *testing.T) {
		down := testutils.NewStubProvider("down")
		down.Err = stderrors.New("connection refused")
		f := newManager(t, down)

		id, err := f.manager.Submit(context.Background(), sampleRequest())
		require.NoError(t, err)
		job := f.waitFor(t, id, JobFailed)
		assert.Equal(t, "Backtest failed: Insufficient or invalid data for AAPL", job.Message)

		assert.Equal(t, []string{"pending", "running", "failed"}, f.waitStates(t, 3))
	})
}
