package store

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/config"
	"backtester/internal/logger"
	"backtester/internal/testutils"
)

var base = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func record(id, status string, created, updated time.Time) map[string]string {
	return map[string]string{
		FieldID:        id,
		"status":       status,
		FieldCreatedAt: FormatTime(created),
		FieldUpdatedAt: FormatTime(updated),
	}
}

type countingObserver struct {
	ops []string
}

func (o *countingObserver) RecordFallbackWrite(op string) {
	o.ops = append(o.ops, op)
}

func TestMemorySetAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SetFields(ctx, "job1", map[string]string{"status": "pending", "progress": "0"}))
	require.NoError(t, m.SetFields(ctx, "job1", map[string]string{"progress": "30"}))

	got, err := m.Get(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, "pending", got["status"])
	assert.Equal(t, "30", got["progress"])
	assert.Equal(t, "job1", got[FieldID])

	got["status"] = "mutated"
	again, _ := m.Get(ctx, "job1")
	assert.Equal(t, "pending", again["status"])
}

func TestMemoryRecentOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i, id := range []string{"a", "b", "c"} {
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, m.SetFields(ctx, id, record(id, "completed", ts, ts)))
	}

	recent, err := m.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0][FieldID])
	assert.Equal(t, "b", recent[1][FieldID])
}

func TestMemorySweep(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	old := base.Add(-48 * time.Hour)
	require.NoError(t, m.SetFields(ctx, "old-done", record("old-done", "completed", old, old)))
	require.NoError(t, m.SetFields(ctx, "old-running", record("old-running", "running", old, old)))
	require.NoError(t, m.SetFields(ctx, "fresh", record("fresh", "completed", base, base)))

	terminal := func(rec map[string]string) bool { return rec["status"] != "running" }
	removed := m.Sweep(base.Add(-24*time.Hour), terminal)

	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, m.Len())
	_, err := m.Get(ctx, "old-done")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFallbackWritesToMemoryWhenPrimaryFails(t *testing.T) {
	ctx := context.Background()
	primary := &testutils.FailingStore{}
	observer := &countingObserver{}
	f := NewFallback(primary, nil, observer, logger.NewNop())

	require.NoError(t, f.SetFields(ctx, "job1", record("job1", "pending", base, base)))

	assert.Equal(t, int64(1), primary.Writes.Load())
	assert.Equal(t, []string{"set"}, observer.ops)
	assert.Equal(t, 1, f.Secondary.Len())

	got, err := f.Get(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, "pending", got["status"])

	_, err = f.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := f.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Error(t, f.Ping(ctx))
	assert.Equal(t, "fallback(failing)", f.Name())
}

func TestFallbackPrefersNewerRecord(t *testing.T) {
	ctx := context.Background()
	primary := NewMemory()
	f := NewFallback(primary, NewMemory(), nil, logger.NewNop())

	require.NoError(t, primary.SetFields(ctx, "job1", record("job1", "running", base, base.Add(time.Minute))))
	require.NoError(t, f.Secondary.SetFields(ctx, "job1", record("job1", "completed", base, base.Add(2*time.Minute))))

	got, err := f.Get(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got["status"])

	require.NoError(t, primary.SetFields(ctx, "job1", record("job1", "failed", base, base.Add(3*time.Minute))))
	got, err = f.Get(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, "failed", got["status"])
}

func TestFallbackRecentMergesAndDedupes(t *testing.T) {
	ctx := context.Background()
	primary := NewMemory()
	f := NewFallback(primary, NewMemory(), nil, logger.NewNop())

	require.NoError(t, primary.SetFields(ctx, "a", record("a", "completed", base, base)))
	require.NoError(t, primary.SetFields(ctx, "b", record("b", "running", base.Add(time.Minute), base.Add(time.Minute))))
	require.NoError(t, f.Secondary.SetFields(ctx, "b", record("b", "completed", base.Add(time.Minute), base.Add(5*time.Minute))))
	require.NoError(t, f.Secondary.SetFields(ctx, "c", record("c", "pending", base.Add(2*time.Minute), base.Add(2*time.Minute))))

	history, err := f.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "c", history[0][FieldID])
	assert.Equal(t, "b", history[1][FieldID])
	assert.Equal(t, "completed", history[1]["status"])
	assert.Equal(t, "a", history[2][FieldID])

	limited, err := f.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRedisKeyHelpers(t *testing.T) {
	assert.Equal(t, "backtest:job:bt_1234abcd_1700000000", jobKey("bt_1234abcd_1700000000"))

	fields := record("x", "pending", base, base)
	assert.Equal(t, float64(base.UnixMilli()), indexScore(fields, time.Now()))

	now := base.Add(time.Hour)
	assert.Equal(t, float64(now.UnixMilli()), indexScore(map[string]string{}, now))

	args := hashArgs(map[string]string{"status": "running"})
	assert.Equal(t, []interface{}{"status", "running"}, args)
}

func TestPostgresEncoding(t *testing.T) {
	fields := record("job1", "completed", base, base.Add(time.Minute))
	fields["result"] = `{"metrics":{"total_return":12.5}}`

	raw, err := encodeFields(fields)
	require.NoError(t, err)
	decoded, err := decodeFields(raw)
	require.NoError(t, err)
	assert.Equal(t, fields, decoded)

	created, updated := rowTimes(fields, time.Now())
	assert.True(t, created.Equal(base))
	assert.True(t, updated.Equal(base.Add(time.Minute)))

	now := time.Now().UTC()
	created, updated = rowTimes(map[string]string{}, now)
	assert.Equal(t, now, created)
	assert.Equal(t, now, updated)

	_, err = decodeFields([]byte("not json"))
	assert.Error(t, err)
}

func TestTimestamp(t *testing.T) {
	assert.True(t, Timestamp(map[string]string{FieldCreatedAt: FormatTime(base)}, FieldCreatedAt).Equal(base))
	assert.True(t, Timestamp(map[string]string{}, FieldCreatedAt).IsZero())
	assert.True(t, Timestamp(map[string]string{FieldCreatedAt: "garbage"}, FieldCreatedAt).IsZero())
}

func TestOpenKeepsUnreachableRedisBehindFallback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := &config.Config{
		Store: config.StoreConfig{Backend: BackendRedis},
		Redis: config.RedisConfig{Addr: "127.0.0.1:1"},
	}
	observer := &countingObserver{}
	st, memory, err := Open(ctx, cfg, observer, logger.NewNop())
	require.NoError(t, err)
	defer st.Close()

	f, ok := st.(*Fallback)
	require.True(t, ok, "expected fallback, got %T", st)
	assert.Equal(t, "redis", f.Primary.Name())
	assert.Same(t, memory, f.Secondary)
	assert.Error(t, st.Ping(ctx))

	require.NoError(t, st.SetFields(ctx, "job1", record("job1", "pending", base, base)))
	assert.Equal(t, 1, memory.Len())
	assert.Equal(t, []string{"set"}, observer.ops)
}

func TestOpenMemoryAndUnknownBackends(t *testing.T) {
	st, memory, err := Open(context.Background(), &config.Config{}, nil, logger.NewNop())
	require.NoError(t, err)
	assert.Same(t, memory, st)

	_, _, err = Open(context.Background(), &config.Config{Store: config.StoreConfig{Backend: "etcd"}}, nil, logger.NewNop())
	assert.Error(t, err)
}

func TestMigratedPostgresRetriesUntilMigrated(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	pg := &migratedPostgres{
		log: logger.NewNop(),
		migrate: func(ctx context.Context) error {
			attempts++
			if attempts == 1 {
				return stderrors.New("connection refused")
			}
			return nil
		},
	}
	f := NewFallback(pg, nil, nil, logger.NewNop())

	// 首次迁移失败，写入降级到内存
	require.NoError(t, f.SetFields(ctx, "job1", record("job1", "pending", base, base)))
	assert.Equal(t, 1, f.Secondary.Len())
	assert.False(t, pg.migrated)

	require.NoError(t, pg.ensure(ctx))
	require.NoError(t, pg.ensure(ctx))
	assert.True(t, pg.migrated)
	assert.Equal(t, 2, attempts)
}
