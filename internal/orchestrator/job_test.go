package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/backtest"
	"backtester/internal/metrics"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to JobState
		ok       bool
	}{
		{JobPending, JobRunning, true},
		{JobPending, JobCancelled, true},
		{JobPending, JobFailed, true},
		{JobPending, JobCompleted, false},
		{JobRunning, JobCompleted, true},
		{JobRunning, JobFailed, true},
		{JobRunning, JobCancelled, true},
		{JobRunning, JobPending, false},
		{JobCompleted, JobFailed, false},
		{JobFailed, JobRunning, false},
		{JobCancelled, JobCompleted, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	for _, s := range []JobState{JobCompleted, JobFailed, JobCancelled} {
		assert.True(t, s.Terminal())
	}
	assert.False(t, JobRunning.Terminal())
}

func TestJobFieldsCarryResult(t *testing.T) {
	created := time.Date(2024, time.February, 3, 4, 5, 6, 0, time.UTC)
	job := &Job{
		ID:        "bt_0011aabb_1706933106",
		Status:    JobCompleted,
		Progress:  100,
		Message:   MessageCompleted,
		CreatedAt: created,
		UpdatedAt: created.Add(2 * time.Second),
		Config:    &backtest.Request{StartDate: "2023-01-01", EndDate: "2023-12-31", StrategyType: "buy_and_hold"},
		Result: &backtest.Results{
			RequestID:           "bt_0011aabb_1706933106",
			Metrics:             metrics.Bundle{TotalReturn: 12.5, TotalTrades: 1},
			FinalPortfolioValue: 112500,
		},
	}

	fields, err := job.Fields()
	require.NoError(t, err)
	assert.Equal(t, "100", fields["progress"])
	assert.Contains(t, fields["result"], `"total_return":12.5`)

	withoutResult, err := JobFromFields(fields, false)
	require.NoError(t, err)
	assert.Nil(t, withoutResult.Result)
	assert.Equal(t, "buy_and_hold", withoutResult.Config.StrategyType)

	full, err := JobFromFields(fields, true)
	require.NoError(t, err)
	require.NotNil(t, full.Result)
	assert.Equal(t, 112500.0, full.Result.FinalPortfolioValue)
	assert.True(t, full.CreatedAt.Equal(created))
	assert.Equal(t, JobCompleted, full.Status)

	fields["result"] = "{broken"
	_, err = JobFromFields(fields, true)
	assert.Error(t, err)
}
