package orchestrator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"backtester/internal/backtest"
	"backtester/internal/store"
)

// JobState 任务状态
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// 状态消息
const (
	MessageQueued    = "Backtest queued for execution"
	MessageFetching  = "Fetching historical data..."
	MessageCompleted = "Backtest completed successfully"
	MessageCancelled = "Backtest cancelled by user"
	messageFailedFmt = "Backtest failed: %s"

	ProgressFetching = 10
	ProgressDone     = 100
)

// Terminal 终态不可再迁移
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

var transitions = map[JobState][]JobState{
	JobPending: {JobRunning, JobCancelled, JobFailed},
	JobRunning: {JobCompleted, JobFailed, JobCancelled},
}

// CanTransition 状态迁移表
func CanTransition(from, to JobState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Job 一个回测任务的完整记录
type Job struct {
	ID        string            `json:"request_id"`
	Status    JobState          `json:"status"`
	Progress  int               `json:"progress"`
	Message   string            `json:"message"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Config    *backtest.Request `json:"config,omitempty"`
	Result    *backtest.Results `json:"result,omitempty"`
}

// 记录字段名
const (
	fieldStatus   = "status"
	fieldProgress = "progress"
	fieldMessage  = "message"
	fieldError    = "error"
	fieldConfig   = "config"
	fieldResult   = "result"
)

// Fields 序列化为存储使用的扁平字段，始终输出完整记录
func (j *Job) Fields() (map[string]string, error) {
	fields := map[string]string{
		store.FieldID:        j.ID,
		fieldStatus:          string(j.Status),
		fieldProgress:        strconv.Itoa(j.Progress),
		fieldMessage:         j.Message,
		fieldError:           j.Error,
		store.FieldCreatedAt: store.FormatTime(j.CreatedAt),
		store.FieldUpdatedAt: store.FormatTime(j.UpdatedAt),
	}
	if j.Config != nil {
		raw, err := json.Marshal(j.Config)
		if err != nil {
			return nil, fmt.Errorf("encode config: %w", err)
		}
		fields[fieldConfig] = string(raw)
	}
	if j.Result != nil {
		raw, err := json.Marshal(j.Result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		fields[fieldResult] = string(raw)
	}
	return fields, nil
}

// JobFromFields 从存储字段还原任务；withResult 为 false 时跳过结果解析
func JobFromFields(fields map[string]string, withResult bool) (*Job, error) {
	job := &Job{
		ID:        fields[store.FieldID],
		Status:    JobState(fields[fieldStatus]),
		Message:   fields[fieldMessage],
		Error:     fields[fieldError],
		CreatedAt: store.Timestamp(fields, store.FieldCreatedAt),
		UpdatedAt: store.Timestamp(fields, store.FieldUpdatedAt),
	}
	if p, err := strconv.Atoi(fields[fieldProgress]); err == nil {
		job.Progress = p
	}
	if raw := fields[fieldConfig]; raw != "" {
		var req backtest.Request
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return nil, fmt.Errorf("decode config of %s: %w", job.ID, err)
		}
		job.Config = &req
	}
	if withResult {
		if raw := fields[fieldResult]; raw != "" {
			var res backtest.Results
			if err := json.Unmarshal([]byte(raw), &res); err != nil {
				return nil, fmt.Errorf("decode result of %s: %w", job.ID, err)
			}
			job.Result = &res
		}
	}
	return job, nil
}

func (j *Job) clone() Job {
	c := *j
	return c
}
