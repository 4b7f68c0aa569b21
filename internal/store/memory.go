package store

import (
	"context"
	"sync"
	"time"
)

// Memory 进程内存储，用作开发环境存储和持久化降级时的备份
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[string]string
}

// NewMemory 创建内存存储
func NewMemory() *Memory {
	return &Memory{records: make(map[string]map[string]string)}
}

func (m *Memory) Name() string { return "memory" }

// SetFields 合并字段
func (m *Memory) SetFields(_ context.Context, id string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		rec = make(map[string]string, len(fields)+1)
		m.records[id] = rec
	}
	for k, v := range fields {
		rec[k] = v
	}
	if _, ok := rec[FieldID]; !ok {
		rec[FieldID] = id
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneFields(rec), nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]map[string]string, error) {
	m.mu.RLock()
	out := make([]map[string]string, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, cloneFields(rec))
	}
	m.mu.RUnlock()

	sortByCreatedDesc(out)
	return truncate(out, limit), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// Len 记录数
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Sweep 删除 updated_at 早于 cutoff 且 removable 返回 true 的记录，返回删除数量
func (m *Memory) Sweep(cutoff time.Time, removable func(map[string]string) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, rec := range m.records {
		if !Timestamp(rec, FieldUpdatedAt).Before(cutoff) {
			continue
		}
		if removable != nil && !removable(rec) {
			continue
		}
		delete(m.records, id)
		removed++
	}
	return removed
}
