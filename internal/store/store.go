package store

import (
	"context"
	stderrors "errors"
	"sort"
	"time"
)

// ErrNotFound 记录不存在
var ErrNotFound = stderrors.New("record not found")

// 所有后端共用的字段名
const (
	FieldID        = "request_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// TimeLayout 时间字段格式
const TimeLayout = time.RFC3339Nano

// Store 按任务ID存放扁平字段记录。SetFields 合并字段，Get 返回完整记录。
type Store interface {
	Name() string
	SetFields(ctx context.Context, id string, fields map[string]string) error
	Get(ctx context.Context, id string) (map[string]string, error)
	// Recent 按 created_at 倒序返回最近的 limit 条记录
	Recent(ctx context.Context, limit int) ([]map[string]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Timestamp 读取时间字段，缺失或格式错误时为零值
func Timestamp(fields map[string]string, key string) time.Time {
	t, err := time.Parse(TimeLayout, fields[key])
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatTime 按存储格式序列化时间
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func cloneFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// newer 报告 a 的 updated_at 是否晚于 b
func newer(a, b map[string]string) bool {
	return Timestamp(a, FieldUpdatedAt).After(Timestamp(b, FieldUpdatedAt))
}

func sortByCreatedDesc(records []map[string]string) {
	sort.SliceStable(records, func(i, j int) bool {
		return Timestamp(records[i], FieldCreatedAt).After(Timestamp(records[j], FieldCreatedAt))
	})
}

func truncate(records []map[string]string, limit int) []map[string]string {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}
