package store

import (
	"context"
	stderrors "errors"
	"fmt"

	"backtester/internal/errors"
	"backtester/internal/logger"
)

// Observer 记录降级写入，monitoring.Metrics 实现了该接口
type Observer interface {
	RecordFallbackWrite(op string)
}

// Fallback 主存储失败时降级到内存存储。
// 读取时两边都有记录则取 updated_at 较新的一份，保证同一任务的读取单调。
type Fallback struct {
	Primary   Store
	Secondary *Memory
	Observer  Observer
	Logger    logger.Logger
}

// NewFallback 创建降级存储
func NewFallback(primary Store, secondary *Memory, observer Observer, log logger.Logger) *Fallback {
	if secondary == nil {
		secondary = NewMemory()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Fallback{Primary: primary, Secondary: secondary, Observer: observer, Logger: log}
}

func (f *Fallback) Name() string {
	return fmt.Sprintf("fallback(%s)", f.Primary.Name())
}

func (f *Fallback) degraded(op, id string, cause error) {
	appErr := errors.NewAppError(errors.ErrCodePersistenceDegraded, "Primary store unavailable, using memory fallback", cause)
	f.Logger.Warn(appErr.Message,
		logger.FieldStore, f.Primary.Name(),
		logger.FieldJobID, id,
		"op", op,
		"code", appErr.Code,
		"error", cause)
	if f.Observer != nil {
		f.Observer.RecordFallbackWrite(op)
	}
}

// SetFields 优先写主存储，失败时写内存
func (f *Fallback) SetFields(ctx context.Context, id string, fields map[string]string) error {
	err := f.Primary.SetFields(ctx, id, fields)
	if err == nil {
		return nil
	}
	f.degraded("set", id, err)
	return f.Secondary.SetFields(ctx, id, fields)
}

// Get 两边都读，取较新的一份
func (f *Fallback) Get(ctx context.Context, id string) (map[string]string, error) {
	primary, perr := f.Primary.Get(ctx, id)
	if perr != nil && !stderrors.Is(perr, ErrNotFound) {
		f.Logger.Debug("Primary store read failed", logger.FieldJobID, id, "error", perr)
	}
	secondary, serr := f.Secondary.Get(ctx, id)

	switch {
	case perr == nil && serr == nil:
		if newer(secondary, primary) {
			return secondary, nil
		}
		return primary, nil
	case perr == nil:
		return primary, nil
	case serr == nil:
		return secondary, nil
	default:
		return nil, ErrNotFound
	}
}

// Recent 合并两边的最近记录，同一ID取较新的一份
func (f *Fallback) Recent(ctx context.Context, limit int) ([]map[string]string, error) {
	merged := make(map[string]map[string]string)
	order := make([]string, 0)

	add := func(records []map[string]string) {
		for _, rec := range records {
			id := rec[FieldID]
			if existing, ok := merged[id]; ok {
				if newer(rec, existing) {
					merged[id] = rec
				}
				continue
			}
			merged[id] = rec
			order = append(order, id)
		}
	}

	primary, err := f.Primary.Recent(ctx, limit)
	if err != nil {
		f.Logger.Debug("Primary store history failed", "error", err)
	} else {
		add(primary)
	}
	secondary, _ := f.Secondary.Recent(ctx, limit)
	add(secondary)

	out := make([]map[string]string, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	sortByCreatedDesc(out)
	return truncate(out, limit), nil
}

// Ping 只检查主存储
func (f *Fallback) Ping(ctx context.Context) error {
	return f.Primary.Ping(ctx)
}

func (f *Fallback) Close() error {
	perr := f.Primary.Close()
	serr := f.Secondary.Close()
	if perr != nil {
		return perr
	}
	return serr
}
