package service

import (
	"context"
	"time"

	"timecapsule/backend/internal/cache"
)

// UnlockThrottle 约束解锁尝试频率
//
// 键为"胶囊+调用方"组合，只统计口令校验失败：
//   - Allow 报告失败计数是否仍在限额内，本身不计数
//   - RecordFailure 记录一次校验失败
//
// 成功解锁不提前清零计数，窗口到期自然重置。
// Redis 部署用 redis.Limiter（跨实例共享计数），
// 单实例部署用 MemoryThrottle。
type UnlockThrottle interface {
	Allow(ctx context.Context, key string) (bool, error)
	RecordFailure(ctx context.Context, key string) error
}

// MemoryThrottle 进程内固定窗口限流器
type MemoryThrottle struct {
	counter *cache.CounterCache
	limit   int64
	window  time.Duration
}

// NewMemoryThrottle 创建进程内限流器
//
// 参数:
//   - limit: 窗口内允许的尝试次数
//   - window: 计数窗口长度
func NewMemoryThrottle(limit int, window time.Duration) *MemoryThrottle {
	return &MemoryThrottle{
		counter: cache.NewCounterCache(),
		limit:   int64(limit),
		window:  window,
	}
}

// Allow 判断当前窗口内的失败计数是否仍在限额内
func (t *MemoryThrottle) Allow(_ context.Context, key string) (bool, error) {
	return t.counter.Get(key) < t.limit, nil
}

// RecordFailure 记录一次口令校验失败
func (t *MemoryThrottle) RecordFailure(_ context.Context, key string) error {
	t.counter.Increment(key, t.window)
	return nil
}

// Close 停止后台清理协程
func (t *MemoryThrottle) Close() {
	t.counter.Close()
}
