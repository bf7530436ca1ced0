package redis

import (
	"context"
	"fmt"
	"time"
)

// Limiter 基于 Redis 的固定窗口失败计数器。
// 多实例部署时解锁失败额度在实例间共享，单实例部署可用
// 进程内计数缓存替代。只统计失败，成功不清零，窗口到期自然重置。
type Limiter struct {
	client *Client
	limit  int64
	window time.Duration
	prefix string
}

// NewLimiter 创建固定窗口限流器
func NewLimiter(client *Client, limit int, window time.Duration, prefix string) *Limiter {
	return &Limiter{
		client: client,
		limit:  int64(limit),
		window: window,
		prefix: prefix,
	}
}

// Allow 判断窗口内的失败计数是否仍在额度内，本身不计数
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := l.client.GetInt64(ctx, l.prefix+":"+key)
	if err != nil {
		return false, fmt.Errorf("failed to read rate limit counter: %w", err)
	}
	return count < l.limit, nil
}

// RecordFailure 记录一次失败。
// 第一次失败开启窗口，键随窗口到期整体过期。
func (l *Limiter) RecordFailure(ctx context.Context, key string) error {
	full := l.prefix + ":" + key

	count, err := l.client.Incr(ctx, full)
	if err != nil {
		return fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, full, l.window); err != nil {
			return fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}
	return nil
}
