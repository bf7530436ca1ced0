package objectstore

import (
	"context"
	"math/rand"
	"time"
)

const (
	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// withRetry 带指数退避与抖动地重试操作
//
// 只用于授权刷新与签名地址获取：这两类调用幂等且便宜。
// 字节传输（上传、删除）不经过这里，一律单次执行。
func withRetry(ctx context.Context, attempts int, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := retryBaseDelay
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		// 指数退避 + 随机抖动，避免同步重试风暴
		jitter := time.Duration(rand.Int63n(int64(delay) / 2))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return err
}
