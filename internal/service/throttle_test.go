package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryThrottle(t *testing.T) {
	ctx := context.Background()

	t.Run("Allow只读不消耗额度", func(t *testing.T) {
		throttle := NewMemoryThrottle(2, time.Minute)
		defer throttle.Close()

		for i := 0; i < 10; i++ {
			allowed, err := throttle.Allow(ctx, "cap-1:1.1.1.1")
			assert.NoError(t, err)
			assert.True(t, allowed)
		}
	})

	t.Run("失败计满后拒绝", func(t *testing.T) {
		throttle := NewMemoryThrottle(2, time.Minute)
		defer throttle.Close()

		assert.NoError(t, throttle.RecordFailure(ctx, "cap-1:1.1.1.1"))
		allowed, _ := throttle.Allow(ctx, "cap-1:1.1.1.1")
		assert.True(t, allowed)

		assert.NoError(t, throttle.RecordFailure(ctx, "cap-1:1.1.1.1"))
		allowed, err := throttle.Allow(ctx, "cap-1:1.1.1.1")
		assert.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("不同键的计数独立", func(t *testing.T) {
		throttle := NewMemoryThrottle(1, time.Minute)
		defer throttle.Close()

		throttle.RecordFailure(ctx, "cap-1:1.1.1.1")
		allowed, _ := throttle.Allow(ctx, "cap-1:1.1.1.1")
		assert.False(t, allowed)

		allowed, _ = throttle.Allow(ctx, "cap-2:1.1.1.1")
		assert.True(t, allowed)
		allowed, _ = throttle.Allow(ctx, "cap-1:2.2.2.2")
		assert.True(t, allowed)
	})

	t.Run("窗口过期后计数重置", func(t *testing.T) {
		throttle := NewMemoryThrottle(1, 10*time.Millisecond)
		defer throttle.Close()

		throttle.RecordFailure(ctx, "cap-1:1.1.1.1")
		allowed, _ := throttle.Allow(ctx, "cap-1:1.1.1.1")
		assert.False(t, allowed)

		time.Sleep(20 * time.Millisecond)

		allowed, _ = throttle.Allow(ctx, "cap-1:1.1.1.1")
		assert.True(t, allowed)
	})
}
