package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/storage/memory"
)

// recordingNotifier 记录收到的揭示事件
type recordingNotifier struct {
	mu       sync.Mutex
	capsules []*domain.Capsule
}

func (n *recordingNotifier) NotifyReveal(_ context.Context, capsule *domain.Capsule) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.capsules = append(n.capsules, capsule)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.capsules)
}

// failMarkStore 让指定胶囊的标记操作失败
type failMarkStore struct {
	*memory.Store
	failID string
}

func (s *failMarkStore) MarkNotified(ctx context.Context, capsuleID string, at time.Time) error {
	if capsuleID == s.failID {
		return errors.New("mark boom")
	}
	return s.Store.MarkNotified(ctx, capsuleID, at)
}

func schedulerCapsule(t *testing.T, store *memory.Store, title string, revealAt time.Time) *domain.Capsule {
	t.Helper()

	owner := "owner-1"
	capsule, err := domain.NewCapsule(domain.NewCapsuleParams{
		Title:    title,
		Message:  "sealed body",
		Author:   "me",
		OwnerID:  &owner,
		RevealAt: revealAt,
	})
	assert.NoError(t, err)
	assert.NoError(t, store.CreateCapsule(context.Background(), capsule))
	return capsule
}

func TestRevealScheduler_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("只通知到点且未通知的胶囊", func(t *testing.T) {
		store := memory.NewStore()
		notifier := &recordingNotifier{}
		scheduler := NewRevealScheduler(store, time.Minute, zap.NewNop(), notifier)

		due1 := schedulerCapsule(t, store, "due-1", time.Now().Add(-2*time.Hour))
		due2 := schedulerCapsule(t, store, "due-2", time.Now().Add(-time.Hour))
		schedulerCapsule(t, store, "future", time.Now().Add(time.Hour))

		notified := scheduler.Sweep(ctx)

		assert.Equal(t, 2, notified)
		assert.Equal(t, 2, notifier.count())
		assert.Equal(t, due1.ID, notifier.capsules[0].ID)
		assert.Equal(t, due2.ID, notifier.capsules[1].ID)
	})

	t.Run("通知过的胶囊不再重复", func(t *testing.T) {
		store := memory.NewStore()
		notifier := &recordingNotifier{}
		scheduler := NewRevealScheduler(store, time.Minute, zap.NewNop(), notifier)

		schedulerCapsule(t, store, "due", time.Now().Add(-time.Hour))

		assert.Equal(t, 1, scheduler.Sweep(ctx))
		assert.Equal(t, 0, scheduler.Sweep(ctx))
		assert.Equal(t, 1, notifier.count())
	})

	t.Run("通知内容不含封存留言", func(t *testing.T) {
		store := memory.NewStore()
		notifier := &recordingNotifier{}
		scheduler := NewRevealScheduler(store, time.Minute, zap.NewNop(), notifier)

		schedulerCapsule(t, store, "due", time.Now().Add(-time.Hour))
		scheduler.Sweep(ctx)

		assert.Equal(t, 1, notifier.count())
		assert.Empty(t, notifier.capsules[0].Message)
		assert.Equal(t, "due", notifier.capsules[0].Title)
	})

	t.Run("标记失败时跳过通知留待下轮", func(t *testing.T) {
		inner := memory.NewStore()
		notifier := &recordingNotifier{}

		failing := schedulerCapsule(t, inner, "poisoned", time.Now().Add(-time.Hour))
		store := &failMarkStore{Store: inner, failID: failing.ID}
		scheduler := NewRevealScheduler(store, time.Minute, zap.NewNop(), notifier)

		assert.Equal(t, 0, scheduler.Sweep(ctx))
		assert.Equal(t, 0, notifier.count())

		// 标记恢复后下一轮补上
		store.failID = ""
		assert.Equal(t, 1, scheduler.Sweep(ctx))
		assert.Equal(t, 1, notifier.count())
	})

	t.Run("多个通知器都会收到事件", func(t *testing.T) {
		store := memory.NewStore()
		first := &recordingNotifier{}
		second := &recordingNotifier{}
		scheduler := NewRevealScheduler(store, time.Minute, zap.NewNop(), first, second)

		schedulerCapsule(t, store, "due", time.Now().Add(-time.Hour))
		scheduler.Sweep(ctx)

		assert.Equal(t, 1, first.count())
		assert.Equal(t, 1, second.count())
	})
}

func TestRevealScheduler_Run(t *testing.T) {
	t.Run("启动即补扫并随取消退出", func(t *testing.T) {
		store := memory.NewStore()
		notifier := &recordingNotifier{}
		scheduler := NewRevealScheduler(store, time.Hour, zap.NewNop(), notifier)

		schedulerCapsule(t, store, "due", time.Now().Add(-time.Hour))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- scheduler.Run(ctx) }()

		// 启动补扫不等第一个周期
		assert.Eventually(t, func() bool { return notifier.count() == 1 },
			time.Second, 10*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("scheduler did not stop after cancel")
		}
	})

	t.Run("周期到点的胶囊在下一轮被通知", func(t *testing.T) {
		store := memory.NewStore()
		notifier := &recordingNotifier{}
		scheduler := NewRevealScheduler(store, 10*time.Millisecond, zap.NewNop(), notifier)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- scheduler.Run(ctx) }()

		schedulerCapsule(t, store, "due-later", time.Now().Add(5*time.Millisecond))

		assert.Eventually(t, func() bool { return notifier.count() == 1 },
			time.Second, 10*time.Millisecond)

		cancel()
		<-done
	})
}
