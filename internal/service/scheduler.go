package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/storage"
)

// defaultRevealBatch 单轮扫描的胶囊数量上限
const defaultRevealBatch = 100

// RevealNotifier 接收揭示事件
//
// websocket 推送与邮件通知都实现本接口。通知是尽力而为：
// 失败由实现方自行记录，不会回滚发件箱标记。
// 传入的胶囊不含封存内容。
type RevealNotifier interface {
	NotifyReveal(ctx context.Context, capsule *domain.Capsule)
}

// RevealScheduler 揭示扫描器
//
// 周期扫描发件箱（RevealAt 已到且未通知的胶囊），先标记
// 后通知。至少一次语义：重复通知只会出现在标记与通知之间
// 进程崩溃的窗口内。
type RevealScheduler struct {
	store     storage.Store
	notifiers []RevealNotifier
	interval  time.Duration
	batch     int
	logger    *zap.Logger
}

// NewRevealScheduler 创建揭示扫描器
func NewRevealScheduler(store storage.Store, interval time.Duration, logger *zap.Logger, notifiers ...RevealNotifier) *RevealScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RevealScheduler{
		store:     store,
		notifiers: notifiers,
		interval:  interval,
		batch:     defaultRevealBatch,
		logger:    logger,
	}
}

// Run 阻塞运行扫描循环，直到 ctx 取消
//
// 启动时先补扫一轮，停机期间到点的胶囊不用等下一个周期。
func (s *RevealScheduler) Run(ctx context.Context) error {
	s.logger.Info("reveal scheduler started", zap.Duration("interval", s.interval))
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reveal scheduler stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep 立即执行一轮扫描，返回完成通知的胶囊数
func (s *RevealScheduler) Sweep(ctx context.Context) int {
	now := time.Now()
	due, err := s.store.DueCapsules(ctx, now, s.batch)
	if err != nil {
		s.logger.Error("due capsule scan failed", zap.Error(err))
		return 0
	}

	notified := 0
	for _, capsule := range due {
		// 先标记后通知；标记失败跳过，留给下一轮重扫
		if err := s.store.MarkNotified(ctx, capsule.ID, now); err != nil {
			s.logger.Error("mark notified failed",
				zap.String("capsule_id", capsule.ID),
				zap.Error(err))
			continue
		}

		for _, n := range s.notifiers {
			n.NotifyReveal(ctx, capsule)
		}
		notified++

		s.logger.Info("capsule revealed",
			zap.String("capsule_id", capsule.ID),
			zap.Time("reveal_at", capsule.RevealAt))
	}
	return notified
}
