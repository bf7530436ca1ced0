package storage

import (
	"context"
	"errors"
	"time"

	"timecapsule/backend/internal/domain"
)

var (
	// ErrCapsuleNotFound 胶囊未找到（包括存在但归属他人的情况，调用方不可区分）
	ErrCapsuleNotFound = errors.New("capsule not found")
	// ErrCapsuleExists 胶囊 ID 冲突
	ErrCapsuleExists = errors.New("capsule already exists")
)

// CapsuleRepository 定义胶囊数据存取操作。
//
// 所有读取都以所有者为界：存在但归属他人的胶囊一律报告为未找到。
// ownerID 为 nil 表示匿名调用上下文——匿名上下文可读任何胶囊，
// 但只能删除归属于自己的（即什么都删不了）。
type CapsuleRepository interface {
	// CreateCapsule 原子写入胶囊与其全部附件，不存在部分写入
	CreateCapsule(ctx context.Context, capsule *domain.Capsule) error
	// GetCapsule 读取单枚胶囊，附件一并装载
	GetCapsule(ctx context.Context, ownerID *string, id string) (*domain.Capsule, error)
	// ListCapsules 列出所有者的全部胶囊；封存内容在存储读取层即被排除
	ListCapsules(ctx context.Context, ownerID string) ([]*domain.Capsule, error)
	// DeleteCapsule 原子删除胶囊及其附件行，返回被删对象供调用方清理存储对象
	DeleteCapsule(ctx context.Context, ownerID *string, id string) (*domain.Capsule, error)
}

// RevealLogRepository 定义揭示通知发件箱操作。
type RevealLogRepository interface {
	// DueCapsules 返回已到揭示时刻且尚未通知的胶囊，按揭示时刻升序
	DueCapsules(ctx context.Context, now time.Time, limit int) ([]*domain.Capsule, error)
	// MarkNotified 记录通知已发出；先标记后发送，重复通知只会出现在崩溃窗口内
	MarkNotified(ctx context.Context, capsuleID string, at time.Time) error
}

// Store 定义完整的存储接口。
type Store interface {
	CapsuleRepository
	RevealLogRepository

	// 工具方法
	Close() error
	Health() error
}
