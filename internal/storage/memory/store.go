package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/storage"
)

// Store 使用内存保存胶囊数据，主要用于开发与测试。
//
// 所有写操作在单一锁区间内完成，天然满足"胶囊与附件要么全部写入
// 要么全部不写入"的原子性要求。读取返回深拷贝，调用方改动不会
// 渗入存储。
type Store struct {
	mu       sync.RWMutex
	capsules map[string]*domain.Capsule     // capsuleID -> capsule
	byOwner  map[string]map[string]struct{} // ownerID -> capsuleID 集合
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		capsules: make(map[string]*domain.Capsule),
		byOwner:  make(map[string]map[string]struct{}),
	}
}

// CreateCapsule 原子写入胶囊与附件。
func (s *Store) CreateCapsule(ctx context.Context, capsule *domain.Capsule) error {
	if err := capsule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.capsules[capsule.ID]; ok {
		return storage.ErrCapsuleExists
	}

	s.capsules[capsule.ID] = cloneCapsule(capsule, true)
	if capsule.OwnerID != nil {
		owner := *capsule.OwnerID
		if s.byOwner[owner] == nil {
			s.byOwner[owner] = make(map[string]struct{})
		}
		s.byOwner[owner][capsule.ID] = struct{}{}
	}
	return nil
}

// GetCapsule 读取单枚胶囊，附件一并装载。
// 归属他人的胶囊报告为未找到；无主胶囊任何调用方可读。
func (s *Store) GetCapsule(ctx context.Context, ownerID *string, id string) (*domain.Capsule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	capsule, ok := s.capsules[id]
	if !ok {
		return nil, storage.ErrCapsuleNotFound
	}
	if !readableBy(capsule, ownerID) {
		return nil, storage.ErrCapsuleNotFound
	}
	return cloneCapsule(capsule, true), nil
}

// ListCapsules 列出所有者的全部胶囊，按创建时刻降序。
// 封存内容在读取层即被排除，无主胶囊不出现在任何列表里。
func (s *Store) ListCapsules(ctx context.Context, ownerID string) ([]*domain.Capsule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Capsule, 0, len(s.byOwner[ownerID]))
	for id := range s.byOwner[ownerID] {
		if capsule, ok := s.capsules[id]; ok {
			result = append(result, cloneCapsule(capsule, false))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteCapsule 原子删除胶囊及其附件，返回被删对象供调用方清理存储对象。
// 无主胶囊不可删除，对任何调用方都报告为未找到。
func (s *Store) DeleteCapsule(ctx context.Context, ownerID *string, id string) (*domain.Capsule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	capsule, ok := s.capsules[id]
	if !ok {
		return nil, storage.ErrCapsuleNotFound
	}
	if capsule.OwnerID == nil || ownerID == nil || *capsule.OwnerID != *ownerID {
		return nil, storage.ErrCapsuleNotFound
	}

	delete(s.capsules, id)
	if owned := s.byOwner[*capsule.OwnerID]; owned != nil {
		delete(owned, id)
		if len(owned) == 0 {
			delete(s.byOwner, *capsule.OwnerID)
		}
	}
	return cloneCapsule(capsule, true), nil
}

// DueCapsules 返回已到揭示时刻且尚未通知的胶囊，按揭示时刻升序。
// 封存内容不随通知流出，读取层即排除。
func (s *Store) DueCapsules(ctx context.Context, now time.Time, limit int) ([]*domain.Capsule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]*domain.Capsule, 0)
	for _, capsule := range s.capsules {
		if capsule.NotifiedAt == nil && !capsule.RevealAt.After(now) {
			due = append(due, cloneCapsule(capsule, false))
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].RevealAt.Before(due[j].RevealAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkNotified 记录通知已发出。
func (s *Store) MarkNotified(ctx context.Context, capsuleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	capsule, ok := s.capsules[capsuleID]
	if !ok {
		return storage.ErrCapsuleNotFound
	}
	at = at.UTC()
	capsule.NotifiedAt = &at
	return nil
}

// Close 实现 storage.Store 接口。
func (s *Store) Close() error {
	return nil
}

// Health 实现 storage.Store 接口。
func (s *Store) Health() error {
	return nil
}

// readableBy 判断胶囊对给定调用方是否可见。
// 无主胶囊人人可读；有主胶囊只有所有者本人可读。
func readableBy(capsule *domain.Capsule, ownerID *string) bool {
	if capsule.OwnerID == nil {
		return true
	}
	return ownerID != nil && *capsule.OwnerID == *ownerID
}

// cloneCapsule 深拷贝胶囊；withMessage 为 false 时封存内容不进入副本
func cloneCapsule(c *domain.Capsule, withMessage bool) *domain.Capsule {
	clone := *c
	if !withMessage {
		clone.Message = ""
	}
	clone.OwnerID = cloneString(c.OwnerID)
	clone.PassphraseDigest = cloneString(c.PassphraseDigest)
	clone.NotifiedAt = cloneTime(c.NotifiedAt)

	clone.Attachments = make([]*domain.Attachment, len(c.Attachments))
	for i, a := range c.Attachments {
		att := *a
		att.PosterKey = cloneString(a.PosterKey)
		att.DurationMS = cloneInt64(a.DurationMS)
		clone.Attachments[i] = &att
	}
	return &clone
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
