package objectstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"timecapsule/backend/internal/config"
)

type memoryObject struct {
	data        []byte
	contentType string
	uploadedAt  time.Time
}

// MemoryStore 内存对象存储，用于测试与开发环境
//
// 签名地址是凭空编造的（memory.invalid 域名），只保证格式与有效期
// 语义同真实实现一致。
type MemoryStore struct {
	cfg config.ObjectStoreConfig

	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemoryStore 创建内存对象存储
func NewMemoryStore(cfg config.ObjectStoreConfig) *MemoryStore {
	return &MemoryStore{
		cfg:     cfg,
		objects: make(map[string]memoryObject),
	}
}

// Upload 保存字节副本
func (m *MemoryStore) Upload(ctx context.Context, key, contentType string, body []byte) (*UploadResult, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	data := make([]byte, len(body))
	copy(data, body)
	now := time.Now().UTC()

	m.mu.Lock()
	m.objects[key] = memoryObject{data: data, contentType: contentType, uploadedAt: now}
	m.mu.Unlock()

	return &UploadResult{Key: key, SizeBytes: int64(len(data)), UploadedAt: now}, nil
}

// SignedDownload 返回编造的下载地址；对象必须存在
func (m *MemoryStore) SignedDownload(ctx context.Context, key string, ttl time.Duration) (*SignedURL, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}

	ttl = clampTTL(ttl, m.cfg.DownloadTTL, m.cfg.DownloadTTLMax)
	expiresAt := time.Now().UTC().Add(ttl)

	return &SignedURL{
		URL:       fmt.Sprintf("https://memory.invalid/%s/%s?expires=%d", m.cfg.Bucket, key, expiresAt.Unix()),
		ExpiresAt: expiresAt,
	}, nil
}

// UploadTarget 返回编造的直传地址
func (m *MemoryStore) UploadTarget(ctx context.Context, key, contentType string, ttl time.Duration) (*UploadTarget, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	ttl = clampTTL(ttl, m.cfg.DownloadTTL, m.cfg.DownloadTTLMax)
	expiresAt := time.Now().UTC().Add(ttl)

	return &UploadTarget{
		URL:       fmt.Sprintf("https://memory.invalid/%s/%s", m.cfg.Bucket, key),
		Method:    "PUT",
		Headers:   map[string]string{"Content-Type": contentType},
		ExpiresAt: expiresAt,
	}, nil
}

// Delete 删除对象，不存在时静默成功
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Ping 永远可达
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Get 读取对象内容（仅测试使用）
func (m *MemoryStore) Get(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, "", false
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, obj.contentType, true
}

// Len 当前对象数量（仅测试使用）
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
