// Package objectstore 封装附件字节的对象存储访问。
//
// 调用方永远不直接处理授权：S3 实现内部缓存凭证句柄并在过期前
// 透明刷新。重试只发生在授权与签名地址获取上，字节传输一律单次。
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"timecapsule/backend/internal/config"
)

var (
	// ErrObjectNotFound 对象不存在
	ErrObjectNotFound = errors.New("object not found")
	// ErrEmptyKey 对象键为空
	ErrEmptyKey = errors.New("object key is empty")
)

// UploadResult 上传结果
type UploadResult struct {
	Key        string    `json:"key"`
	SizeBytes  int64     `json:"sizeBytes"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// SignedURL 带有效期的签名下载地址
type SignedURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// UploadTarget 预签名的直传地址（客户端直接 PUT 字节）
type UploadTarget struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Store 对象存储客户端接口
type Store interface {
	// Upload 上传一段已在内存中的归一化字节（服务端管线产出）
	Upload(ctx context.Context, key, contentType string, body []byte) (*UploadResult, error)
	// SignedDownload 获取签名下载地址，ttl 会被收敛到允许区间内
	SignedDownload(ctx context.Context, key string, ttl time.Duration) (*SignedURL, error)
	// UploadTarget 获取预签名直传地址
	UploadTarget(ctx context.Context, key, contentType string, ttl time.Duration) (*UploadTarget, error)
	// Delete 删除对象（对象不存在视为成功，与 S3 语义一致）
	Delete(ctx context.Context, key string) error
	// Ping 探测存储可达性（就绪检查使用）
	Ping(ctx context.Context) error
}

// New 按配置创建对象存储客户端
func New(ctx context.Context, cfg config.ObjectStoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(cfg), nil
	case "s3":
		return NewS3Store(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported objectstore driver: %s", cfg.Driver)
	}
}

// clampTTL 将请求的签名有效期收敛到 [1m, max]；非正值回退到默认值
func clampTTL(ttl, def, max time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = def
	}
	if ttl < time.Minute {
		ttl = time.Minute
	}
	if max > 0 && ttl > max {
		ttl = max
	}
	return ttl
}
