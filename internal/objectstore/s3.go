package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"timecapsule/backend/internal/config"
)

// 凭证句柄在到期前多久开始刷新
const credentialStaleMargin = 5 * time.Minute

// S3Store 基于 S3 兼容服务的对象存储实现
//
// 凭证句柄（client/presign/uploader 三件套）整体缓存，带过期时间，
// 进入过期边际后由下一次调用透明刷新。刷新与签名地址获取带退避重试，
// 字节传输单次执行。
type S3Store struct {
	cfg    config.ObjectStoreConfig
	logger *zap.Logger

	mu        sync.Mutex
	client    *s3.Client
	presign   *s3.PresignClient
	uploader  *manager.Uploader
	expiresAt time.Time
}

// NewS3Store 创建 S3 对象存储客户端并完成首次授权
func NewS3Store(ctx context.Context, cfg config.ObjectStoreConfig, logger *zap.Logger) (*S3Store, error) {
	s := &S3Store{
		cfg:    cfg,
		logger: logger,
	}

	if err := withRetry(ctx, cfg.MaxRetries, func() error {
		return s.authorize(ctx)
	}); err != nil {
		return nil, fmt.Errorf("failed to authorize object store: %w", err)
	}
	return s, nil
}

// authorize 重建凭证句柄并刷新过期时间（调用方负责持锁或独占）
func (s *S3Store) authorize(ctx context.Context) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(s.cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	s.client = client
	s.presign = s3.NewPresignClient(client)
	s.uploader = manager.NewUploader(client)
	s.expiresAt = time.Now().Add(s.cfg.CredentialTTL)

	s.logger.Debug("object store credential refreshed",
		zap.String("bucket", s.cfg.Bucket),
		zap.Time("expiresAt", s.expiresAt))
	return nil
}

// handle 返回当前凭证句柄，临近过期时先透明刷新
func (s *S3Store) handle(ctx context.Context) (*s3.Client, *s3.PresignClient, *manager.Uploader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Now().After(s.expiresAt.Add(-credentialStaleMargin)) {
		if err := withRetry(ctx, s.cfg.MaxRetries, func() error {
			return s.authorize(ctx)
		}); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to refresh object store credential: %w", err)
		}
	}
	return s.client, s.presign, s.uploader, nil
}

// Upload 上传归一化后的字节（单次，不重试）
func (s *S3Store) Upload(ctx context.Context, key, contentType string, body []byte) (*UploadResult, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	_, _, uploader, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload object %s: %w", key, err)
	}

	return &UploadResult{
		Key:        key,
		SizeBytes:  int64(len(body)),
		UploadedAt: time.Now().UTC(),
	}, nil
}

// SignedDownload 获取签名下载地址（地址获取带重试）
func (s *S3Store) SignedDownload(ctx context.Context, key string, ttl time.Duration) (*SignedURL, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	_, presign, _, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	ttl = clampTTL(ttl, s.cfg.DownloadTTL, s.cfg.DownloadTTLMax)

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	var url string
	err = withRetry(opCtx, s.cfg.MaxRetries, func() error {
		req, presignErr := presign.PresignGetObject(opCtx, &s3.GetObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		}, func(opts *s3.PresignOptions) {
			opts.Expires = ttl
		})
		if presignErr != nil {
			return presignErr
		}
		url = req.URL
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to presign download for %s: %w", key, err)
	}

	return &SignedURL{
		URL:       url,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

// UploadTarget 获取预签名直传地址（地址获取带重试）
func (s *S3Store) UploadTarget(ctx context.Context, key, contentType string, ttl time.Duration) (*UploadTarget, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	_, presign, _, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	ttl = clampTTL(ttl, s.cfg.DownloadTTL, s.cfg.DownloadTTLMax)

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	var target *UploadTarget
	err = withRetry(opCtx, s.cfg.MaxRetries, func() error {
		req, presignErr := presign.PresignPutObject(opCtx, &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(key),
			ContentType: aws.String(contentType),
		}, func(opts *s3.PresignOptions) {
			opts.Expires = ttl
		})
		if presignErr != nil {
			return presignErr
		}
		headers := make(map[string]string, len(req.SignedHeader))
		for name, values := range req.SignedHeader {
			if len(values) > 0 {
				headers[name] = values[0]
			}
		}
		target = &UploadTarget{
			URL:       req.URL,
			Method:    req.Method,
			Headers:   headers,
			ExpiresAt: time.Now().UTC().Add(ttl),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload for %s: %w", key, err)
	}
	return target, nil
}

// Delete 删除对象（单次，不重试；对象不存在视为成功）
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	client, _, _, err := s.handle(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Ping 探测存储桶可达性
func (s *S3Store) Ping(ctx context.Context) error {
	client, _, _, err := s.handle(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.cfg.Bucket),
	}); err != nil {
		return fmt.Errorf("object store unreachable: %w", err)
	}
	return nil
}
