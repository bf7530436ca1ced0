package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/media"
	"timecapsule/backend/internal/objectstore"
)

// MediaService 媒体上传与下载门面
//
// 上传走对应管线归一化后入对象存储，返回附件草稿；
// 下载只签发限时地址，字节流不经过本服务。
type MediaService struct {
	images  *media.ImagePipeline
	videos  *media.VideoPipeline
	objects objectstore.Store
	logger  *zap.Logger
}

// NewMediaService 创建媒体服务实例
func NewMediaService(images *media.ImagePipeline, videos *media.VideoPipeline, objects objectstore.Store, logger *zap.Logger) *MediaService {
	return &MediaService{
		images:  images,
		videos:  videos,
		objects: objects,
		logger:  logger,
	}
}

// IngestImage 归一化并上传一张图片，返回可挂到胶囊上的附件草稿
func (m *MediaService) IngestImage(ctx context.Context, ownerID *string, filename string, payload []byte) (*domain.AttachmentDraft, error) {
	return m.images.Ingest(ctx, ownerID, filename, payload)
}

// IngestVideo 转码并上传一段视频（含封面帧），返回附件草稿
func (m *MediaService) IngestVideo(ctx context.Context, ownerID *string, filename string, payload []byte) (*domain.AttachmentDraft, error) {
	return m.videos.Ingest(ctx, ownerID, filename, payload)
}

// OwnerDownloadURL 校验对象键归属后签发下载地址
//
// 原始下载接口用它：调用方只能取回自己命名空间内的对象。
// ttl 为零用默认时长，越界值由对象存储层收敛到允许区间。
func (m *MediaService) OwnerDownloadURL(ctx context.Context, ownerID *string, key string, ttl time.Duration) (*objectstore.SignedURL, error) {
	owner := objectstore.AnonymousOwner
	if ownerID != nil && *ownerID != "" {
		owner = *ownerID
	}
	if !objectstore.KeyOwnedBy(key, owner) {
		return nil, ErrForeignObjectKey
	}
	return m.objects.SignedDownload(ctx, key, ttl)
}

// AttachmentLinks 为附件批量签发下载地址，键是对象键
//
// 调用方已经通过揭示门控，这里不再校验归属。对象缺失
// （例如被人工清理）只丢弃对应链接，不影响其余附件。
func (m *MediaService) AttachmentLinks(ctx context.Context, attachments []*domain.Attachment) (map[string]*objectstore.SignedURL, error) {
	links := make(map[string]*objectstore.SignedURL, len(attachments)*2)
	for _, att := range attachments {
		keys := []string{att.ObjectKey}
		if att.PosterKey != nil {
			keys = append(keys, *att.PosterKey)
		}
		for _, key := range keys {
			signed, err := m.objects.SignedDownload(ctx, key, 0)
			if err != nil {
				if errors.Is(err, objectstore.ErrObjectNotFound) {
					m.logger.Warn("attachment object missing, link skipped",
						zap.String("key", key),
						zap.String("attachment_id", att.ID))
					continue
				}
				return nil, err
			}
			links[key] = signed
		}
	}
	return links, nil
}
