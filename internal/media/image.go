package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/objectstore"
)

// ImagePipeline 图片归一化管线
type ImagePipeline struct {
	store    objectstore.Store
	maxBytes int64
	bound    int
	quality  int
	logger   *zap.Logger
}

// NewImagePipeline 创建图片管线
func NewImagePipeline(cfg config.MediaConfig, store objectstore.Store, logger *zap.Logger) *ImagePipeline {
	return &ImagePipeline{
		store:    store,
		maxBytes: cfg.MaxImageBytes,
		bound:    cfg.ImageBound,
		quality:  cfg.ImageQuality,
		logger:   logger,
	}
}

// Ingest 接收原始图片字节，归一化后上传，返回附件草稿。
// 上限检查发生在解码之前，超限载荷不会进入解码器。
func (p *ImagePipeline) Ingest(ctx context.Context, ownerID *string, filename string, payload []byte) (*domain.AttachmentDraft, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if p.maxBytes > 0 && int64(len(payload)) > p.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrImageTooLarge, len(payload), p.maxBytes)
	}

	// AutoOrientation 在解码时应用 EXIF 方向，后续处理都基于摆正的像素
	img, err := imaging.Decode(bytes.NewReader(payload), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageUndecodable, err)
	}

	encoded, width, height, err := normalizeFrame(img, p.bound, p.quality)
	if err != nil {
		return nil, err
	}

	key := objectstore.BuildKey(objectstore.PrefixImage, ownerID, filename, time.Now())
	result, err := p.store.Upload(ctx, key, domain.MimeJPEG, encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to upload normalized image: %w", err)
	}

	p.logger.Info("image normalized",
		zap.String("key", result.Key),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int64("bytes_in", int64(len(payload))),
		zap.Int64("bytes_out", result.SizeBytes))

	return &domain.AttachmentDraft{
		Kind:      domain.AttachmentImage,
		ObjectKey: result.Key,
		MimeType:  domain.MimeJPEG,
		SizeBytes: result.SizeBytes,
		Width:     width,
		Height:    height,
	}, nil
}

// normalizeFrame 将解码后的图像缩入 bound×bound 边界并按质量 JPEG 编码。
// 已在边界内的图像不放大，原样重编码。
func normalizeFrame(img image.Image, bound, quality int) ([]byte, int, int, error) {
	b := img.Bounds()
	if bound > 0 && (b.Dx() > bound || b.Dy() > bound) {
		img = imaging.Fit(img, bound, bound, imaging.Lanczos)
		b = img.Bounds()
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	return buf.Bytes(), b.Dx(), b.Dy(), nil
}
