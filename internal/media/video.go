package media

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/objectstore"
)

// VideoPipeline 视频归一化管线
type VideoPipeline struct {
	store         objectstore.Store
	trans         Transcoder
	maxBytes      int64
	posterOffset  time.Duration
	posterBound   int
	posterQuality int
	scratchDir    string
	logger        *zap.Logger
}

// NewVideoPipeline 创建视频管线
func NewVideoPipeline(cfg config.MediaConfig, store objectstore.Store, trans Transcoder, logger *zap.Logger) *VideoPipeline {
	return &VideoPipeline{
		store:         store,
		trans:         trans,
		maxBytes:      cfg.MaxVideoBytes,
		posterOffset:  cfg.PosterOffset,
		posterBound:   cfg.PosterBound,
		posterQuality: cfg.ImageQuality,
		scratchDir:    cfg.ScratchDir,
		logger:        logger,
	}
}

// Ingest 接收原始视频字节，转码归一化后连同封面帧上传，返回附件草稿。
//
// 转码只尝试一次，失败直接映射为接收错误。宽高与时长取自转码输出的
// 探测结果，输入文件自带的元数据不可信。暂存目录在所有退出路径上删除。
func (p *VideoPipeline) Ingest(ctx context.Context, ownerID *string, filename string, payload []byte) (*domain.AttachmentDraft, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if p.maxBytes > 0 && int64(len(payload)) > p.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrVideoTooLarge, len(payload), p.maxBytes)
	}

	scratch, err := NewScratch(p.scratchDir)
	if err != nil {
		return nil, err
	}
	defer scratch.Remove()

	inPath, err := scratch.Spill("input"+inputExt(filename), payload)
	if err != nil {
		return nil, err
	}
	outPath := scratch.Path("output.mp4")

	if err := p.trans.Transcode(ctx, inPath, outPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVideoUnreadable, err)
	}

	probe, err := p.trans.Probe(ctx, outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVideoUnreadable, err)
	}

	posterPath := scratch.Path("poster.jpg")
	offset := clampPosterOffset(p.posterOffset, probe.Duration)
	if err := p.trans.ExtractPoster(ctx, outPath, posterPath, offset); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVideoUnreadable, err)
	}

	output, err := scratch.Read("output.mp4")
	if err != nil {
		return nil, err
	}
	posterRaw, err := scratch.Read("poster.jpg")
	if err != nil {
		return nil, err
	}

	// 封面帧出自己方转码器，解码失败属于内部错误而非客户端问题
	frame, err := imaging.Decode(bytes.NewReader(posterRaw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode extracted poster frame: %w", err)
	}
	poster, posterWidth, posterHeight, err := normalizeFrame(frame, p.posterBound, p.posterQuality)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	base := stripExt(filename)

	videoResult, err := p.store.Upload(ctx,
		objectstore.BuildKey(objectstore.PrefixVideo, ownerID, base+".mp4", now),
		domain.MimeMP4, output)
	if err != nil {
		return nil, fmt.Errorf("failed to upload transcoded video: %w", err)
	}

	posterResult, err := p.store.Upload(ctx,
		objectstore.BuildKey(objectstore.PrefixPoster, ownerID, base+".jpg", now),
		domain.MimeJPEG, poster)
	if err != nil {
		// 封面上传失败时尽力回收已上传的视频对象，避免孤儿
		if delErr := p.store.Delete(ctx, videoResult.Key); delErr != nil {
			p.logger.Warn("failed to clean up orphaned video object",
				zap.String("key", videoResult.Key), zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to upload poster frame: %w", err)
	}

	durationMS := probe.Duration.Milliseconds()

	p.logger.Info("video normalized",
		zap.String("key", videoResult.Key),
		zap.String("poster_key", posterResult.Key),
		zap.Int("width", probe.Width),
		zap.Int("height", probe.Height),
		zap.Int64("duration_ms", durationMS),
		zap.Int64("bytes_in", int64(len(payload))),
		zap.Int64("bytes_out", videoResult.SizeBytes),
		zap.Int("poster_width", posterWidth),
		zap.Int("poster_height", posterHeight))

	return &domain.AttachmentDraft{
		Kind:       domain.AttachmentVideo,
		ObjectKey:  videoResult.Key,
		PosterKey:  &posterResult.Key,
		MimeType:   domain.MimeMP4,
		SizeBytes:  videoResult.SizeBytes,
		Width:      probe.Width,
		Height:     probe.Height,
		DurationMS: &durationMS,
	}, nil
}

// clampPosterOffset 封面帧时间点不越过视频末尾，越过时回退到时长一半
func clampPosterOffset(offset, duration time.Duration) time.Duration {
	if offset < 0 {
		offset = 0
	}
	if duration <= 0 {
		return 0
	}
	if offset >= duration {
		return duration / 2
	}
	return offset
}

// inputExt 提取可安全用于暂存文件名的扩展名，可疑扩展名回退到 .bin
func inputExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 || len(ext) > 8 {
		return ".bin"
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ".bin"
		}
	}
	return ext
}

// stripExt 去掉路径与扩展名，留下主文件名
func stripExt(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
