package httptransport

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/media"
	"timecapsule/backend/internal/middleware"
	"timecapsule/backend/internal/objectstore"
	"timecapsule/backend/internal/service"
)

type downloadResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
	ExpiresIn int64     `json:"expiresIn"` // 实际授予的有效期（秒）
}

// uploadImage godoc
// @Summary 上传图片
// @Description 接收单个原始图片字节流，归一化后入对象存储，返回附件草稿
// @Tags Media
// @Accept application/octet-stream
// @Produce json
// @Param X-Filename header string false "原始文件名"
// @Success 201 {object} Response{data=domain.AttachmentDraft}
// @Failure 400 {object} Response
// @Failure 413 {object} Response
// @Failure 502 {object} Response
// @Router /v1/media/images [post]
func (h *Handler) uploadImage(c *gin.Context) {
	h.ingest(c, domain.AttachmentImage, h.media.IngestImage)
}

// uploadVideo godoc
// @Summary 上传视频
// @Description 接收单个原始视频字节流，转码归一化并抽取封面帧，返回附件草稿
// @Tags Media
// @Accept application/octet-stream
// @Produce json
// @Param X-Filename header string false "原始文件名"
// @Success 201 {object} Response{data=domain.AttachmentDraft}
// @Failure 400 {object} Response
// @Failure 413 {object} Response
// @Failure 502 {object} Response
// @Router /v1/media/videos [post]
func (h *Handler) uploadVideo(c *gin.Context) {
	h.ingest(c, domain.AttachmentVideo, h.media.IngestVideo)
}

type ingestFunc func(ctx context.Context, ownerID *string, filename string, payload []byte) (*domain.AttachmentDraft, error)

// ingest 读取原始请求体并交给对应媒体管线
//
// 超限拒绝发生在两层：中间件按 Content-Length 预拒，管线再按
// 实际字节数复核。两处都命中 413。
func (h *Handler) ingest(c *gin.Context, kind domain.AttachmentKind, run ingestFunc) {
	start := time.Now()

	payload, err := c.GetRawData()
	if err != nil {
		// MaxBytesReader 触发的读取失败按载荷超限处理
		h.recordIngest(kind, "too_large", start, 0)
		PayloadTooLarge(c, tooLargeMessage(kind))
		return
	}
	if len(payload) == 0 {
		h.recordIngest(kind, "empty", start, 0)
		BadRequest(c, MsgEmptyUpload)
		return
	}

	filename := c.GetHeader("X-Filename")
	if filename == "" {
		filename = c.Query("filename")
	}

	draft, err := run(c.Request.Context(), middleware.OwnerID(c), filename, payload)
	if err != nil {
		h.respondIngestError(c, kind, start, err)
		return
	}

	h.recordIngest(kind, "ok", start, draft.SizeBytes)
	Created(c, draft)
}

// signDownload godoc
// @Summary 签发下载地址
// @Description 为自己命名空间内的对象签发限时下载地址；有效期越界时收敛到允许区间
// @Tags Media
// @Produce json
// @Param key query string true "对象键"
// @Param expiresIn query int false "期望有效期（秒）"
// @Success 200 {object} Response{data=downloadResponse}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Failure 502 {object} Response
// @Router /v1/media/download [get]
func (h *Handler) signDownload(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		BadRequest(c, MsgObjectKeyRequired)
		return
	}

	var ttl time.Duration
	if raw := c.Query("expiresIn"); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seconds <= 0 {
			BadRequest(c, MsgInvalidRequest)
			return
		}
		ttl = time.Duration(seconds) * time.Second
	}

	signed, err := h.media.OwnerDownloadURL(c.Request.Context(), middleware.OwnerID(c), key, ttl)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrForeignObjectKey):
			// 命名空间外的对象一律报告为不存在，不泄漏他人键位
			NotFound(c, MsgObjectNotFound)
		case errors.Is(err, objectstore.ErrObjectNotFound):
			NotFound(c, MsgObjectNotFound)
		default:
			h.logger.Error("signed download failed",
				zap.String("key", key),
				zap.Error(err))
			BadGateway(c, MsgUpstreamError)
		}
		return
	}

	Success(c, downloadResponse{
		URL:       signed.URL,
		ExpiresAt: signed.ExpiresAt,
		ExpiresIn: int64(time.Until(signed.ExpiresAt).Seconds()),
	})
}

// respondIngestError 把媒体管线错误映射为 HTTP 状态
func (h *Handler) respondIngestError(c *gin.Context, kind domain.AttachmentKind, start time.Time, err error) {
	switch {
	case errors.Is(err, media.ErrImageTooLarge), errors.Is(err, media.ErrVideoTooLarge):
		h.recordIngest(kind, "too_large", start, 0)
		PayloadTooLarge(c, tooLargeMessage(kind))
	case errors.Is(err, media.ErrEmptyPayload):
		h.recordIngest(kind, "empty", start, 0)
		BadRequest(c, MsgEmptyUpload)
	case errors.Is(err, media.ErrImageUndecodable):
		h.recordIngest(kind, "undecodable", start, 0)
		BadRequest(c, MsgImageUndecodable)
	case errors.Is(err, media.ErrVideoUnreadable):
		h.recordIngest(kind, "unreadable", start, 0)
		BadRequest(c, MsgVideoUnreadable)
	default:
		// 管线自身没报拒绝理由，剩下的只能是对象存储或转码器基础设施故障
		h.recordIngest(kind, "upstream_error", start, 0)
		h.logger.Error("media ingestion failed",
			zap.String("kind", string(kind)),
			zap.Error(err))
		BadGateway(c, MsgUpstreamError)
	}
}

func (h *Handler) recordIngest(kind domain.AttachmentKind, result string, start time.Time, sizeBytes int64) {
	if h.metrics != nil {
		h.metrics.RecordMediaIngest(string(kind), result, time.Since(start), sizeBytes)
	}
}

func tooLargeMessage(kind domain.AttachmentKind) string {
	if kind == domain.AttachmentVideo {
		return MsgVideoTooLarge
	}
	return MsgImageTooLarge
}
