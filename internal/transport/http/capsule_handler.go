package httptransport

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/middleware"
	"timecapsule/backend/internal/pool"
	"timecapsule/backend/internal/service"
	"timecapsule/backend/internal/storage"
)

type createCapsuleRequest struct {
	Title       string                   `json:"title"`
	Message     string                   `json:"message"`
	Author      string                   `json:"author"`
	RevealAt    time.Time                `json:"revealAt"`
	Passphrase  *string                  `json:"passphrase,omitempty"`
	Attachments []domain.AttachmentDraft `json:"attachments,omitempty"`
}

type unlockCapsuleRequest struct {
	Passphrase string `json:"passphrase"`
}

// attachmentResponse 附件投影。
// 下载地址只在胶囊内容可见时签发，门控拒绝的响应里不出现。
type attachmentResponse struct {
	ID         string                `json:"id"`
	Kind       domain.AttachmentKind `json:"kind"`
	MimeType   string                `json:"mimeType"`
	SizeBytes  int64                 `json:"sizeBytes"`
	Width      int                   `json:"width"`
	Height     int                   `json:"height"`
	DurationMS *int64                `json:"durationMs,omitempty"`
	URL        string                `json:"url,omitempty"`
	PosterURL  string                `json:"posterUrl,omitempty"`
}

// capsuleResponse 胶囊投影，按白名单构造。
// 序列化字段逐一显式赋值：口令摘要与所有者标识没有对应字段，
// 新增内部字段也不会顺带泄漏。Message 仅在门控放行时设置。
type capsuleResponse struct {
	ID          string               `json:"id"`
	Status      string               `json:"status"`
	Title       string               `json:"title"`
	Message     *string              `json:"message,omitempty"`
	Author      string               `json:"author"`
	CreatedAt   time.Time            `json:"createdAt"`
	RevealAt    time.Time            `json:"revealAt"`
	IsLocked    bool                 `json:"isLocked"`
	Attachments []attachmentResponse `json:"attachments"`
}

type capsuleListResponse struct {
	Items []capsuleResponse `json:"items"`
	Count int               `json:"count"`
}

// createCapsule godoc
// @Summary 创建时间胶囊
// @Description 创建一枚新胶囊，可携带口令与先前上传的附件草稿
// @Tags Capsules
// @Accept json
// @Produce json
// @Param request body createCapsuleRequest true "胶囊内容"
// @Success 201 {object} Response{data=capsuleResponse}
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Router /v1/capsules [post]
func (h *Handler) createCapsule(c *gin.Context) {
	var req createCapsuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	capsule, err := h.capsules.Create(c.Request.Context(), service.CreateCapsuleInput{
		Title:       req.Title,
		Message:     req.Message,
		Author:      req.Author,
		OwnerID:     middleware.OwnerID(c),
		RevealAt:    req.RevealAt,
		Passphrase:  req.Passphrase,
		Attachments: req.Attachments,
	})
	if err != nil {
		if msg, ok := clientErrorMessage(err); ok {
			BadRequest(c, msg)
			return
		}
		h.logger.Error("capsule creation failed", zap.Error(err))
		InternalError(c, MsgCapsuleCreateFailed)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordCapsuleCreated(capsule.IsLocked)
	}

	// 创建响应同样过门控：锁定或未到时的胶囊对创建者也不回显内容
	outcome := domain.EvaluateReveal(capsule, time.Now(), nil, nil)
	Created(c, h.toCapsuleResponse(c, capsule, outcome))
}

// getCapsule godoc
// @Summary 读取胶囊
// @Description 经揭示门控读取胶囊；锁定或未到时的胶囊返回受限投影
// @Tags Capsules
// @Produce json
// @Param id path string true "胶囊ID"
// @Success 200 {object} Response{data=capsuleResponse}
// @Failure 403 {object} Response{data=capsuleResponse}
// @Failure 404 {object} Response
// @Failure 500 {object} Response
// @Router /v1/capsules/{id} [get]
func (h *Handler) getCapsule(c *gin.Context) {
	view, err := h.capsules.Get(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		h.logger.Error("capsule read failed", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	h.respondReveal(c, view)
}

// unlockCapsule godoc
// @Summary 携带口令读取锁定胶囊
// @Description 口令正确时仅本次响应返回内容，胶囊保持锁定
// @Tags Capsules
// @Accept json
// @Produce json
// @Param id path string true "胶囊ID"
// @Param request body unlockCapsuleRequest true "口令"
// @Success 200 {object} Response{data=capsuleResponse}
// @Failure 400 {object} Response
// @Failure 403 {object} Response{data=capsuleResponse}
// @Failure 404 {object} Response
// @Failure 429 {object} Response
// @Failure 503 {object} Response
// @Router /v1/capsules/{id}/unlock [post]
func (h *Handler) unlockCapsule(c *gin.Context) {
	var req unlockCapsuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	view, err := h.capsules.Unlock(c.Request.Context(), middleware.OwnerID(c), c.Param("id"), req.Passphrase, c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPassphraseRequired):
			BadRequest(c, GetErrorMessage(service.ErrPassphraseRequired))
		case errors.Is(err, service.ErrUnlockThrottled):
			TooManyRequests(c, GetErrorMessage(service.ErrUnlockThrottled))
		case errors.Is(err, pool.ErrPoolSaturated), errors.Is(err, context.DeadlineExceeded):
			// 校验池过载是暂时状态，不是口令错误也不是内部故障
			h.logger.Warn("passphrase verification overloaded",
				zap.String("capsule_id", c.Param("id")),
				zap.Error(err))
			ServiceUnavailable(c, MsgVerifyOverloaded)
		default:
			h.logger.Error("capsule unlock failed", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}

	h.respondReveal(c, view)
}

// listCapsules godoc
// @Summary 列出自己的胶囊
// @Description 返回调用方拥有的全部胶囊；封存内容一律不出现在列表里
// @Tags Capsules
// @Produce json
// @Success 200 {object} Response{data=capsuleListResponse}
// @Failure 401 {object} Response
// @Failure 500 {object} Response
// @Router /v1/capsules [get]
func (h *Handler) listCapsules(c *gin.Context) {
	ownerID := middleware.OwnerID(c)
	if ownerID == nil {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	capsules, err := h.capsules.List(c.Request.Context(), *ownerID)
	if err != nil {
		h.logger.Error("capsule list failed", zap.Error(err))
		InternalError(c, MsgCapsuleListFailed)
		return
	}

	now := time.Now()
	items := make([]capsuleResponse, 0, len(capsules))
	for _, capsule := range capsules {
		// 列表视图固定为受限投影：存储层已排除内容，这里只标注状态
		outcome := domain.EvaluateReveal(capsule, now, nil, nil)
		resp := h.projectCapsule(capsule, outcome)
		items = append(items, resp)
	}

	Success(c, capsuleListResponse{Items: items, Count: len(items)})
}

// deleteCapsule godoc
// @Summary 删除胶囊
// @Description 删除自己的胶囊及其全部附件；归属他人的胶囊报告为不存在
// @Tags Capsules
// @Param id path string true "胶囊ID"
// @Success 204
// @Failure 401 {object} Response
// @Failure 404 {object} Response
// @Failure 500 {object} Response
// @Router /v1/capsules/{id} [delete]
func (h *Handler) deleteCapsule(c *gin.Context) {
	err := h.capsules.Delete(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrCapsuleNotFound) {
			NotFound(c, MsgCapsuleNotFound)
			return
		}
		h.logger.Error("capsule deletion failed", zap.Error(err))
		InternalError(c, MsgCapsuleDeleteFailed)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordCapsuleDeleted()
	}

	NoContent(c)
}

// respondReveal 把门控结果映射为 HTTP 响应
//
// 不可见结果不是错误：403 响应携带受限投影与状态标签，
// 调用方据此区分 locked / not_revealed / invalid_passphrase。
func (h *Handler) respondReveal(c *gin.Context, view *service.RevealView) {
	if h.metrics != nil {
		h.metrics.RecordRevealOutcome(view.Outcome.String())
	}

	switch view.Outcome {
	case domain.RevealNotFound:
		NotFound(c, MsgCapsuleNotFound)
	case domain.RevealLocked:
		Gated(c, MsgCapsuleLocked, h.toCapsuleResponse(c, view.Capsule, view.Outcome))
	case domain.RevealNotRevealed:
		Gated(c, MsgCapsuleNotRevealed, h.toCapsuleResponse(c, view.Capsule, view.Outcome))
	case domain.RevealInvalidPassphrase:
		Gated(c, MsgInvalidPassphrase, h.toCapsuleResponse(c, view.Capsule, view.Outcome))
	default:
		Success(c, h.toCapsuleResponse(c, view.Capsule, view.Outcome))
	}
}

// toCapsuleResponse 构造胶囊投影，可见时补上封存内容与签名下载地址
func (h *Handler) toCapsuleResponse(c *gin.Context, capsule *domain.Capsule, outcome domain.RevealOutcome) capsuleResponse {
	resp := h.projectCapsule(capsule, outcome)

	if outcome.Visible() {
		message := capsule.Message
		resp.Message = &message
	}

	if outcome.Visible() && len(capsule.Attachments) > 0 {
		links, err := h.media.AttachmentLinks(c.Request.Context(), capsule.Attachments)
		if err != nil {
			// 签名失败只降级为无链接的投影，不拦截已放行的读取
			h.logger.Warn("attachment link signing failed",
				zap.String("capsule_id", capsule.ID),
				zap.Error(err))
			return resp
		}
		for i, att := range capsule.Attachments {
			if signed, ok := links[att.ObjectKey]; ok {
				resp.Attachments[i].URL = signed.URL
			}
			if att.PosterKey != nil {
				if signed, ok := links[*att.PosterKey]; ok {
					resp.Attachments[i].PosterURL = signed.URL
				}
			}
		}
	}

	return resp
}

// projectCapsule 白名单受限投影，永不携带封存内容。
// 列表视图直接使用；单胶囊读取由 toCapsuleResponse 在门控放行后补上内容，
// 受限响应里内容字段整体缺席，不以空串占位。
func (h *Handler) projectCapsule(capsule *domain.Capsule, outcome domain.RevealOutcome) capsuleResponse {
	attachments := make([]attachmentResponse, 0, len(capsule.Attachments))
	for _, att := range capsule.Attachments {
		attachments = append(attachments, attachmentResponse{
			ID:         att.ID,
			Kind:       att.Kind,
			MimeType:   att.MimeType,
			SizeBytes:  att.SizeBytes,
			Width:      att.Width,
			Height:     att.Height,
			DurationMS: att.DurationMS,
		})
	}

	return capsuleResponse{
		ID:          capsule.ID,
		Status:      outcome.String(),
		Title:       capsule.Title,
		Author:      capsule.Author,
		CreatedAt:   capsule.CreatedAt,
		RevealAt:    capsule.RevealAt,
		IsLocked:    capsule.IsLocked,
		Attachments: attachments,
	}
}

// clientErrorMessage 判断错误是否应作为 400 返回给调用方
func clientErrorMessage(err error) (string, bool) {
	for known, msg := range errorMessages {
		if errors.Is(err, known) {
			return msg, true
		}
	}
	return "", false
}
