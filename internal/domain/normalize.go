package domain

import (
	"time"

	"github.com/google/uuid"
)

// NormalizeAttachments 将媒体管线产出的附件草稿转化为可持久化的附件记录
//
// 纯验证 + 标识分配，不做任何 IO：
//   - 批量数量不超过 MaxAttachments
//   - 类型合法，且封面帧与视频类型严格耦合（视频必有、图片必无）
//   - 对象键非空、尺寸与字节数为正、MIME 为管线产出类型
//   - 视频必须带正时长，图片必须不带时长
//
// 首个违规立即返回对应错误；全部通过时为每条草稿分配 UUID、
// 归属胶囊与创建时间。
func NormalizeAttachments(capsuleID string, now time.Time, drafts []AttachmentDraft) ([]*Attachment, error) {
	if len(drafts) > MaxAttachments {
		return nil, ErrTooManyAttachments
	}

	attachments := make([]*Attachment, 0, len(drafts))
	for _, d := range drafts {
		if err := validateDraft(d); err != nil {
			return nil, err
		}
		attachments = append(attachments, &Attachment{
			ID:         uuid.New().String(),
			CapsuleID:  capsuleID,
			Kind:       d.Kind,
			ObjectKey:  d.ObjectKey,
			PosterKey:  d.PosterKey,
			MimeType:   d.MimeType,
			SizeBytes:  d.SizeBytes,
			Width:      d.Width,
			Height:     d.Height,
			DurationMS: d.DurationMS,
			CreatedAt:  now.UTC(),
		})
	}
	return attachments, nil
}

func validateDraft(d AttachmentDraft) error {
	if !ValidKind(d.Kind) {
		return ErrInvalidAttachmentKind
	}
	if d.ObjectKey == "" {
		return ErrObjectKeyRequired
	}

	switch d.Kind {
	case AttachmentVideo:
		if d.PosterKey == nil || *d.PosterKey == "" {
			return ErrPosterRequired
		}
		if d.MimeType != MimeMP4 {
			return ErrUnsupportedMimeType
		}
		if d.DurationMS == nil || *d.DurationMS <= 0 {
			return ErrInvalidDuration
		}
	case AttachmentImage:
		if d.PosterKey != nil {
			return ErrPosterForbidden
		}
		if d.MimeType != MimeJPEG {
			return ErrUnsupportedMimeType
		}
		if d.DurationMS != nil {
			return ErrInvalidDuration
		}
	}

	if d.Width <= 0 || d.Height <= 0 {
		return ErrInvalidDimensions
	}
	if d.SizeBytes <= 0 {
		return ErrInvalidSize
	}
	return nil
}
