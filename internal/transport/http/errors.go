package httptransport

import (
	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/service"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 胶囊字段验证错误
	domain.ErrTitleRequired:      "标题不能为空",
	domain.ErrTitleTooLong:       "标题过长（最多120字符）",
	domain.ErrAuthorRequired:     "作者不能为空",
	domain.ErrAuthorTooLong:      "作者名过长（最多60字符）",
	domain.ErrMessageRequired:    "留言内容不能为空",
	domain.ErrMessageTooLong:     "留言内容过长（最多10000字符）",
	domain.ErrRevealAtRequired:   "必须指定揭示时刻",
	domain.ErrPassphraseTooShort: "口令过短（至少8字符）",
	domain.ErrPassphraseTooLong:  "口令过长（最多72字符）",

	// 附件验证错误
	domain.ErrTooManyAttachments:    "附件数量超出上限（最多5个）",
	domain.ErrInvalidAttachmentKind: "附件类型无效（仅支持 image 与 video）",
	domain.ErrObjectKeyRequired:     "附件缺少对象键",
	domain.ErrPosterRequired:        "视频附件缺少封面帧",
	domain.ErrPosterForbidden:       "图片附件不能携带封面帧",
	domain.ErrInvalidDimensions:     "附件尺寸无效",
	domain.ErrInvalidSize:           "附件大小无效",
	domain.ErrInvalidDuration:       "视频时长无效",
	domain.ErrUnsupportedMimeType:   "附件类型未经归一化处理",

	// 服务层错误
	service.ErrPassphraseRequired: "解锁请求必须携带口令",
	service.ErrUnlockThrottled:    "解锁尝试过于频繁，请稍后重试",
	service.ErrForeignObjectKey:   "附件对象不在您的命名空间内",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest  = "请求参数格式错误"
	MsgInvalidRevealAt = "揭示时刻格式无效，请使用 RFC3339 格式"
	MsgEmptyUpload     = "上传内容不能为空"

	// 认证相关
	MsgAuthRequired = "需要登录认证"

	// 胶囊相关
	MsgCapsuleNotFound     = "胶囊不存在"
	MsgCapsuleCreateFailed = "创建胶囊失败"
	MsgCapsuleListFailed   = "获取胶囊列表失败"
	MsgCapsuleDeleteFailed = "删除胶囊失败"
	MsgCapsuleLocked       = "胶囊已锁定，需要口令才能查看"
	MsgCapsuleNotRevealed  = "胶囊尚未到达揭示时刻"
	MsgInvalidPassphrase   = "口令错误"

	// 媒体相关
	MsgImageTooLarge     = "图片超出大小上限"
	MsgVideoTooLarge     = "视频超出大小上限"
	MsgImageUndecodable  = "图片无法解码"
	MsgVideoUnreadable   = "视频转码失败，文件可能已损坏"
	MsgMediaUploadFailed = "媒体上传失败"
	MsgObjectKeyRequired = "缺少对象键参数"
	MsgDownloadFailed    = "获取下载地址失败"
	MsgObjectNotFound    = "对象不存在"

	// 服务器错误
	MsgInternalError    = "服务器内部错误，请稍后重试"
	MsgUpstreamError    = "上游依赖暂时不可用，请稍后重试"
	MsgVerifyOverloaded = "口令校验服务繁忙，请稍后重试"
)
