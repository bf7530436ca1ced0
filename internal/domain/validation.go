package domain

import "errors"

// 验证相关的错误定义
var (
	ErrTitleRequired         = errors.New("title is required")
	ErrTitleTooLong          = errors.New("title too long (max 120 chars)")
	ErrAuthorRequired        = errors.New("author is required")
	ErrAuthorTooLong         = errors.New("author too long (max 60 chars)")
	ErrMessageRequired       = errors.New("message is required")
	ErrMessageTooLong        = errors.New("message too long (max 10000 chars)")
	ErrRevealAtRequired      = errors.New("reveal time is required")
	ErrPassphraseTooShort    = errors.New("passphrase too short (min 8 chars)")
	ErrPassphraseTooLong     = errors.New("passphrase too long (max 72 chars)")
	ErrPassphraseDigestEmpty = errors.New("passphrase digest must not be empty")
	ErrCapsuleIDRequired     = errors.New("capsule id is required")
	ErrLockStateMismatch     = errors.New("lock state does not match passphrase digest")

	ErrTooManyAttachments    = errors.New("too many attachments (max 5)")
	ErrInvalidAttachmentKind = errors.New("invalid attachment kind")
	ErrObjectKeyRequired     = errors.New("attachment object key is required")
	ErrPosterRequired        = errors.New("video attachment requires a poster")
	ErrPosterForbidden       = errors.New("image attachment must not carry a poster")
	ErrInvalidDimensions     = errors.New("attachment dimensions must be positive")
	ErrInvalidSize           = errors.New("attachment size must be positive")
	ErrInvalidDuration       = errors.New("video duration must be positive")
	ErrUnsupportedMimeType   = errors.New("unsupported normalized mime type")
)

// 字段长度限制
const (
	TitleMaxLength   = 120
	AuthorMaxLength  = 60
	MessageMaxLength = 10000

	// 口令长度限制（上限 72 来自 bcrypt 的输入长度约束）
	PassphraseMinLength = 8
	PassphraseMaxLength = 72

	// 单个胶囊的附件数量上限
	MaxAttachments = 5
)

// 归一化后允许出现的 MIME 类型。
// 媒体管线只产出这两种，其他值说明数据未经管线处理。
const (
	MimeJPEG = "image/jpeg"
	MimeMP4  = "video/mp4"
)

// ValidatePassphrase 验证明文口令的长度约束
func ValidatePassphrase(passphrase string) error {
	if len(passphrase) < PassphraseMinLength {
		return ErrPassphraseTooShort
	}
	if len(passphrase) > PassphraseMaxLength {
		return ErrPassphraseTooLong
	}
	return nil
}

// ValidKind 判断附件类型是否合法
func ValidKind(kind AttachmentKind) bool {
	return kind == AttachmentImage || kind == AttachmentVideo
}
