package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Capsule 表示一枚时间胶囊：一段在揭示时刻之前保持封存的留言。
//
// 胶囊创建后不可修改。IsLocked 与 PassphraseDigest 严格耦合：
// 有口令摘要的胶囊一定处于锁定态，反之亦然。
type Capsule struct {
	ID               string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Title            string        `json:"title" gorm:"type:varchar(120);not null"`
	Message          string        `json:"-" gorm:"type:text;not null"` // 封存内容，可见性由揭示门控决定
	Author           string        `json:"author" gorm:"type:varchar(60);not null"`
	OwnerID          *string       `json:"-" gorm:"type:varchar(36);index"` // 历史数据可能为 nil（匿名胶囊）
	CreatedAt        time.Time     `json:"createdAt"`
	RevealAt         time.Time     `json:"revealAt" gorm:"index"`
	IsLocked         bool          `json:"isLocked"`
	PassphraseDigest *string       `json:"-" gorm:"type:varchar(100)"` // 永不对外序列化
	NotifiedAt       *time.Time    `json:"-" gorm:"index"`             // 揭示通知发出时刻，nil 表示待通知
	Attachments      []*Attachment `json:"-" gorm:"-"`                 // 附件列表（单独表存储，读取时组装）
}

// NewCapsuleParams 创建胶囊所需的参数。
// PassphraseDigest 由调用方（service 层）在需要口令保护时预先计算。
type NewCapsuleParams struct {
	Title            string
	Message          string
	Author           string
	OwnerID          *string
	RevealAt         time.Time
	PassphraseDigest *string
}

// NewCapsule 构造并验证一枚新胶囊
//
// 验证规则：
//   - 标题/作者去除首尾空白后非空，且不超过长度上限
//   - 留言非空白且不超过长度上限（内容按原样保存，不做任何归一化）
//   - 揭示时刻必须设置（允许早于当前时间，此时胶囊生而可见）
//
// IsLocked 由 PassphraseDigest 是否存在推导，调用方无法单独设置。
func NewCapsule(p NewCapsuleParams) (*Capsule, error) {
	title := strings.TrimSpace(p.Title)
	author := strings.TrimSpace(p.Author)

	if title == "" {
		return nil, ErrTitleRequired
	}
	if len(title) > TitleMaxLength {
		return nil, ErrTitleTooLong
	}
	if author == "" {
		return nil, ErrAuthorRequired
	}
	if len(author) > AuthorMaxLength {
		return nil, ErrAuthorTooLong
	}
	if strings.TrimSpace(p.Message) == "" {
		return nil, ErrMessageRequired
	}
	if len(p.Message) > MessageMaxLength {
		return nil, ErrMessageTooLong
	}
	if p.RevealAt.IsZero() {
		return nil, ErrRevealAtRequired
	}
	if p.PassphraseDigest != nil && *p.PassphraseDigest == "" {
		return nil, ErrPassphraseDigestEmpty
	}

	return &Capsule{
		ID:               uuid.New().String(),
		Title:            title,
		Message:          p.Message,
		Author:           author,
		OwnerID:          p.OwnerID,
		CreatedAt:        time.Now().UTC(),
		RevealAt:         p.RevealAt.UTC(),
		IsLocked:         p.PassphraseDigest != nil,
		PassphraseDigest: p.PassphraseDigest,
	}, nil
}

// Validate 校验胶囊的内部一致性（存储层写入前的最后防线）
func (c *Capsule) Validate() error {
	if c.ID == "" {
		return ErrCapsuleIDRequired
	}
	if c.IsLocked != (c.PassphraseDigest != nil) {
		return ErrLockStateMismatch
	}
	if len(c.Attachments) > MaxAttachments {
		return ErrTooManyAttachments
	}
	return nil
}

// OwnedBy 判断胶囊是否归属给定所有者。
// 匿名胶囊（OwnerID 为 nil）不归属任何所有者。
func (c *Capsule) OwnedBy(ownerID string) bool {
	return c.OwnerID != nil && *c.OwnerID == ownerID
}
