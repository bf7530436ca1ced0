package domain

import "time"

// AttachmentKind 附件媒体类型
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
)

// Attachment 表示胶囊附件的元数据。
// 字节内容经媒体管线归一化后存放在对象存储中，这里只记录对象键与探测结果。
type Attachment struct {
	ID         string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CapsuleID  string         `json:"capsuleId" gorm:"type:varchar(36);index;not null"` // 所属胶囊ID
	Kind       AttachmentKind `json:"kind" gorm:"type:varchar(10);not null"`
	ObjectKey  string         `json:"-" gorm:"type:varchar(500);not null"` // 归一化主对象的存储键
	PosterKey  *string        `json:"-" gorm:"type:varchar(500)"`          // 封面帧存储键，仅视频存在
	MimeType   string         `json:"mimeType" gorm:"type:varchar(100)"`   // 归一化后的 MIME（非上传原始类型）
	SizeBytes  int64          `json:"sizeBytes"`                           // 归一化后的字节数
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	DurationMS *int64         `json:"durationMs,omitempty"` // 时长（毫秒），仅视频存在
	CreatedAt  time.Time      `json:"createdAt"`
}

// AttachmentDraft 是媒体管线的产出，也是创建胶囊时引用附件的凭据。
// 尚未绑定胶囊，归一化（NormalizeAttachments）时才获得 ID 与归属。
type AttachmentDraft struct {
	Kind       AttachmentKind `json:"kind"`
	ObjectKey  string         `json:"objectKey"`
	PosterKey  *string        `json:"posterKey,omitempty"`
	MimeType   string         `json:"mimeType"`
	SizeBytes  int64          `json:"sizeBytes"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	DurationMS *int64         `json:"durationMs,omitempty"`
}
