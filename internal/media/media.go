// Package media 实现附件接收归一化管线。
//
// 图片路径：上限检查 → 解码（含 EXIF 方向修正）→ 等比缩入边界（不放大）
// → JPEG 重编码 → 上传对象存储。
//
// 视频路径：上限检查 → 落盘暂存 → 外部转码器单次转码 → 探测输出文件
// → 抽取封面帧 → 上传视频与封面 → 清理暂存目录（所有退出路径）。
//
// 管线产出 AttachmentDraft，创建胶囊时经归一化校验后落库。
package media

import "errors"

var (
	// ErrImageTooLarge 图片原始字节超出上限（解码前拒绝）
	ErrImageTooLarge = errors.New("image payload exceeds size limit")
	// ErrVideoTooLarge 视频原始字节超出上限（落盘前拒绝）
	ErrVideoTooLarge = errors.New("video payload exceeds size limit")
	// ErrImageUndecodable 图片无法解码
	ErrImageUndecodable = errors.New("image payload is not decodable")
	// ErrVideoUnreadable 视频转码或探测失败（内容损坏或格式不受支持）
	ErrVideoUnreadable = errors.New("video payload is not transcodable")
	// ErrEmptyPayload 空载荷
	ErrEmptyPayload = errors.New("media payload is empty")
)
