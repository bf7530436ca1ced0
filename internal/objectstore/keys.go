package objectstore

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 对象键前缀，按媒体产物分类
const (
	PrefixImage  = "image"
	PrefixVideo  = "video"
	PrefixPoster = "poster"
)

// AnonymousOwner 匿名胶囊在对象键中的所有者占位段
const AnonymousOwner = "anonymous"

const maxBasenameLength = 48

// BuildKey 生成对象存储键
//
// 格式: <prefix>/<ownerID>/<unix秒>-<8位随机后缀>-<净化后的文件名>.<扩展名>
//
// ownerID 为 nil 时使用 AnonymousOwner 占位；文件名只保留
// [a-zA-Z0-9._-]，其余字符替换为 "-"，并截断到长度上限。
// 随机后缀保证同一秒内的重名文件互不覆盖。
func BuildKey(prefix string, ownerID *string, basename string, now time.Time) string {
	owner := AnonymousOwner
	if ownerID != nil && *ownerID != "" {
		owner = *ownerID
	}

	name, ext := splitBasename(basename)
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]

	return fmt.Sprintf("%s/%s/%d-%s-%s%s", prefix, owner, now.UTC().Unix(), suffix, name, ext)
}

// KeyOwner 返回对象键中的所有者段；键格式不合法时返回空串
func KeyOwner(key string) string {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return ""
	}
	switch parts[0] {
	case PrefixImage, PrefixVideo, PrefixPoster:
		return parts[1]
	}
	return ""
}

// KeyOwnedBy 判断对象键是否归属给定所有者
func KeyOwnedBy(key, ownerID string) bool {
	owner := KeyOwner(key)
	return owner != "" && owner == ownerID
}

// splitBasename 拆出净化后的主名与扩展名
func splitBasename(basename string) (string, string) {
	basename = path.Base(strings.TrimSpace(basename))
	ext := path.Ext(basename)
	name := strings.TrimSuffix(basename, ext)

	name = sanitize(name)
	if name == "" {
		name = "file"
	}
	if len(name) > maxBasenameLength {
		name = name[:maxBasenameLength]
	}

	ext = strings.ToLower(sanitize(strings.TrimPrefix(ext, ".")))
	if ext == "" {
		return name, ""
	}
	return name, "." + ext
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), ".-")
}
