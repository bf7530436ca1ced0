package objectstore

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildKey(t *testing.T) {
	owner := "owner-1"
	now := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)

	key := BuildKey(PrefixImage, &owner, "holiday photo.JPG", now)

	parts := strings.SplitN(key, "/", 3)
	require.Len(t, parts, 3)
	assert.Equal(t, "image", parts[0])
	assert.Equal(t, "owner-1", parts[1])

	// <unix>-<8位后缀>-<文件名>.<扩展名>
	assert.True(t, strings.HasPrefix(parts[2], fmt.Sprintf("%d-", now.Unix())))
	assert.True(t, strings.HasSuffix(parts[2], "-holiday-photo.jpg"))

	fields := strings.SplitN(parts[2], "-", 3)
	require.Len(t, fields, 3)
	assert.Len(t, fields[1], 8)
}

func TestBuildKey_AnonymousOwner(t *testing.T) {
	key := BuildKey(PrefixVideo, nil, "clip.mp4", time.Now())
	assert.Equal(t, AnonymousOwner, strings.SplitN(key, "/", 3)[1])

	empty := ""
	key = BuildKey(PrefixVideo, &empty, "clip.mp4", time.Now())
	assert.Equal(t, AnonymousOwner, strings.SplitN(key, "/", 3)[1])
}

func TestBuildKey_SanitizesBasename(t *testing.T) {
	owner := "owner-1"
	now := time.Now()

	tests := []struct {
		name     string
		basename string
		suffix   string
	}{
		{"Path traversal stripped", "../../etc/passwd", "-passwd"},
		{"Special characters replaced", "my file(1)!.png", "-my-file-1.png"},
		{"Empty basename falls back", "", "-file"},
		{"Unicode replaced", "照片.jpg", "-file.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := BuildKey(PrefixImage, &owner, tt.basename, now)
			assert.True(t, strings.HasSuffix(key, tt.suffix), "key %q should end with %q", key, tt.suffix)
			assert.NotContains(t, key, "..")
		})
	}

	// Overlong basenames are capped
	key := BuildKey(PrefixImage, &owner, strings.Repeat("a", 200)+".jpg", now)
	base := key[strings.LastIndex(key, "/")+1:]
	assert.LessOrEqual(t, len(base), maxBasenameLength+32)
}

func TestBuildKey_UniqueSuffix(t *testing.T) {
	owner := "owner-1"
	now := time.Now()

	// Same second, same name: the random suffix must keep keys distinct
	k1 := BuildKey(PrefixImage, &owner, "photo.jpg", now)
	k2 := BuildKey(PrefixImage, &owner, "photo.jpg", now)
	assert.NotEqual(t, k1, k2)
}

func TestKeyOwner(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{"Image key", "image/owner-1/1700000000-abcd1234-photo.jpg", "owner-1"},
		{"Video key", "video/owner-2/1700000000-abcd1234-clip.mp4", "owner-2"},
		{"Poster key", "poster/owner-3/1700000000-abcd1234-clip.jpg", "owner-3"},
		{"Anonymous key", "image/anonymous/1700000000-abcd1234-photo.jpg", "anonymous"},
		{"Unknown prefix", "other/owner-1/file", ""},
		{"Missing segments", "image/owner-1", ""},
		{"Empty owner segment", "image//file", ""},
		{"Empty key", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KeyOwner(tt.key))
		})
	}
}

func TestKeyOwnedBy(t *testing.T) {
	key := BuildKey(PrefixImage, strPtr("owner-1"), "photo.jpg", time.Now())

	assert.True(t, KeyOwnedBy(key, "owner-1"))
	assert.False(t, KeyOwnedBy(key, "owner-2"))
	assert.False(t, KeyOwnedBy(key, ""))
	assert.False(t, KeyOwnedBy("garbage", "owner-1"))
}

func strPtr(s string) *string { return &s }
