package media

import (
	"fmt"
	"os"
	"path/filepath"
)

// Scratch 是单次视频接收的暂存目录。
// 转码输入、输出与封面帧都写在这里，接收结束后整目录删除。
type Scratch struct {
	dir string
}

// NewScratch 在 baseDir 下创建唯一暂存目录；baseDir 为空时使用系统临时目录。
func NewScratch(baseDir string) (*Scratch, error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create scratch base directory: %w", err)
		}
	}

	dir, err := os.MkdirTemp(baseDir, "capsule-media-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	return &Scratch{dir: dir}, nil
}

// Path 返回暂存目录内指定文件的完整路径
func (s *Scratch) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Spill 将内存中的载荷写入暂存文件并返回完整路径
func (s *Scratch) Spill(name string, data []byte) (string, error) {
	path := s.Path(name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to spill payload to scratch: %w", err)
	}
	return path, nil
}

// Read 读取暂存文件内容
func (s *Scratch) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read scratch file: %w", err)
	}
	return data, nil
}

// Remove 删除整个暂存目录。幂等，失败静默（目录位于临时区，残留可被系统回收）。
func (s *Scratch) Remove() {
	if s.dir != "" {
		os.RemoveAll(s.dir)
	}
}
