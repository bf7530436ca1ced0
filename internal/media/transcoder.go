package media

import (
	"context"
	"time"
)

// ProbeResult 转码输出文件的探测结果
type ProbeResult struct {
	Width    int
	Height   int
	Duration time.Duration
}

// Transcoder 抽象外部转码器。
// 生产实现调用 ffmpeg/ffprobe，测试使用假实现。
type Transcoder interface {
	// Transcode 将输入文件转码为 H.264/AAC MP4，缩入配置边界（不放大）
	Transcode(ctx context.Context, inPath, outPath string) error
	// Probe 探测文件的宽高与时长（管线只探测转码输出，不信任输入元数据）
	Probe(ctx context.Context, path string) (ProbeResult, error)
	// ExtractPoster 从视频的指定时间点抽取一帧写为 JPEG
	ExtractPoster(ctx context.Context, inPath, outPath string, offset time.Duration) error
}
