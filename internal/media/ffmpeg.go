package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"timecapsule/backend/internal/config"
)

// FFmpeg 是基于外部 ffmpeg/ffprobe 进程的转码器实现
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	maxWidth    int
	maxHeight   int
	bitrate     string
	timeout     time.Duration
	logger      *zap.Logger
}

// NewFFmpeg 创建 ffmpeg 转码器
func NewFFmpeg(cfg config.MediaConfig, logger *zap.Logger) *FFmpeg {
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	ffprobePath := cfg.FFprobePath
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}

	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		maxWidth:    cfg.VideoMaxWidth,
		maxHeight:   cfg.VideoMaxHeight,
		bitrate:     cfg.VideoBitrate,
		timeout:     cfg.TranscodeTimeout,
		logger:      logger,
	}
}

// Transcode 单次调用 ffmpeg 产出 H.264/AAC MP4
func (f *FFmpeg) Transcode(ctx context.Context, inPath, outPath string) error {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inPath,
		"-vf", f.scaleFilter(),
		"-c:v", "libx264", "-preset", "veryfast",
		"-b:v", f.bitrate, "-maxrate", f.bitrate, "-bufsize", f.bitrate,
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		outPath,
	}

	start := time.Now()
	if _, err := f.run(ctx, f.ffmpegPath, args); err != nil {
		return err
	}

	if f.logger != nil {
		f.logger.Info("video transcoded",
			zap.String("output", filepath.Base(outPath)),
			zap.Duration("elapsed", time.Since(start)))
	}
	return nil
}

// Probe 通过 ffprobe 读取宽高与时长
func (f *FFmpeg) Probe(ctx context.Context, path string) (ProbeResult, error) {
	args := []string{
		"-hide_banner", "-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	}

	out, err := f.run(ctx, f.ffprobePath, args)
	if err != nil {
		return ProbeResult{}, err
	}
	return parseProbe(out)
}

// ExtractPoster 从指定时间点抽取一帧写为 JPEG
func (f *FFmpeg) ExtractPoster(ctx context.Context, inPath, outPath string, offset time.Duration) error {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64),
		"-i", inPath,
		"-frames:v", "1",
		"-q:v", "2",
		outPath,
	}

	_, err := f.run(ctx, f.ffmpegPath, args)
	return err
}

// scaleFilter 生成缩放滤镜：缩入 maxWidth×maxHeight 边界、保持宽高比、
// 不放大（目标框取输入尺寸与边界的较小值）、宽高保持偶数以满足 H.264
func (f *FFmpeg) scaleFilter() string {
	return fmt.Sprintf(
		"scale=w=min(iw\\,%d):h=min(ih\\,%d):force_original_aspect_ratio=decrease:force_divisible_by=2",
		f.maxWidth, f.maxHeight)
}

// run 在超时约束下执行外部进程，stderr 摘要进入错误信息
func (f *FFmpeg) run(ctx context.Context, bin string, args []string) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", filepath.Base(bin), err, tail(stderr.String(), 512))
	}
	return stdout.Bytes(), nil
}

// parseProbe 解析 ffprobe 的 JSON 输出
func parseProbe(out []byte) (ProbeResult, error) {
	var payload struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}

	if err := json.Unmarshal(out, &payload); err != nil {
		return ProbeResult{}, fmt.Errorf("failed to parse probe output: %w", err)
	}
	if len(payload.Streams) == 0 {
		return ProbeResult{}, fmt.Errorf("probe output has no video stream")
	}

	stream := payload.Streams[0]
	if stream.Width <= 0 || stream.Height <= 0 {
		return ProbeResult{}, fmt.Errorf("probe output has invalid dimensions: %dx%d", stream.Width, stream.Height)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(payload.Format.Duration), 64)
	if err != nil || seconds < 0 {
		return ProbeResult{}, fmt.Errorf("probe output has invalid duration: %q", payload.Format.Duration)
	}

	return ProbeResult{
		Width:    stream.Width,
		Height:   stream.Height,
		Duration: time.Duration(seconds * float64(time.Second)),
	}, nil
}

// tail 截取字符串末尾 n 个字节并压平换行，用于错误摘要
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return strings.ReplaceAll(s, "\n", " | ")
}
