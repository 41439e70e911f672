package transcode

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const stderrTailLines = 20

// FFmpegEngine shells out to ffmpeg for each conversion. The binary path and
// profile are fixed at construction; a zero-value profile falls back to
// DefaultProfile.
type FFmpegEngine struct {
	Binary  string
	Profile Profile
}

func NewFFmpegEngine() *FFmpegEngine {
	return &FFmpegEngine{Binary: "ffmpeg", Profile: DefaultProfile()}
}

func (e *FFmpegEngine) binary() string {
	if strings.TrimSpace(e.Binary) == "" {
		return "ffmpeg"
	}
	return e.Binary
}

func (e *FFmpegEngine) profile() Profile {
	if e.Profile.VideoCodec == "" {
		return DefaultProfile()
	}
	return e.Profile
}

func (e *FFmpegEngine) buildArgs(inputPath, outputPath string) []string {
	p := e.profile()
	return []string{
		"-y",
		"-i", inputPath,
		"-c:v", p.VideoCodec,
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
		"-profile:v", p.VideoProfile,
		"-level", p.Level,
		"-pix_fmt", p.PixelFormat,
		"-vf", p.scaleFilter(),
		"-g", strconv.Itoa(p.GOPSize),
		"-bf", strconv.Itoa(p.BFrames),
		"-c:a", p.AudioCodec,
		"-b:a", p.AudioBitrate,
		"-movflags", "+faststart",
		outputPath,
	}
}

// Transcode runs ffmpeg until it exits or ctx expires. On ctx expiry the
// process is killed and the returned error names the timeout; on encoder
// failure the last stderr lines are appended for diagnosis.
func (e *FFmpegEngine) Transcode(ctx context.Context, inputPath, outputPath string) error {
	if strings.TrimSpace(inputPath) == "" {
		return fmt.Errorf("input path is required")
	}
	if strings.TrimSpace(outputPath) == "" {
		return fmt.Errorf("output path is required")
	}

	tail := newStderrTail(stderrTailLines)
	cmd := exec.CommandContext(ctx, e.binary(), e.buildArgs(inputPath, outputPath)...)
	cmd.Stderr = tail
	// Give the process a moment to exit after the kill signal before Wait
	// gives up on it.
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("conversion timeout exceeded: %w", ctxErr)
		}
		return fmt.Errorf("conversion canceled: %w", ctxErr)
	}

	if stderr := tail.Tail(); stderr != "" {
		return fmt.Errorf("ffmpeg failed: %v\n%s", err, stderr)
	}
	return fmt.Errorf("ffmpeg failed: %w", err)
}
