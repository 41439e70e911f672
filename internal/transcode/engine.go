// Package transcode wraps the external encoder used to normalise submitted
// videos into the playout format.
package transcode

import (
	"context"
	"fmt"
	"strings"
)

// Engine converts a source video file into the playout rendition at
// outputPath. Implementations must honour ctx cancellation by terminating the
// underlying encode.
type Engine interface {
	Transcode(ctx context.Context, inputPath, outputPath string) error
}

// Profile pins the encode parameters for the playout rendition. Every
// submission is normalised to the same profile so players never have to probe.
type Profile struct {
	Width        int
	Height       int
	VideoCodec   string
	Preset       string
	CRF          int
	VideoProfile string
	Level        string
	PixelFormat  string
	GOPSize      int
	BFrames      int
	AudioCodec   string
	AudioBitrate string
}

// DefaultProfile is 720p H.264 with AAC audio, padded to preserve the source
// aspect ratio.
func DefaultProfile() Profile {
	return Profile{
		Width:        1280,
		Height:       720,
		VideoCodec:   "libx264",
		Preset:       "fast",
		CRF:          23,
		VideoProfile: "main",
		Level:        "4.0",
		PixelFormat:  "yuv420p",
		GOPSize:      50,
		BFrames:      2,
		AudioCodec:   "aac",
		AudioBitrate: "128k",
	}
}

func (p Profile) scaleFilter() string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		p.Width, p.Height, p.Width, p.Height,
	)
}

// stderrTail keeps the most recent lines written by the encoder so failures
// can surface actionable context without retaining the full log.
type stderrTail struct {
	limit   int
	lines   []string
	partial strings.Builder
}

func newStderrTail(limit int) *stderrTail {
	return &stderrTail{limit: limit}
}

func (t *stderrTail) Write(p []byte) (int, error) {
	total := len(p)
	for _, b := range p {
		if b == '\n' || b == '\r' {
			t.flushLine()
			continue
		}
		t.partial.WriteByte(b)
	}
	return total, nil
}

func (t *stderrTail) flushLine() {
	line := strings.TrimSpace(t.partial.String())
	t.partial.Reset()
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

func (t *stderrTail) Tail() string {
	t.flushLine()
	return strings.Join(t.lines, "\n")
}
