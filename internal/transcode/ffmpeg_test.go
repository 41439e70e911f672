package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBuildArgsUsesDefaultProfile(t *testing.T) {
	engine := NewFFmpegEngine()
	args := engine.buildArgs("/scratch/in.mp4", "/scratch/out.mp4")

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-i /scratch/in.mp4",
		"-c:v libx264",
		"-preset fast",
		"-crf 23",
		"-profile:v main",
		"-level 4.0",
		"-pix_fmt yuv420p",
		"-g 50",
		"-bf 2",
		"-c:a aac",
		"-b:a 128k",
		"-movflags +faststart",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if args[len(args)-1] != "/scratch/out.mp4" {
		t.Fatalf("output path should be last arg, got %q", args[len(args)-1])
	}
	if !strings.Contains(joined, "scale=1280:720:force_original_aspect_ratio=decrease") {
		t.Fatalf("scale filter missing: %s", joined)
	}
	if !strings.Contains(joined, "pad=1280:720:(ow-iw)/2:(oh-ih)/2") {
		t.Fatalf("pad filter missing: %s", joined)
	}
}

func TestStderrTailKeepsLastLines(t *testing.T) {
	tail := newStderrTail(3)
	for i := 0; i < 10; i++ {
		fmt.Fprintf(tail, "line %d\n", i)
	}
	got := tail.Tail()
	want := "line 7\nline 8\nline 9"
	if got != want {
		t.Fatalf("tail = %q, want %q", got, want)
	}
}

func TestStderrTailHandlesCarriageReturnsAndPartials(t *testing.T) {
	tail := newStderrTail(5)
	tail.Write([]byte("frame=1\rframe=2\rfra"))
	tail.Write([]byte("me=3\n"))
	got := tail.Tail()
	want := "frame=1\nframe=2\nframe=3"
	if got != want {
		t.Fatalf("tail = %q, want %q", got, want)
	}
}

func TestTranscodeReportsTimeout(t *testing.T) {
	// A stand-in binary that hangs regardless of the encode flags, to
	// exercise the deadline-kill path the same way a stuck encoder would.
	script := filepath.Join(t.TempDir(), "hang.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 60\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	engine := &FFmpegEngine{Binary: script, Profile: DefaultProfile()}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := engine.Transcode(ctx, "in.mp4", "out.mp4")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("err = %v, want timeout mention", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("process not terminated promptly: %s", elapsed)
	}
}

func TestTranscodeValidatesPaths(t *testing.T) {
	engine := NewFFmpegEngine()
	if err := engine.Transcode(context.Background(), "", "out.mp4"); err == nil {
		t.Fatal("expected error for empty input")
	}
	if err := engine.Transcode(context.Background(), "in.mp4", ""); err == nil {
		t.Fatal("expected error for empty output")
	}
}

func TestTranscodeSurfacesStderrTail(t *testing.T) {
	engine := &FFmpegEngine{Binary: "sh", Profile: DefaultProfile()}
	// sh treats the generated flags as garbage and writes a usage error to
	// stderr, which must appear in the returned error.
	err := engine.Transcode(context.Background(), "in.mp4", "out.mp4")
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "ffmpeg failed") {
		t.Fatalf("err = %v, want ffmpeg failure", err)
	}
}
