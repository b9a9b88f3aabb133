package downloader

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Transcoder converts an audio or video file into an MP3.
type Transcoder interface {
	ToMP3(ctx context.Context, inputPath, outputPath string) error
}

// FFmpegTranscoder encodes with libmp3lame at the same bitrate the remote
// post-processor is asked for. The process is killed when ctx ends.
type FFmpegTranscoder struct {
	// Executable overrides the ffmpeg binary; empty uses PATH.
	Executable string
}

func (t FFmpegTranscoder) executable() (string, error) {
	name := t.Executable
	if name == "" {
		name = "ffmpeg"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found: %w", err)
	}
	return path, nil
}

func (t FFmpegTranscoder) ToMP3(ctx context.Context, inputPath, outputPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	binary, err := t.executable()
	if err != nil {
		return err
	}
	args := ffmpeg.Input(inputPath).
		Output(outputPath, ffmpeg.KwArgs{
			"vn":     "",
			"acodec": "libmp3lame",
			"b:a":    "192k",
		}).
		OverWriteOutput().
		GetArgs()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, lastLine(msg))
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
