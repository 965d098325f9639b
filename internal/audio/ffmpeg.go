package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegConverter shells out to ffmpeg for resampling and channel conversion.
type FFmpegConverter struct {
	path string
}

func NewFFmpegConverter(path string) *FFmpegConverter {
	return &FFmpegConverter{path: path}
}

func (c *FFmpegConverter) Convert(ctx context.Context, in, out string, target Format) error {
	if err := target.Validate(); err != nil {
		return err
	}
	codec := "pcm_s" + strconv.Itoa(target.BitDepth) + "le"
	if target.BitDepth == 8 {
		codec = "pcm_u8"
	}
	// Bitexact flags and dropped metadata keep the output header at exactly 44
	// bytes; playback skips a fixed header length.
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-i", in,
		"-map_metadata", "-1",
		"-fflags", "+bitexact",
		"-flags:a", "+bitexact",
		"-ar", strconv.Itoa(target.SampleRate),
		"-ac", strconv.Itoa(target.Channels),
		"-c:a", codec,
		"-f", "wav",
		out,
	}

	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 4<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(4<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("ffmpeg failed: %s", detail)
	}
	return nil
}
