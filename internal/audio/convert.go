package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Converter rewrites the audio file at in as a canonical PCM WAV file at out.
type Converter interface {
	Convert(ctx context.Context, in, out string, target Format) error
}

// NewConverter picks a converter implementation.
//
//	auto   - ffmpeg when it is on PATH, otherwise the in-process resampler
//	ffmpeg - ffmpegPath (or "ffmpeg") must resolve
//	native - in-process resampler, 16-bit PCM WAV input only
func NewConverter(mode, ffmpegPath string) (Converter, string, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "auto"
	}
	ffmpegPath = strings.TrimSpace(ffmpegPath)
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	switch mode {
	case "ffmpeg":
		p, err := exec.LookPath(ffmpegPath)
		if err != nil {
			return nil, "", fmt.Errorf("ffmpeg not found (%s): %w", ffmpegPath, err)
		}
		return NewFFmpegConverter(p), "ffmpeg", nil
	case "native":
		return NewNativeConverter(), "native", nil
	case "auto":
		if p, err := exec.LookPath(ffmpegPath); err == nil {
			return NewFFmpegConverter(p), "ffmpeg", nil
		}
		return NewNativeConverter(), "native", nil
	default:
		return nil, "", fmt.Errorf("invalid normalizer mode %q (expected auto|ffmpeg|native)", mode)
	}
}
