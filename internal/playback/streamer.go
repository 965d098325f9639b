// Package playback streams a finished reply file to a client in fixed-size frames.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ent0n29/voicerelay/internal/audio"
)

const DefaultFrameSize = 1024

// ErrSinkGone is returned when the destination closed before the file was fully sent.
var ErrSinkGone = errors.New("destination closed")

// FrameSink is the client side of a stream.
type FrameSink interface {
	WriteBinary(frame []byte) error
	Closed() bool
}

// StreamError reports a read or send failure during playback.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Stats describes what was delivered.
type Stats struct {
	Frames int
	Bytes  int64
}

type Streamer struct {
	FrameSize  int
	HeaderSize int64
}

func NewStreamer(frameSize int) *Streamer {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	return &Streamer{FrameSize: frameSize, HeaderSize: audio.WAVHeaderSize}
}

// Stream sends the file at path, minus its header, to dst in order. It relies
// on the transport's own backpressure; there is no application-level flow
// control and no in-band error signal.
func (s *Streamer) Stream(ctx context.Context, dst FrameSink, path string) (Stats, error) {
	var stats Stats
	f, err := os.Open(path)
	if err != nil {
		return stats, &StreamError{Op: "open", Err: err}
	}
	defer f.Close()

	if _, err := f.Seek(s.HeaderSize, io.SeekStart); err != nil {
		return stats, &StreamError{Op: "seek", Err: err}
	}

	frameSize := s.FrameSize
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if dst.Closed() {
			return stats, ErrSinkGone
		}

		// Each frame gets its own buffer; transports may hold on to it.
		buf := make([]byte, frameSize)
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			if dst.Closed() {
				return stats, ErrSinkGone
			}
			if err := dst.WriteBinary(buf[:n]); err != nil {
				if dst.Closed() {
					return stats, ErrSinkGone
				}
				return stats, &StreamError{Op: "send", Err: err}
			}
			stats.Frames++
			stats.Bytes += int64(n)
		}
		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			return stats, nil
		default:
			return stats, &StreamError{Op: "read", Err: readErr}
		}
	}
}
