package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicerelay/internal/audio"
	"github.com/ent0n29/voicerelay/internal/protocol"
)

type sendOptions struct {
	url        string
	file       string
	out        string
	chunkBytes int
	interval   time.Duration
	commit     bool
	wait       time.Duration
	quiet      time.Duration
}

type sendResult struct {
	chunks     int
	bytesSent  int
	frames     int
	replyBytes int
	firstFrame time.Duration
	total      time.Duration
}

func (r sendResult) print(w io.Writer, out string) {
	fmt.Fprintf(w, "voiceprobe: sent %d bytes in %d chunks\n", r.bytesSent, r.chunks)
	fmt.Fprintf(w, "voiceprobe: received %d bytes in %d frames\n", r.replyBytes, r.frames)
	fmt.Fprintf(w, "voiceprobe: first frame after %s, total %s\n", r.firstFrame.Round(time.Millisecond), r.total.Round(time.Millisecond))
	fmt.Fprintf(w, "voiceprobe: reply written to %s\n", out)
}

func runSend(ctx context.Context, opts sendOptions) (sendResult, error) {
	if opts.chunkBytes <= 0 {
		return sendResult{}, errors.New("--chunk-bytes must be positive")
	}
	pcm, err := loadCanonicalPCM(ctx, opts.file)
	if err != nil {
		return sendResult{}, err
	}
	if len(pcm) == 0 {
		return sendResult{}, fmt.Errorf("%s has no audio data", opts.file)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.url, nil)
	if err != nil {
		return sendResult{}, fmt.Errorf("dial %s: %w", opts.url, err)
	}
	defer conn.Close()

	frames := make(chan []byte, 256)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			if msgType == websocket.BinaryMessage {
				frames <- data
			}
		}
	}()

	var res sendResult
	started := time.Now()
	for _, chunk := range splitChunks(pcm, opts.chunkBytes) {
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return res, fmt.Errorf("send chunk %d: %w", res.chunks, err)
		}
		res.chunks++
		res.bytesSent += len(chunk)
		if opts.interval > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(opts.interval):
			}
		}
	}
	if opts.commit {
		msg := protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionCommit}
		if err := conn.WriteJSON(msg); err != nil {
			return res, fmt.Errorf("send commit: %w", err)
		}
	}

	reply, err := collectReply(ctx, frames, readErr, opts.wait, opts.quiet, &res)
	if err != nil {
		return res, err
	}
	res.total = time.Since(started)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	if dir := filepath.Dir(opts.out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return res, err
		}
	}
	if err := audio.WriteWAVPCM16LEFile(opts.out, reply, audio.CanonicalFormat.SampleRate); err != nil {
		return res, fmt.Errorf("write reply: %w", err)
	}
	return res, nil
}

// collectReply gathers frames until quiet passes with none after the first,
// or fails if nothing arrives within wait.
func collectReply(ctx context.Context, frames <-chan []byte, readErr <-chan error, wait, quiet time.Duration, res *sendResult) ([]byte, error) {
	start := time.Now()
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var reply []byte
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				if res.frames > 0 {
					return reply, nil
				}
				return nil, fmt.Errorf("connection closed before reply: %w", <-readErr)
			}
			if res.frames == 0 {
				res.firstFrame = time.Since(start)
			}
			res.frames++
			res.replyBytes += len(frame)
			reply = append(reply, frame...)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(quiet)
		case <-timer.C:
			if res.frames == 0 {
				return nil, fmt.Errorf("no reply within %s", wait)
			}
			return reply, nil
		}
	}
}

func splitChunks(pcm []byte, size int) [][]byte {
	out := make([][]byte, 0, (len(pcm)+size-1)/size)
	for off := 0; off < len(pcm); off += size {
		end := off + size
		if end > len(pcm) {
			end = len(pcm)
		}
		out = append(out, pcm[off:end])
	}
	return out
}

// loadCanonicalPCM returns the PCM payload of path at the relay's recording
// format, converting it first when the file uses a different one.
func loadCanonicalPCM(ctx context.Context, path string) ([]byte, error) {
	format, pcm, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if format == audio.CanonicalFormat {
		return pcm, nil
	}

	tmp, err := os.MkdirTemp("", "voiceprobe-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)
	converted := filepath.Join(tmp, "input.wav")
	if err := audio.NewNativeConverter().Convert(ctx, path, converted, audio.CanonicalFormat); err != nil {
		return nil, fmt.Errorf("convert %s (%s): %w", path, format, err)
	}
	_, pcm, err = audio.ReadWAVFile(converted)
	return pcm, err
}
