package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
)

var (
	ErrSinkClosed = errors.New("sink is closed")
	// ErrSinkFull means the chunk would push the data past what the 32-bit
	// RIFF size fields can describe. The recording so far stays valid.
	ErrSinkFull = errors.New("recording exceeds WAV size limit")
)

// maxDataSize keeps the RIFF size (36 + data) within a uint32.
const maxDataSize = math.MaxUint32 - 36

// SinkError reports a failed write or close on a recording file.
type SinkError struct {
	Op   string
	Path string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Sink accumulates one utterance into a WAV file. Appended bytes are treated as
// an opaque stream; they do not need to be aligned to sample boundaries.
type Sink struct {
	mu     sync.Mutex
	path   string
	format Format
	file   *os.File
	w      *bufio.Writer
	size   int64
	limit  int64
	closed bool
}

// OpenSink creates dir/name and writes a placeholder header declaring format.
func OpenSink(dir, name string, format Format) (*Sink, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &SinkError{Op: "open", Path: dir, Err: err}
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &SinkError{Op: "open", Path: path, Err: err}
	}
	w := bufio.NewWriterSize(f, 32<<10)
	if err := WriteWAVHeader(w, format, 0); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, &SinkError{Op: "open", Path: path, Err: err}
	}
	return &Sink{path: path, format: format, file: f, w: w, limit: maxDataSize}, nil
}

func (s *Sink) Path() string { return s.path }

func (s *Sink) Format() Format { return s.format }

// Size reports the number of data bytes appended so far.
func (s *Sink) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Sink) Append(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if len(p) == 0 {
		return nil
	}
	if s.size+int64(len(p)) > s.limit {
		return &SinkError{Op: "append", Path: s.path, Err: ErrSinkFull}
	}
	n, err := s.w.Write(p)
	s.size += int64(n)
	if err != nil {
		return &SinkError{Op: "append", Path: s.path, Err: err}
	}
	return nil
}

// Close flushes buffered bytes, patches the RIFF and data lengths and closes
// the file. Calling Close again returns the same path and no error.
func (s *Sink) Close() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.path, nil
	}
	s.closed = true

	err := s.w.Flush()
	if err == nil {
		err = s.patchSizes()
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return s.path, &SinkError{Op: "close", Path: s.path, Err: err}
	}
	return s.path, nil
}

func (s *Sink) patchSizes() error {
	dataSize := uint32(s.size)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], 36+dataSize)
	if _, err := s.file.WriteAt(b[:], riffSizeOffset); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b[:], dataSize)
	_, err := s.file.WriteAt(b[:], dataSizeOffset)
	return err
}
