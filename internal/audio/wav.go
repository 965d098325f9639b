package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// WAVHeaderSize is the length of the canonical RIFF/WAVE header written by this package.
const WAVHeaderSize = 44

const (
	riffSizeOffset = 4
	dataSizeOffset = 40
	// Streaming encoders leave the data length at this value when it is unknown.
	unknownDataSize = 0xFFFFFFFF
)

var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LEFile writes raw PCM16LE mono audio bytes as a WAV file.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAVPCM16LETo(f, pcm, sampleRate); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = CanonicalFormat.SampleRate
	}
	w := bufio.NewWriter(out)
	f := Format{SampleRate: sampleRate, Channels: 1, BitDepth: 16}
	if err := WriteWAVHeader(w, f, uint32(len(pcm))); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// WriteWAVHeader writes a 44-byte PCM header declaring f and dataSize bytes of samples.
func WriteWAVHeader(out io.Writer, f Format, dataSize uint32) error {
	const audioFormat = 1 // PCM

	if err := f.Validate(); err != nil {
		return err
	}

	// RIFF header.
	if _, err := io.WriteString(out, "RIFF"); err != nil {
		return err
	}
	if err := binary.Write(out, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := io.WriteString(out, "WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := io.WriteString(out, "fmt "); err != nil {
		return err
	}
	fields := []any{
		uint32(16),
		uint16(audioFormat),
		uint16(f.Channels),
		uint32(f.SampleRate),
		uint32(f.ByteRate()),
		uint16(f.BlockAlign()),
		uint16(f.BitDepth),
	}
	for _, v := range fields {
		if err := binary.Write(out, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	// data chunk.
	if _, err := io.WriteString(out, "data"); err != nil {
		return err
	}
	return binary.Write(out, binary.LittleEndian, dataSize)
}

// ReadWAV parses a RIFF/WAVE stream and returns its format and sample bytes.
// Unknown chunks are skipped. A data chunk declaring 0xFFFFFFFF is read to EOF,
// which is how streamed synthesis output usually arrives; a declared length
// longer than the stream yields what is there. A declared length of zero is an
// empty recording.
func ReadWAV(r io.Reader) (Format, []byte, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, nil, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}

	var (
		format    Format
		sawFormat bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Format{}, nil, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("fmt chunk too short: %d", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			if code := binary.LittleEndian.Uint16(body[0:2]); code != 1 && code != 0xFFFE {
				return Format{}, nil, fmt.Errorf("unsupported wav encoding 0x%04x", code)
			}
			format = Format{
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
				BitDepth:   int(binary.LittleEndian.Uint16(body[14:16])),
			}
			sawFormat = true
			if size%2 == 1 {
				_, _ = io.CopyN(io.Discard, r, 1)
			}
		case "data":
			if !sawFormat {
				return Format{}, nil, errors.New("data chunk before fmt chunk")
			}
			var data []byte
			var err error
			if size == unknownDataSize {
				data, err = io.ReadAll(r)
			} else {
				data, err = io.ReadAll(io.LimitReader(r, int64(size)))
			}
			if err != nil {
				return Format{}, nil, fmt.Errorf("read data chunk: %w", err)
			}
			return format, data, nil
		default:
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return Format{}, nil, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// ReadWAVFile is ReadWAV over a file path.
func ReadWAVFile(path string) (Format, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, nil, err
	}
	defer f.Close()
	return ReadWAV(bufio.NewReader(f))
}
