package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	resampling "github.com/tphakala/go-audio-resampling"
)

// NativeConverter resamples 16-bit PCM WAV files in process. It exists for
// hosts without ffmpeg; only 16-bit mono or stereo input is accepted.
type NativeConverter struct{}

func NewNativeConverter() *NativeConverter { return &NativeConverter{} }

func (c *NativeConverter) Convert(ctx context.Context, in, out string, target Format) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if target.BitDepth != 16 || target.Channels > 2 {
		return fmt.Errorf("native converter supports 16-bit mono/stereo output, got %s", target)
	}
	src, pcm, err := ReadWAVFile(in)
	if err != nil {
		return fmt.Errorf("read %s: %w", in, err)
	}
	if src.BitDepth != 16 || src.Channels < 1 || src.Channels > 2 {
		return fmt.Errorf("native converter supports 16-bit mono/stereo input, got %s", src)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	samples := decodePCM16(pcm, src.Channels, target.Channels)
	if src.SampleRate != target.SampleRate && len(samples) > 0 {
		samples, err = resampleInterleaved(samples, target.Channels, src.SampleRate, target.SampleRate)
		if err != nil {
			return err
		}
	}

	outPCM := encodePCM16(samples)
	if target.Channels == 1 {
		return WriteWAVPCM16LEFile(out, outPCM, target.SampleRate)
	}
	return writeWAVFile(out, target, outPCM)
}

// resampleInterleaved runs one resampler per channel. Each resampler's Flush
// only drains its first channel, and without it the filter delay is lost from
// the end of the clip.
func resampleInterleaved(samples []float64, channels, inRate, outRate int) ([]float64, error) {
	frames := len(samples) / channels
	want := int(math.Round(float64(frames) * float64(outRate) / float64(inRate)))

	out := make([][]float64, channels)
	for ch := 0; ch < channels; ch++ {
		mono := make([]float64, frames)
		for i := range mono {
			mono[i] = samples[i*channels+ch]
		}
		rs, err := resampling.New(&resampling.Config{
			InputRate:  float64(inRate),
			OutputRate: float64(outRate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("create resampler: %w", err)
		}
		body, err := rs.Process(mono)
		if err != nil {
			return nil, fmt.Errorf("resample: %w", err)
		}
		tail, err := rs.Flush()
		if err != nil {
			return nil, fmt.Errorf("flush resampler: %w", err)
		}
		out[ch] = append(body, tail...)
		if len(out[ch]) > want {
			out[ch] = out[ch][:want]
		}
	}

	n := len(out[0])
	for _, c := range out[1:] {
		if len(c) < n {
			n = len(c)
		}
	}
	interleaved := make([]float64, 0, n*channels)
	for i := 0; i < n; i++ {
		for ch := 0; ch < channels; ch++ {
			interleaved = append(interleaved, out[ch][i])
		}
	}
	return interleaved, nil
}

// decodePCM16 converts interleaved PCM16LE to normalized floats, mixing or
// duplicating channels to match dstChannels.
func decodePCM16(pcm []byte, srcChannels, dstChannels int) []float64 {
	frames := len(pcm) / (2 * srcChannels)
	out := make([]float64, 0, frames*dstChannels)
	for i := 0; i < frames; i++ {
		base := i * 2 * srcChannels
		l := float64(int16(binary.LittleEndian.Uint16(pcm[base:]))) / 32768.0
		r := l
		if srcChannels == 2 {
			r = float64(int16(binary.LittleEndian.Uint16(pcm[base+2:]))) / 32768.0
		}
		if dstChannels == 1 {
			out = append(out, (l+r)/2)
			continue
		}
		out = append(out, l, r)
	}
	return out
}

func encodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(s * 32767.0)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

func writeWAVFile(path string, f Format, pcm []byte) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	err = WriteWAVHeader(w, f, uint32(len(pcm)))
	if err == nil {
		_, err = w.Write(pcm)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}
