package audio

import "fmt"

// Format describes a PCM stream layout.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// CanonicalFormat is the layout of every recording and every normalized reply.
var CanonicalFormat = Format{SampleRate: 44100, Channels: 1, BitDepth: 16}

func (f Format) BlockAlign() int {
	return f.Channels * f.BitDepth / 8
}

func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", f.Channels)
	}
	if f.BitDepth != 8 && f.BitDepth != 16 && f.BitDepth != 24 && f.BitDepth != 32 {
		return fmt.Errorf("unsupported bit depth %d", f.BitDepth)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}
