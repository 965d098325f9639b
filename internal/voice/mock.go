package voice

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"
	"sync/atomic"

	"github.com/ent0n29/voicerelay/internal/audio"
)

const (
	mockTranscript      = "simulated voice input"
	mockSpeechRate      = 24000
	mockSpeechPerWordMS = 120
	mockSpeechMinMS     = 300
)

// MockProvider is a local fallback provider used when OpenAI is not
// configured. It answers every recording without network access and emits a
// short tone at 24 kHz so the normalizer has real work to do.
type MockProvider struct {
	calls atomic.Int64
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Transcribe(_ context.Context, recordingPath string) (string, error) {
	p.calls.Add(1)
	info, err := os.Stat(recordingPath)
	if err != nil {
		return "", err
	}
	if info.Size() <= audio.WAVHeaderSize {
		return "", nil
	}
	return mockTranscript, nil
}

func (p *MockProvider) Converse(_ context.Context, _ string, text string) (string, error) {
	p.calls.Add(1)
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	return fmt.Sprintf("You said: %s", text), nil
}

func (p *MockProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	p.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return nil, nil
	}
	ms := words * mockSpeechPerWordMS
	if ms < mockSpeechMinMS {
		ms = mockSpeechMinMS
	}
	return audio.EncodeWAVPCM16LE(tone(mockSpeechRate, ms, 440), mockSpeechRate)
}

// Calls reports how many provider methods have run.
func (p *MockProvider) Calls() int64 { return p.calls.Load() }

func tone(rate, ms int, hz float64) []byte {
	n := rate * ms / 1000
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := 0.25 * math.Sin(2*math.Pi*hz*float64(i)/float64(rate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return pcm
}
