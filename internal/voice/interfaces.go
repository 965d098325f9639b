package voice

import "context"

// Provider is the set of model calls one utterance needs. It satisfies the
// pipeline's Transcriber, Converser and Synthesizer interfaces.
type Provider interface {
	// Transcribe returns the text spoken in the WAV file at recordingPath.
	Transcribe(ctx context.Context, recordingPath string) (string, error)
	// Converse returns the assistant reply to text under systemPrompt.
	Converse(ctx context.Context, systemPrompt, text string) (string, error)
	// Synthesize returns encoded audio (a WAV file) speaking text.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
