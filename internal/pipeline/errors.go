package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies which stage of the pipeline failed.
type Kind string

const (
	KindTranscription Kind = "TranscriptionError"
	KindGeneration    Kind = "GenerationError"
	KindSynthesis     Kind = "SynthesisError"
	KindNormalization Kind = "NormalizationError"
)

var (
	errEmptyRecording  = errors.New("recording has no audio data")
	errEmptyTranscript = errors.New("transcript is empty")
	errEmptyReply      = errors.New("reply text is empty")
	errEmptySpeech     = errors.New("synthesized audio is empty")
)

// Failure is the single error type returned by Process.
type Failure struct {
	Kind  Kind
	Stage Stage
	Cause error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s in %s stage: %v", f.Kind, f.Stage, f.Cause)
}

func (f *Failure) Unwrap() error { return f.Cause }

// KindOf extracts the failure kind from err, if any.
func KindOf(err error) (Kind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}
