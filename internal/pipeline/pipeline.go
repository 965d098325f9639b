// Package pipeline turns a finished utterance recording into a reply recording.
//
// The work is an explicit linear chain of fallible stages:
//
//	transcribe -> generate -> synthesize -> normalize
//
// The first failing stage aborts the chain and Process returns a *Failure.
// Nothing is streamed by this package; callers only see a reply path or an error.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ent0n29/voicerelay/internal/audio"
)

// DefaultSystemPrompt is sent with every transcript.
const DefaultSystemPrompt = "You are a helpful assistant."

// Stage names one step of the chain.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageGenerate   Stage = "generate"
	StageSynthesize Stage = "synthesize"
	StageNormalize  Stage = "normalize"
)

type Transcriber interface {
	Transcribe(ctx context.Context, recordingPath string) (string, error)
}

type Converser interface {
	Converse(ctx context.Context, systemPrompt, text string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type Converter interface {
	Convert(ctx context.Context, in, out string, target audio.Format) error
}

// Turn is one completed exchange, handed to the TurnRecorder.
type Turn struct {
	SessionID string
	Utterance string
	UserText  string
	ReplyText string
}

type TurnRecorder interface {
	RecordTurn(ctx context.Context, turn Turn) error
}

type Config struct {
	SystemPrompt string
	Target       audio.Format
	// OnStage observes every stage run, successful or not.
	OnStage func(stage Stage, elapsed time.Duration, err error)
	// Recorder is optional; its errors are logged and never fail the pipeline.
	Recorder TurnRecorder
}

type Pipeline struct {
	transcriber Transcriber
	converser   Converser
	synthesizer Synthesizer
	converter   Converter
	cfg         Config
	stages      []stage
}

type stage struct {
	name Stage
	kind Kind
	run  func(ctx context.Context, st *state) error
}

type state struct {
	sessionID  string
	recording  string
	transcript string
	reply      string
	speech     []byte
	replyPath  string
}

func New(t Transcriber, c Converser, s Synthesizer, conv Converter, cfg Config) *Pipeline {
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Target == (audio.Format{}) {
		cfg.Target = audio.CanonicalFormat
	}
	p := &Pipeline{
		transcriber: t,
		converser:   c,
		synthesizer: s,
		converter:   conv,
		cfg:         cfg,
	}
	p.stages = []stage{
		{name: StageTranscribe, kind: KindTranscription, run: p.transcribe},
		{name: StageGenerate, kind: KindGeneration, run: p.generate},
		{name: StageSynthesize, kind: KindSynthesis, run: p.synthesize},
		{name: StageNormalize, kind: KindNormalization, run: p.normalize},
	}
	return p
}

// Process runs every stage for the recording at recordingPath and returns the
// path of the normalized reply. Any error is a *Failure.
func (p *Pipeline) Process(ctx context.Context, sessionID, recordingPath string) (string, error) {
	st := &state{sessionID: sessionID, recording: recordingPath}
	for _, s := range p.stages {
		if err := p.runStage(ctx, s, st); err != nil {
			return "", &Failure{Kind: s.kind, Stage: s.name, Cause: err}
		}
	}
	return st.replyPath, nil
}

func (p *Pipeline) runStage(ctx context.Context, s stage, st *state) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if p.cfg.OnStage != nil {
			p.cfg.OnStage(s.name, time.Since(start), err)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.run(ctx, st)
}

func (p *Pipeline) transcribe(ctx context.Context, st *state) error {
	info, err := os.Stat(st.recording)
	if err != nil {
		return err
	}
	if info.Size() <= audio.WAVHeaderSize {
		return errEmptyRecording
	}
	text, err := p.transcriber.Transcribe(ctx, st.recording)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errEmptyTranscript
	}
	log.Printf("pipeline: transcribed recording=%s text=%q", filepath.Base(st.recording), text)
	st.transcript = text
	return nil
}

func (p *Pipeline) generate(ctx context.Context, st *state) error {
	reply, err := p.converser.Converse(ctx, p.cfg.SystemPrompt, st.transcript)
	if err != nil {
		return err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return errEmptyReply
	}
	log.Printf("pipeline: reply recording=%s text=%q", filepath.Base(st.recording), reply)
	st.reply = reply

	if p.cfg.Recorder != nil {
		turn := Turn{
			SessionID: st.sessionID,
			Utterance: filepath.Base(st.recording),
			UserText:  st.transcript,
			ReplyText: st.reply,
		}
		if err := p.cfg.Recorder.RecordTurn(ctx, turn); err != nil {
			log.Printf("pipeline: record turn failed recording=%s err=%v", turn.Utterance, err)
		}
	}
	return nil
}

func (p *Pipeline) synthesize(ctx context.Context, st *state) error {
	speech, err := p.synthesizer.Synthesize(ctx, st.reply)
	if err != nil {
		return err
	}
	if len(speech) == 0 {
		return errEmptySpeech
	}
	st.speech = speech
	return nil
}

func (p *Pipeline) normalize(ctx context.Context, st *state) error {
	tempPath, finalPath := ReplyPaths(st.recording)
	if err := os.WriteFile(tempPath, st.speech, 0o644); err != nil {
		return fmt.Errorf("write raw reply: %w", err)
	}
	// The raw file stays on disk when conversion fails so it can be inspected.
	if err := p.converter.Convert(ctx, tempPath, finalPath, p.cfg.Target); err != nil {
		return fmt.Errorf("convert %s: %w", filepath.Base(tempPath), err)
	}
	if err := os.Remove(tempPath); err != nil {
		log.Printf("pipeline: remove raw reply failed path=%s err=%v", tempPath, err)
	}
	st.replyPath = finalPath
	return nil
}

// ReplyPaths derives the raw and normalized reply file names from a recording path.
func ReplyPaths(recordingPath string) (temp, final string) {
	base := strings.TrimSuffix(recordingPath, filepath.Ext(recordingPath))
	return base + "_temp_response.wav", base + "_response_44k.wav"
}
