package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	DefaultSTTModel  = "whisper-1"
	DefaultChatModel = "gpt-4"
	DefaultTTSModel  = "tts-1-hd"
	DefaultVoice     = "alloy"
	DefaultSpeed     = 1.0
)

type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	STTModel  string
	ChatModel string
	TTSModel  string
	Voice     string
	Speed     float64
	// SpeakableReplies strips markup from replies before synthesis.
	SpeakableReplies bool
	HTTPClient       *http.Client
}

// OpenAIProvider runs transcription, chat and speech against the OpenAI API.
// Requests are not retried here; wrap it with WithRetry.
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.STTModel == "" {
		cfg.STTModel = DefaultSTTModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = DefaultTTSModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.Speed <= 0 {
		cfg.Speed = DefaultSpeed
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, cfg: cfg}, nil
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, recordingPath string) (string, error) {
	f, err := os.Open(recordingPath)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	resp, err := p.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(p.cfg.STTModel),
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return resp.Text, nil
}

func (p *OpenAIProvider) Converse(ctx context.Context, systemPrompt, text string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(text))

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.cfg.ChatModel),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if p.cfg.SpeakableReplies {
		if clean := SpeakableText(text); clean != "" {
			text = clean
		}
	}
	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(p.cfg.TTSModel),
		Voice:          openai.AudioSpeechNewParamsVoice(p.cfg.Voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat("wav"),
		Speed:          openai.Float(p.cfg.Speed),
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai speech body: %w", err)
	}
	return body, nil
}
