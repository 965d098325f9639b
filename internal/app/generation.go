package app

import (
	"fmt"
	"log"
	"time"

	"github.com/ent0n29/voicerelay/internal/audio"
	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/reliability"
	"github.com/ent0n29/voicerelay/internal/voice"
)

type generationSetup struct {
	provider     voice.Provider
	providerName string
	converter    audio.Converter
	normalizer   string
}

func resolveGeneration(cfg config.Config) (generationSetup, error) {
	provider, name, err := voice.NewProvider(voice.FactoryConfig{
		Provider: cfg.GenerationProvider,
		OpenAI: voice.OpenAIConfig{
			APIKey:           cfg.OpenAIAPIKey,
			BaseURL:          cfg.OpenAIBaseURL,
			STTModel:         cfg.STTModel,
			ChatModel:        cfg.ChatModel,
			TTSModel:         cfg.TTSModel,
			Voice:            cfg.TTSVoice,
			Speed:            cfg.TTSSpeed,
			SpeakableReplies: cfg.SpeakableReplies,
		},
		Retry: reliability.Policy{
			Retries: cfg.PipelineRetries,
			Base:    250 * time.Millisecond,
			Cap:     4 * time.Second,
		},
	})
	if err != nil {
		return generationSetup{}, fmt.Errorf("generation provider init failed: %w", err)
	}
	switch name {
	case "openai":
		log.Printf("generation provider: openai stt=%s chat=%s tts=%s voice=%s retries=%d",
			cfg.STTModel, cfg.ChatModel, cfg.TTSModel, cfg.TTSVoice, cfg.PipelineRetries)
	default:
		log.Printf("generation provider: %s (no OPENAI_API_KEY or explicitly selected)", name)
	}

	converter, normalizer, err := audio.NewConverter(cfg.NormalizerMode, cfg.FFmpegPath)
	if err != nil {
		return generationSetup{}, fmt.Errorf("normalizer init failed: %w", err)
	}
	log.Printf("normalizer: %s", normalizer)

	return generationSetup{
		provider:     provider,
		providerName: name,
		converter:    converter,
		normalizer:   normalizer,
	}, nil
}
