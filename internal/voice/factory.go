package voice

import (
	"fmt"
	"strings"

	"github.com/ent0n29/voicerelay/internal/reliability"
)

type FactoryConfig struct {
	// Provider is auto, openai or mock.
	Provider string
	OpenAI   OpenAIConfig
	Retry    reliability.Policy
}

// NewProvider resolves the configured provider. auto picks OpenAI when an API
// key is present and the mock otherwise. The returned name is the backend in
// use.
func NewProvider(cfg FactoryConfig) (Provider, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "mock":
		return NewMockProvider(), "mock", nil
	case "openai":
		p, err := NewOpenAIProvider(cfg.OpenAI)
		if err != nil {
			return nil, "", err
		}
		return WithRetry(p, cfg.Retry), "openai", nil
	case "auto":
		if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
			return NewMockProvider(), "mock", nil
		}
		p, err := NewOpenAIProvider(cfg.OpenAI)
		if err != nil {
			return nil, "", err
		}
		return WithRetry(p, cfg.Retry), "openai", nil
	default:
		return nil, "", fmt.Errorf("invalid generation provider %q (expected auto|openai|mock)", cfg.Provider)
	}
}
