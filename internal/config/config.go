package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the voice relay.
type Config struct {
	BindAddr         string        `yaml:"bind_addr"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	MetricsNamespace string        `yaml:"metrics_namespace"`
	AllowAnyOrigin   bool          `yaml:"allow_any_origin"`

	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	RecordingsDir string        `yaml:"recordings_dir"`
	FrameSize     int           `yaml:"frame_size"`
	ReadLimit     int64         `yaml:"read_limit"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	PingInterval  time.Duration `yaml:"ping_interval"`

	GenerationProvider string  `yaml:"generation_provider"`
	OpenAIAPIKey       string  `yaml:"openai_api_key"`
	OpenAIBaseURL      string  `yaml:"openai_base_url"`
	STTModel           string  `yaml:"stt_model"`
	ChatModel          string  `yaml:"chat_model"`
	TTSModel           string  `yaml:"tts_model"`
	TTSVoice           string  `yaml:"tts_voice"`
	TTSSpeed           float64 `yaml:"tts_speed"`
	SpeakableReplies   bool    `yaml:"speakable_replies"`
	SystemPrompt       string  `yaml:"system_prompt"`

	NormalizerMode  string        `yaml:"normalizer_mode"`
	FFmpegPath      string        `yaml:"ffmpeg_path"`
	PipelineTimeout time.Duration `yaml:"pipeline_timeout"`
	PipelineRetries int           `yaml:"pipeline_retries"`

	DatabaseURL      string        `yaml:"database_url"`
	RedactTurns      bool          `yaml:"redact_turns"`
	SessionRetention time.Duration `yaml:"session_retention"`
}

func defaults() Config {
	return Config{
		BindAddr:           ":8888",
		ShutdownTimeout:    15 * time.Second,
		MetricsNamespace:   "voicerelay",
		IdleTimeout:        500 * time.Millisecond,
		RecordingsDir:      "recordings",
		FrameSize:          1024,
		ReadLimit:          1 << 20,
		WriteTimeout:       5 * time.Second,
		PingInterval:       20 * time.Second,
		GenerationProvider: "auto",
		STTModel:           "whisper-1",
		ChatModel:          "gpt-4",
		TTSModel:           "tts-1-hd",
		TTSVoice:           "alloy",
		TTSSpeed:           1.0,
		SystemPrompt:       "You are a helpful assistant.",
		NormalizerMode:     "auto",
		FFmpegPath:         "ffmpeg",
		PipelineTimeout:    2 * time.Minute,
		RedactTurns:        true,
		SessionRetention:   10 * time.Minute,
	}
}

// Load builds the config from defaults, then the YAML file named by
// APP_CONFIG_FILE (if any), then environment variables.
func Load() (Config, error) {
	cfg := defaults()
	if path := stringsTrimSpace("APP_CONFIG_FILE"); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.RecordingsDir = envOrDefault("RELAY_RECORDINGS_DIR", cfg.RecordingsDir)
	cfg.GenerationProvider = envOrDefault("GENERATION_PROVIDER", cfg.GenerationProvider)
	cfg.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.STTModel = envOrDefault("OPENAI_STT_MODEL", cfg.STTModel)
	cfg.ChatModel = envOrDefault("OPENAI_CHAT_MODEL", cfg.ChatModel)
	cfg.TTSModel = envOrDefault("OPENAI_TTS_MODEL", cfg.TTSModel)
	cfg.TTSVoice = envOrDefault("OPENAI_TTS_VOICE", cfg.TTSVoice)
	cfg.SystemPrompt = envOrDefault("RELAY_SYSTEM_PROMPT", cfg.SystemPrompt)
	cfg.NormalizerMode = envOrDefault("RELAY_NORMALIZER", cfg.NormalizerMode)
	cfg.FFmpegPath = envOrDefault("FFMPEG_PATH", cfg.FFmpegPath)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.OpenAIAPIKey = trimSpace(cfg.OpenAIAPIKey)
	cfg.DatabaseURL = trimSpace(cfg.DatabaseURL)

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"RELAY_IDLE_TIMEOUT", &cfg.IdleTimeout},
		{"RELAY_WRITE_TIMEOUT", &cfg.WriteTimeout},
		{"RELAY_PING_INTERVAL", &cfg.PingInterval},
		{"RELAY_PIPELINE_TIMEOUT", &cfg.PipelineTimeout},
		{"APP_SESSION_RETENTION", &cfg.SessionRetention},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	if cfg.FrameSize, err = intFromEnv("RELAY_FRAME_SIZE", cfg.FrameSize); err != nil {
		return Config{}, err
	}
	if cfg.PipelineRetries, err = intFromEnv("RELAY_PIPELINE_RETRIES", cfg.PipelineRetries); err != nil {
		return Config{}, err
	}
	readLimit, err := intFromEnv("RELAY_READ_LIMIT", int(cfg.ReadLimit))
	if err != nil {
		return Config{}, err
	}
	cfg.ReadLimit = int64(readLimit)
	if cfg.TTSSpeed, err = floatFromEnv("OPENAI_TTS_SPEED", cfg.TTSSpeed); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.SpeakableReplies, err = boolFromEnv("RELAY_SPEAKABLE_REPLIES", cfg.SpeakableReplies); err != nil {
		return Config{}, err
	}
	if cfg.RedactTurns, err = boolFromEnv("APP_REDACT_TURNS", cfg.RedactTurns); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("RELAY_IDLE_TIMEOUT must be positive")
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("RELAY_FRAME_SIZE must be positive")
	}
	if c.ReadLimit <= 0 {
		return fmt.Errorf("RELAY_READ_LIMIT must be positive")
	}
	if c.PipelineRetries < 0 {
		return fmt.Errorf("RELAY_PIPELINE_RETRIES must be >= 0")
	}
	if c.TTSSpeed < 0.25 || c.TTSSpeed > 4.0 {
		return fmt.Errorf("OPENAI_TTS_SPEED must be between 0.25 and 4.0")
	}
	if strings.TrimSpace(c.RecordingsDir) == "" {
		return fmt.Errorf("RELAY_RECORDINGS_DIR must not be empty")
	}
	return nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	return strings.TrimSpace(v)
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
