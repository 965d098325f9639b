package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8888" {
		t.Fatalf("BindAddr = %q, want :8888", cfg.BindAddr)
	}
	if cfg.IdleTimeout != 500*time.Millisecond {
		t.Fatalf("IdleTimeout = %v, want 500ms", cfg.IdleTimeout)
	}
	if cfg.FrameSize != 1024 {
		t.Fatalf("FrameSize = %d, want 1024", cfg.FrameSize)
	}
	if cfg.RecordingsDir != "recordings" {
		t.Fatalf("RecordingsDir = %q", cfg.RecordingsDir)
	}
	if cfg.PipelineRetries != 0 {
		t.Fatalf("PipelineRetries = %d, want 0", cfg.PipelineRetries)
	}
	if cfg.GenerationProvider != "auto" || cfg.TTSVoice != "alloy" || cfg.TTSModel != "tts-1-hd" {
		t.Fatalf("unexpected generation defaults: %+v", cfg)
	}
	if !cfg.RedactTurns {
		t.Fatalf("RedactTurns should default to true")
	}
	if cfg.SystemPrompt != "You are a helpful assistant." {
		t.Fatalf("SystemPrompt = %q", cfg.SystemPrompt)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("RELAY_IDLE_TIMEOUT", "750ms")
	t.Setenv("RELAY_FRAME_SIZE", "2048")
	t.Setenv("OPENAI_API_KEY", "  sk-test  ")
	t.Setenv("OPENAI_TTS_SPEED", "1.25")
	t.Setenv("RELAY_SPEAKABLE_REPLIES", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" || cfg.IdleTimeout != 750*time.Millisecond || cfg.FrameSize != 2048 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Fatalf("OpenAIAPIKey = %q, want trimmed", cfg.OpenAIAPIKey)
	}
	if cfg.TTSSpeed != 1.25 || !cfg.SpeakableReplies {
		t.Fatalf("TTSSpeed = %v SpeakableReplies = %v", cfg.TTSSpeed, cfg.SpeakableReplies)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "relay.yaml")
	body := strings.Join([]string{
		"bind_addr: \":7000\"",
		"idle_timeout: 300ms",
		"recordings_dir: /tmp/relay",
		"pipeline_retries: 2",
		"chat_model: gpt-4o",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("OPENAI_CHAT_MODEL", "gpt-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":7000" || cfg.IdleTimeout != 300*time.Millisecond {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.RecordingsDir != "/tmp/relay" || cfg.PipelineRetries != 2 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.ChatModel != "gpt-env" {
		t.Fatalf("ChatModel = %q, env should win over file", cfg.ChatModel)
	}
	if cfg.FrameSize != 1024 {
		t.Fatalf("FrameSize = %d, unset file keys keep defaults", cfg.FrameSize)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"RELAY_IDLE_TIMEOUT", "soon"},
		{"RELAY_IDLE_TIMEOUT", "0s"},
		{"RELAY_FRAME_SIZE", "0"},
		{"RELAY_PIPELINE_RETRIES", "-1"},
		{"OPENAI_TTS_SPEED", "9"},
		{"APP_ALLOW_ANY_ORIGIN", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() should fail for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should fail for a missing config file")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_CONFIG_FILE",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_SESSION_RETENTION",
		"APP_REDACT_TURNS",
		"RELAY_RECORDINGS_DIR",
		"RELAY_IDLE_TIMEOUT",
		"RELAY_WRITE_TIMEOUT",
		"RELAY_PING_INTERVAL",
		"RELAY_FRAME_SIZE",
		"RELAY_READ_LIMIT",
		"RELAY_SYSTEM_PROMPT",
		"RELAY_NORMALIZER",
		"RELAY_PIPELINE_TIMEOUT",
		"RELAY_PIPELINE_RETRIES",
		"RELAY_SPEAKABLE_REPLIES",
		"GENERATION_PROVIDER",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_STT_MODEL",
		"OPENAI_CHAT_MODEL",
		"OPENAI_TTS_MODEL",
		"OPENAI_TTS_VOICE",
		"OPENAI_TTS_SPEED",
		"FFMPEG_PATH",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
