// Package config resolves daemon settings from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"theravox/internal/domain"
)

type Config struct {
	Session       SessionConfig
	Chat          ChatConfig
	Transcription TranscriptionConfig
	Synthesis     SynthesisConfig
	Health        HealthConfig

	ProxyAddr   string
	SocketPath  string
	BusURL      string
	ArchivePath string
	CueFile     string
}

type SessionConfig struct {
	Provider               domain.ProviderID
	TTSEnabled             bool
	SilenceThresholdDB     float64
	SilenceTimeout         time.Duration
	FinalizeGrace          time.Duration
	ReplyTimeout           time.Duration
	SynthesisTimeout       time.Duration
	MaxRecognitionAttempts int
	RetryBackoff           time.Duration
}

type ChatConfig struct {
	CatalogPath string
	Timeout     time.Duration
}

type TranscriptionConfig struct {
	Backend string // whisper | deepgram

	WhisperModel    string
	WhisperLanguage string
	EndSilence      time.Duration
	MaxUtterance    time.Duration

	DeepgramAPIKey  string
	DeepgramBaseURL string
	DeepgramModel   string
	DeepgramLang    string

	// InputFile replaces the microphone with a recorded utterance.
	InputFile string
}

type SynthesisConfig struct {
	Backend string // elevenlabs | espeak

	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	ElevenLabsBaseURL string
	EspeakLanguage    string
	OutDir            string
	Duck              bool
}

type HealthConfig struct {
	// Source is "simulated", "none" or a path to a JSON samples file.
	Source          string
	InsightsURL     string
	RefreshInterval time.Duration
}

// Load resolves configuration from environment variables and defaults.
func Load() (Config, error) {
	cfg := Config{
		Session: SessionConfig{
			Provider:               domain.ProviderID(envOrDefault("THERAVOX_PROVIDER", "groq")),
			TTSEnabled:             envOrDefaultBool("THERAVOX_TTS", true),
			SilenceThresholdDB:     envOrDefaultFloat("THERAVOX_SILENCE_THRESHOLD_DB", -50),
			SilenceTimeout:         envOrDefaultDuration("THERAVOX_SILENCE_TIMEOUT", 2*time.Second),
			FinalizeGrace:          envOrDefaultDuration("THERAVOX_FINALIZE_GRACE", 10*time.Second),
			ReplyTimeout:           envOrDefaultDuration("THERAVOX_REPLY_TIMEOUT", 10*time.Second),
			SynthesisTimeout:       envOrDefaultDuration("THERAVOX_SYNTHESIS_TIMEOUT", 30*time.Second),
			MaxRecognitionAttempts: envOrDefaultInt("THERAVOX_RECOGNITION_ATTEMPTS", 3),
			RetryBackoff:           envOrDefaultDuration("THERAVOX_RETRY_BACKOFF", 500*time.Millisecond),
		},
		Chat: ChatConfig{
			CatalogPath: strings.TrimSpace(os.Getenv("THERAVOX_PROVIDERS_FILE")),
			Timeout:     envOrDefaultDuration("THERAVOX_CHAT_TIMEOUT", 30*time.Second),
		},
		Transcription: TranscriptionConfig{
			Backend:         strings.ToLower(envOrDefault("THERAVOX_STT", "whisper")),
			WhisperModel:    envOrDefault("WHISPER_MODEL", "models/ggml-base.en.bin"),
			WhisperLanguage: envOrDefault("WHISPER_LANGUAGE", "en"),
			EndSilence:      envOrDefaultDuration("THERAVOX_END_SILENCE", 1500*time.Millisecond),
			MaxUtterance:    envOrDefaultDuration("THERAVOX_MAX_UTTERANCE", 30*time.Second),
			DeepgramAPIKey:  strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			DeepgramBaseURL: envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			DeepgramModel:   envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			DeepgramLang:    strings.TrimSpace(os.Getenv("DEEPGRAM_LANGUAGE")),
			InputFile:       strings.TrimSpace(os.Getenv("THERAVOX_INPUT_FILE")),
		},
		Synthesis: SynthesisConfig{
			Backend:           strings.ToLower(envOrDefault("THERAVOX_TTS_BACKEND", "elevenlabs")),
			ElevenLabsAPIKey:  strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
			ElevenLabsVoiceID: strings.TrimSpace(os.Getenv("ELEVENLABS_VOICE_ID")),
			ElevenLabsBaseURL: strings.TrimSpace(os.Getenv("ELEVENLABS_API_BASE")),
			EspeakLanguage:    envOrDefault("ESPEAK_LANGUAGE", "en"),
			OutDir:            envOrDefault("THERAVOX_AUDIO_DIR", os.TempDir()),
			Duck:              envOrDefaultBool("THERAVOX_DUCK", true),
		},
		Health: HealthConfig{
			Source:          envOrDefault("THERAVOX_HEALTH_SOURCE", "simulated"),
			InsightsURL:     strings.TrimSpace(os.Getenv("THERAVOX_INSIGHTS_URL")),
			RefreshInterval: envOrDefaultDuration("THERAVOX_HEALTH_REFRESH", 15*time.Minute),
		},
		ProxyAddr:   strings.TrimSpace(os.Getenv("THERAVOX_SOCKS_PROXY")),
		SocketPath:  envOrDefault("THERAVOX_SOCKET", "/tmp/theravox.sock"),
		BusURL:      strings.TrimSpace(os.Getenv("BUS_URL")),
		ArchivePath: strings.TrimSpace(os.Getenv("THERAVOX_ARCHIVE")),
		CueFile:     strings.TrimSpace(os.Getenv("THERAVOX_CUE_FILE")),
	}

	if cfg.Session.MaxRecognitionAttempts <= 0 {
		cfg.Session.MaxRecognitionAttempts = 3
	}
	if cfg.Session.SilenceThresholdDB > 0 {
		return Config{}, fmt.Errorf("THERAVOX_SILENCE_THRESHOLD_DB must be a dBFS level <= 0, got %v", cfg.Session.SilenceThresholdDB)
	}

	switch cfg.Transcription.Backend {
	case "whisper", "deepgram":
	default:
		return Config{}, fmt.Errorf("unknown transcription backend %q", cfg.Transcription.Backend)
	}
	switch cfg.Synthesis.Backend {
	case "elevenlabs", "espeak", "none":
	default:
		return Config{}, fmt.Errorf("unknown synthesis backend %q", cfg.Synthesis.Backend)
	}

	if cfg.ArchivePath != "" && !filepath.IsAbs(cfg.ArchivePath) && cfg.ArchivePath != ":memory:" {
		if abs, err := filepath.Abs(cfg.ArchivePath); err == nil {
			cfg.ArchivePath = abs
		}
	}

	return cfg, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultDuration accepts Go durations ("1.5s") or bare milliseconds.
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
