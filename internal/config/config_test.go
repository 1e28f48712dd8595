package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"theravox/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"THERAVOX_PROVIDER", "THERAVOX_TTS", "THERAVOX_SILENCE_THRESHOLD_DB", "THERAVOX_SILENCE_TIMEOUT",
		"THERAVOX_REPLY_TIMEOUT", "THERAVOX_STT", "THERAVOX_TTS_BACKEND", "THERAVOX_SOCKET",
		"THERAVOX_RECOGNITION_ATTEMPTS", "THERAVOX_RETRY_BACKOFF", "THERAVOX_HEALTH_SOURCE",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderID("groq"), cfg.Session.Provider)
	assert.True(t, cfg.Session.TTSEnabled)
	assert.Equal(t, -50.0, cfg.Session.SilenceThresholdDB)
	assert.Equal(t, 2*time.Second, cfg.Session.SilenceTimeout)
	assert.Equal(t, 10*time.Second, cfg.Session.ReplyTimeout)
	assert.Equal(t, 30*time.Second, cfg.Session.SynthesisTimeout)
	assert.Equal(t, 3, cfg.Session.MaxRecognitionAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.RetryBackoff)
	assert.Equal(t, "whisper", cfg.Transcription.Backend)
	assert.Equal(t, "elevenlabs", cfg.Synthesis.Backend)
	assert.Equal(t, "simulated", cfg.Health.Source)
	assert.Equal(t, "/tmp/theravox.sock", cfg.SocketPath)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("THERAVOX_PROVIDER", "huggingface")
	t.Setenv("THERAVOX_TTS", "off")
	t.Setenv("THERAVOX_SILENCE_THRESHOLD_DB", "-42.5")
	t.Setenv("THERAVOX_SILENCE_TIMEOUT", "3s")
	t.Setenv("THERAVOX_REPLY_TIMEOUT", "2500")
	t.Setenv("THERAVOX_SYNTHESIS_TIMEOUT", "45s")
	t.Setenv("THERAVOX_STT", "Deepgram")
	t.Setenv("THERAVOX_TTS_BACKEND", "espeak")
	t.Setenv("THERAVOX_RECOGNITION_ATTEMPTS", "0")
	t.Setenv("DEEPGRAM_API_KEY", " key ")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderID("huggingface"), cfg.Session.Provider)
	assert.False(t, cfg.Session.TTSEnabled)
	assert.Equal(t, -42.5, cfg.Session.SilenceThresholdDB)
	assert.Equal(t, 3*time.Second, cfg.Session.SilenceTimeout)
	assert.Equal(t, 2500*time.Millisecond, cfg.Session.ReplyTimeout)
	assert.Equal(t, 45*time.Second, cfg.Session.SynthesisTimeout)
	assert.Equal(t, 3, cfg.Session.MaxRecognitionAttempts)
	assert.Equal(t, "deepgram", cfg.Transcription.Backend)
	assert.Equal(t, "key", cfg.Transcription.DeepgramAPIKey)
	assert.Equal(t, "espeak", cfg.Synthesis.Backend)
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	t.Setenv("THERAVOX_STT", "carrier-pigeon")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("THERAVOX_STT", "")
	t.Setenv("THERAVOX_TTS_BACKEND", "robot")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRejectsPositiveThreshold(t *testing.T) {
	t.Setenv("THERAVOX_SILENCE_THRESHOLD_DB", "10")
	_, err := Load()
	assert.Error(t, err)
}

func TestEnvOrDefaultDuration(t *testing.T) {
	t.Setenv("X_DUR", "bogus")
	assert.Equal(t, time.Second, envOrDefaultDuration("X_DUR", time.Second))
	t.Setenv("X_DUR", "-5s")
	assert.Equal(t, time.Second, envOrDefaultDuration("X_DUR", time.Second))
	t.Setenv("X_DUR", "750ms")
	assert.Equal(t, 750*time.Millisecond, envOrDefaultDuration("X_DUR", time.Second))
}
