package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	log "log/slog"

	"github.com/google/uuid"

	"theravox/internal/domain"
)

const (
	DefaultElevenLabsURL = "https://api.elevenlabs.io"
	DefaultVoiceID       = "21m00Tcm4TlvDq8ikWAM"
	DefaultModelID       = "eleven_multilingual_v2"
)

type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

var DefaultVoiceSettings = VoiceSettings{
	Stability:       0.5,
	SimilarityBoost: 0.8,
	Style:           0.0,
	UseSpeakerBoost: true,
}

// ElevenLabs renders text to an mp3 file through the streaming endpoint.
type ElevenLabs struct {
	APIKey     string
	VoiceID    string
	ModelID    string
	BaseURL    string
	Settings   VoiceSettings
	OutDir     string
	HTTPClient *http.Client
}

func NewElevenLabs(apiKey, voiceID string) *ElevenLabs {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	return &ElevenLabs{
		APIKey:     apiKey,
		VoiceID:    voiceID,
		ModelID:    DefaultModelID,
		BaseURL:    DefaultElevenLabsURL,
		Settings:   DefaultVoiceSettings,
		OutDir:     os.TempDir(),
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (domain.AudioRef, error) {
	endpoint, err := url.JoinPath(e.BaseURL, "v1", "text-to-speech", e.VoiceID, "stream")
	if err != nil {
		return "", domain.NewError(domain.KindInvalidEndpoint, err)
	}

	body, err := json.Marshal(speechRequest{
		Text:          text,
		ModelID:       e.ModelID,
		VoiceSettings: e.Settings,
	})
	if err != nil {
		return "", domain.NewError(domain.KindSynthesisFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", domain.NewError(domain.KindInvalidEndpoint, err)
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return "", domain.TransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", domain.StatusError(resp.StatusCode, fmt.Errorf("elevenlabs: %s", bytes.TrimSpace(b)))
	}

	path := filepath.Join(e.OutDir, uuid.NewString()+".mp3")
	n, err := writeFile(path, resp.Body)
	if err != nil {
		if errors.Is(err, errWrite) {
			return "", domain.NewError(domain.KindSynthesisFailed, err)
		}
		return "", domain.TransportError(ctx, err)
	}
	if n == 0 {
		os.Remove(path)
		return "", domain.ErrSynthesisEmptyOutput
	}

	log.Debug("Synthesized speech", "path", path, "bytes", n)
	return domain.AudioRef(path), nil
}

var errWrite = errors.New("write audio file")

// writeFile streams r into path, removing the file on failure.
func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errWrite, err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: %v", errWrite, cerr)
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return n, nil
}
