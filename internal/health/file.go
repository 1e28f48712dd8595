package health

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"theravox/internal/domain"
)

// FileSource reads a JSON array of samples exported from a device.
type FileSource struct {
	Path string
}

func (f FileSource) load() ([]domain.BiometricSample, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	var samples []domain.BiometricSample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("parse samples %s: %w", f.Path, err)
	}
	return samples, nil
}

func (f FileSource) byKind(kind domain.BiometricKind) ([]domain.BiometricSample, error) {
	samples, err := f.load()
	if err != nil {
		return nil, err
	}
	out := samples[:0]
	for _, s := range samples {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f FileSource) HeartRate(context.Context) ([]domain.BiometricSample, error) {
	return f.byKind(domain.BiometricHeartRate)
}

func (f FileSource) Sleep(context.Context) ([]domain.BiometricSample, error) {
	return f.byKind(domain.BiometricSleepStage)
}
