package tts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"theravox/internal/domain"
)

// WriteWAV stores mono 16-bit samples as <dir>/<uuid>.wav.
func WriteWAV(dir string, samples []int16, sampleRate int) (domain.AudioRef, error) {
	if len(samples) == 0 {
		return "", domain.ErrSynthesisEmptyOutput
	}

	path := filepath.Join(dir, uuid.NewString()+".wav")
	f, err := os.Create(path)
	if err != nil {
		return "", domain.NewError(domain.KindSynthesisFailed, err)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	err = enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	})
	if err == nil {
		err = enc.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", domain.NewError(domain.KindSynthesisFailed, fmt.Errorf("encode wav: %w", err))
	}
	return domain.AudioRef(path), nil
}
