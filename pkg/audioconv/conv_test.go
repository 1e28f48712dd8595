package audioconv

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestWAV(t *testing.T, path string, rate, channels int, data []int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func TestDecodeFileWAVDownmixesStereo(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeTestWAV(t, path, TargetRate, 2, []int{16384, 0, -16384, 0, 0, 0})

	got, err := DecodeFile(path, Options{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.InDelta(t, 0.25, got[0], 1e-4)
	assert.InDelta(t, -0.25, got[1], 1e-4)
	assert.InDelta(t, 0, got[2], 1e-4)
}

func TestDecodeFileResamplesAndTruncates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voice")
	writeTestWAV(t, path, 32000, 1, make([]int, 3200))

	got, err := DecodeFile(path, Options{})
	require.NoError(t, err)
	assert.Len(t, got, 1600)

	got, err = DecodeFile(path, Options{MaxSamples: 100})
	require.NoError(t, err)
	assert.Len(t, got, 100)
}

func TestDecodeFileRejectsUnknown(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	_, err := DecodeFile(path, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestChunk(t *testing.T) {
	t.Parallel()

	frames := Chunk(make([]float32, 700), 320)
	require.Len(t, frames, 3)
	assert.Len(t, frames[0], 320)
	assert.Len(t, frames[2], 60)
	assert.Empty(t, Chunk(nil, 320))
}

func TestResampleLinear(t *testing.T) {
	t.Parallel()

	in := []float32{0, 1, 0, -1}
	assert.Equal(t, in, resampleLinear(in, 16000, 16000))
	up := resampleLinear(in, 8000, 16000)
	require.Len(t, up, 8)
	assert.InDelta(t, 0.5, up[1], 1e-6)
}

func TestFileMicrophoneReplaysFramesWithTail(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "utterance.wav")
	writeTestWAV(t, path, TargetRate, 1, make([]int, 640))

	mic := &FileMicrophone{Path: path, Tail: 20 * time.Millisecond}
	s, err := mic.Open(context.Background())
	require.NoError(t, err)
	defer s.Close()

	var total int
	for f := range s.Frames() {
		total += len(f)
	}
	assert.Equal(t, 960, total)
	assert.NoError(t, s.Err())
}

func TestFileMicrophoneCloseStopsReplay(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "utterance.wav")
	writeTestWAV(t, path, TargetRate, 1, make([]int, 16000))

	mic := &FileMicrophone{Path: path, Realtime: true}
	s, err := mic.Open(context.Background())
	require.NoError(t, err)

	<-s.Frames()
	require.NoError(t, s.Close())
	for range s.Frames() {
	}
}

func TestFileMicrophoneMissingFile(t *testing.T) {
	t.Parallel()

	mic := &FileMicrophone{Path: filepath.Join(t.TempDir(), "missing.wav")}
	_, err := mic.Open(context.Background())
	require.Error(t, err)
}
