package audioconv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"theravox/internal/audio/pcm"
)

const replayFrameSize = 320

// FileMicrophone replays an audio file as if it were captured live. Each
// Open decodes the file again, so every attempt hears it from the start.
type FileMicrophone struct {
	Path string
	// Realtime paces frames at the capture rate; otherwise they are sent as
	// fast as they are consumed.
	Realtime bool
	// Tail appends this much silence so endpointing can fire.
	Tail time.Duration
}

func (m *FileMicrophone) Open(ctx context.Context) (pcm.Stream, error) {
	samples, err := DecodeFile(m.Path, Options{})
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.Path, err)
	}
	if m.Tail > 0 {
		samples = append(samples, make([]float32, int(m.Tail*pcm.SampleRate/time.Second))...)
	}

	s := &fileStream{frames: make(chan []float32), stop: make(chan struct{})}
	go s.run(ctx, Chunk(samples, replayFrameSize), m.Realtime)
	return s, nil
}

type fileStream struct {
	frames chan []float32
	stop   chan struct{}
	once   sync.Once
}

func (s *fileStream) run(ctx context.Context, frames [][]float32, realtime bool) {
	defer close(s.frames)

	var tick <-chan time.Time
	if realtime {
		t := time.NewTicker(time.Duration(replayFrameSize) * time.Second / pcm.SampleRate)
		defer t.Stop()
		tick = t.C
	}

	for _, f := range frames {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
		select {
		case s.frames <- f:
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		}
	}
}

func (s *fileStream) Frames() <-chan []float32 { return s.frames }

func (s *fileStream) Err() error { return nil }

func (s *fileStream) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
