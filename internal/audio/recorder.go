package audio

import (
	"context"
	"errors"
	"sync"

	log "log/slog"

	"github.com/gordonklaus/portaudio"

	"theravox/internal/audio/pcm"
)

const frameSize = 320 // 20ms at 16kHz

type Recorder struct{}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Open starts capturing from the default input device. Frames flow until
// ctx is cancelled or Close is called.
func (r *Recorder) Open(ctx context.Context) (pcm.Stream, error) {
	buf := make([]float32, frameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, pcm.SampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}

	s := &micStream{
		stream: stream,
		frames: make(chan []float32, 64),
		stop:   make(chan struct{}),
	}
	go s.run(ctx, buf)
	return s, nil
}

type micStream struct {
	stream *portaudio.Stream
	frames chan []float32
	stop   chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *micStream) run(ctx context.Context, buf []float32) {
	defer close(s.frames)
	defer s.stream.Close()
	defer s.stream.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				log.Debug("Input overflowed, frame dropped")
				continue
			}
			s.setErr(err)
			return
		}

		frame := append([]float32(nil), buf...)
		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		}
	}
}

func (s *micStream) Frames() <-chan []float32 { return s.frames }

func (s *micStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *micStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *micStream) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
