package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"theravox/internal/audio/pcm"
	"theravox/internal/domain"
	"theravox/internal/ports"
)

type fakeStream struct {
	frames chan []float32
	once   sync.Once
	closed chan struct{}
	err    error
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan []float32, 256), closed: make(chan struct{})}
}

func (s *fakeStream) Frames() <-chan []float32 { return s.frames }
func (s *fakeStream) Err() error               { return s.err }
func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// push queues n frames of constant amplitude.
func (s *fakeStream) push(n int, amp float32) {
	for i := 0; i < n; i++ {
		f := make([]float32, 320)
		for j := range f {
			f[j] = amp
		}
		s.frames <- f
	}
}

type fakeMic struct {
	stream *fakeStream
	err    error
}

func (m *fakeMic) Open(context.Context) (pcm.Stream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type fakeEngine struct {
	mu       sync.Mutex
	segments []string
	err      error
	got      int
}

func (e *fakeEngine) Transcribe(_ context.Context, samples []float32, onSegment func(string)) (string, error) {
	e.mu.Lock()
	e.got = len(samples)
	e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	for _, s := range e.segments {
		onSegment(s)
	}
	var text string
	for i, s := range e.segments {
		if i > 0 {
			text += " "
		}
		text += s
	}
	return text, nil
}

func (e *fakeEngine) samples() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.got
}

// collect drains a task, returning its revisions and level count.
func collect(t *testing.T, task ports.RecognitionTask) ([]domain.Revision, int) {
	t.Helper()

	var (
		revs   []domain.Revision
		levels int
	)
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-task.Events():
			if !ok {
				return revs, levels
			}
			if ev.HasLevel {
				levels++
			} else {
				revs = append(revs, ev.Revision)
			}
		case <-timeout:
			require.FailNow(t, "task did not end")
		}
	}
}

var errBoom = errors.New("boom")
