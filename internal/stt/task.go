// Package stt provides transcription sources: on-device whisper over the
// microphone, Deepgram streaming, and audio files.
package stt

import (
	"context"
	"sync"
	"time"

	"theravox/internal/audio/pcm"
	"theravox/internal/domain"
)

// Microphone opens a live capture stream.
type Microphone interface {
	Open(ctx context.Context) (pcm.Stream, error)
}

// task is the RecognitionTask shared by every source. The producing
// goroutine owns events and calls end exactly once.
type task struct {
	ctx    context.Context
	cancel context.CancelFunc

	events chan domain.RecognitionEvent
	finish chan struct{}

	finishOnce sync.Once
	mu         sync.Mutex
	err        error
}

func newTask(parent context.Context) *task {
	ctx, cancel := context.WithCancel(parent)
	return &task{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan domain.RecognitionEvent, 64),
		finish: make(chan struct{}),
	}
}

func (t *task) Events() <-chan domain.RecognitionEvent { return t.events }

func (t *task) Finish() {
	t.finishOnce.Do(func() { close(t.finish) })
}

func (t *task) Cancel() { t.cancel() }

func (t *task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *task) cancelled() bool { return t.ctx.Err() != nil }

func (t *task) send(ev domain.RecognitionEvent) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.ctx.Done():
		return false
	}
}

func (t *task) level(db float64) bool {
	return t.send(domain.RecognitionEvent{Level: db, HasLevel: true})
}

func (t *task) revise(text string, final bool) bool {
	return t.send(domain.RecognitionEvent{Revision: domain.Revision{Text: text, IsFinal: final}})
}

func (t *task) end(err error) {
	t.mu.Lock()
	if t.cancelled() {
		err = nil
	}
	t.err = err
	t.mu.Unlock()
	close(t.events)
	t.cancel()
}

func frameDuration(samples int) time.Duration {
	return time.Duration(samples) * time.Second / pcm.SampleRate
}
