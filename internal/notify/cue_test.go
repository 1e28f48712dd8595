package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"theravox/internal/domain"
)

type fakePlayer struct {
	mu     sync.Mutex
	played []domain.AudioRef
	block  chan struct{}
}

func (p *fakePlayer) Play(ctx context.Context, ref domain.AudioRef) error {
	p.mu.Lock()
	p.played = append(p.played, ref)
	block := p.block
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

func TestCuePlaysOnListeningStart(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{}
	c := NewCue(p, "cue.mp3")

	c.PhaseChanged(domain.PhaseListening, domain.ReasonListeningStarted)
	assert.Eventually(t, func() bool { return p.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.AudioRef("cue.mp3"), p.played[0])
}

func TestCueIgnoresOtherTransitions(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{}
	c := NewCue(p, "cue.mp3")

	c.PhaseChanged(domain.PhaseIdle, domain.ReasonReady)
	c.PhaseChanged(domain.PhaseFinalizing, domain.ReasonStopRequested)
	c.PhaseChanged(domain.PhaseAwaitingReply, domain.ReasonRequestIssued)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, p.count())
}

func TestCueDoesNotOverlap(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{block: make(chan struct{})}
	c := NewCue(p, "cue.mp3")

	c.PhaseChanged(domain.PhaseListening, domain.ReasonListeningStarted)
	assert.Eventually(t, func() bool { return p.count() == 1 }, time.Second, 5*time.Millisecond)
	c.PhaseChanged(domain.PhaseListening, domain.ReasonListeningRestarted)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, p.count())
	close(p.block)
}

func TestCueWithoutFile(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{}
	c := NewCue(p, "")
	c.PhaseChanged(domain.PhaseListening, domain.ReasonListeningStarted)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, p.count())
}
