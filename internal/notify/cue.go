package notify

import (
	"context"
	"sync"
	"time"

	log "log/slog"

	"theravox/internal/domain"
	"theravox/internal/ports"
)

// Cue plays a short sound when listening begins.
type Cue struct {
	ports.NopSink

	player  ports.Player
	file    domain.AudioRef
	timeout time.Duration

	mu      sync.Mutex
	playing bool
}

func NewCue(player ports.Player, file string) *Cue {
	return &Cue{player: player, file: domain.AudioRef(file), timeout: 3 * time.Second}
}

func (c *Cue) PhaseChanged(phase domain.Phase, reason domain.PhaseReason) {
	if phase != domain.PhaseListening {
		return
	}
	if reason != domain.ReasonListeningStarted && reason != domain.ReasonListeningRestarted {
		return
	}
	log.Info("Listening...")

	if c.player == nil || c.file == "" {
		return
	}

	c.mu.Lock()
	if c.playing {
		c.mu.Unlock()
		return
	}
	c.playing = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.playing = false
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.player.Play(ctx, c.file); err != nil {
			log.Warn("Failed to play cue", "file", c.file, "err", err)
		}
	}()
}
