package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "log/slog"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"

	"theravox/internal/audio/duck"
	"theravox/internal/domain"
)

const playbackRate = beep.SampleRate(44100)

// Player plays audio files through the default output. Other applications
// are ducked while it speaks when a Ducker is set.
type Player struct {
	Ducker     *duck.Ducker
	DuckFactor float64
	Fade       time.Duration

	initOnce sync.Once
	initErr  error
	mu       sync.Mutex
}

func NewPlayer(ducker *duck.Ducker) *Player {
	return &Player{Ducker: ducker, DuckFactor: 0.3, Fade: 200 * time.Millisecond}
}

func (p *Player) init() error {
	p.initOnce.Do(func() {
		p.initErr = speaker.Init(playbackRate, playbackRate.N(time.Second/10))
	})
	return p.initErr
}

func decode(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		s, format, err = mp3.Decode(f)
	case ".wav":
		s, format, err = wav.Decode(f)
	case ".ogg", ".oga":
		s, format, err = vorbis.Decode(f)
	default:
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("unsupported audio file %s", path)
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, format, nil
}

// Play blocks until ref has played or ctx is done. Calls are serialized.
func (p *Player) Play(ctx context.Context, ref domain.AudioRef) error {
	if err := p.init(); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}

	streamer, format, err := decode(string(ref))
	if err != nil {
		return err
	}
	defer streamer.Close()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Ducker != nil {
		if err := p.Ducker.DuckOthers(ctx, p.DuckFactor, p.Fade); err != nil {
			log.Warn("Failed to duck other streams", "err", err)
		}
		defer func() {
			if err := p.Ducker.UnduckOthers(context.WithoutCancel(ctx), p.Fade); err != nil {
				log.Warn("Failed to restore other streams", "err", err)
			}
		}()
	}

	var s beep.Streamer = streamer
	if format.SampleRate != playbackRate {
		s = beep.Resample(4, format.SampleRate, playbackRate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		log.Debug("Playback finished", "ref", ref, "length", format.SampleRate.D(streamer.Len()))
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}
