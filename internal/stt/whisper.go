package stt

import (
	"context"
	"strings"
	"time"

	log "log/slog"

	"theravox/internal/audio/pcm"
	"theravox/internal/domain"
	"theravox/internal/ports"
)

// Engine transcribes a complete utterance, reporting segments as they are
// decoded.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, onSegment func(text string)) (string, error)
}

type WhisperConfig struct {
	// SpeechThresholdDB separates speech from background noise.
	SpeechThresholdDB float64
	// EndSilence ends the utterance after this much quiet following speech.
	// Zero leaves endpointing to the caller.
	EndSilence  time.Duration
	MaxDuration time.Duration
}

// Whisper records from the microphone until the utterance ends, then runs
// the engine over the captured audio. Whisper produces no text while audio
// is still arriving, so it finds the end of speech itself.
type Whisper struct {
	mic    Microphone
	engine Engine
	cfg    WhisperConfig
}

func NewWhisper(mic Microphone, engine Engine, cfg WhisperConfig) *Whisper {
	if cfg.SpeechThresholdDB == 0 {
		cfg.SpeechThresholdDB = -50
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 30 * time.Second
	}
	return &Whisper{mic: mic, engine: engine, cfg: cfg}
}

func (w *Whisper) Start(ctx context.Context) (ports.RecognitionTask, error) {
	t := newTask(ctx)
	stream, err := w.mic.Open(t.ctx)
	if err != nil {
		t.cancel()
		return nil, domain.NewError(domain.KindRecognitionUnavailable, err)
	}
	go w.run(t, stream)
	return t, nil
}

func (w *Whisper) run(t *task, stream pcm.Stream) {
	samples, spoke, err := w.capture(t, stream)
	stream.Close()
	if err != nil {
		t.end(err)
		return
	}
	if t.cancelled() {
		t.end(nil)
		return
	}
	if !spoke {
		log.Debug("No speech captured")
		t.revise("", true)
		t.end(nil)
		return
	}

	var segs []string
	text, err := w.engine.Transcribe(t.ctx, samples, func(seg string) {
		if seg = strings.TrimSpace(seg); seg == "" {
			return
		}
		segs = append(segs, seg)
		t.revise(strings.Join(segs, " "), false)
	})
	if err != nil {
		t.end(domain.NewError(domain.KindRecognitionTransient, err))
		return
	}

	t.revise(strings.TrimSpace(text), true)
	t.end(nil)
}

// capture reads frames until Finish, cancellation, trailing silence or the
// duration cap.
func (w *Whisper) capture(t *task, stream pcm.Stream) ([]float32, bool, error) {
	var (
		samples []float32
		spoke   bool
		quiet   time.Duration
	)
	frames := stream.Frames()
	for {
		select {
		case <-t.ctx.Done():
			return nil, false, nil
		case <-t.finish:
			return samples, spoke, nil
		case f, ok := <-frames:
			if !ok {
				if err := stream.Err(); err != nil {
					return nil, false, domain.NewError(domain.KindRecognitionTransient, err)
				}
				return samples, spoke, nil
			}

			samples = append(samples, f...)
			db := pcm.LevelDB(pcm.FrameRMS(f))
			if !t.level(db) {
				return nil, false, nil
			}

			if db > w.cfg.SpeechThresholdDB {
				spoke = true
				quiet = 0
			} else if spoke {
				quiet += frameDuration(len(f))
			}

			if spoke && w.cfg.EndSilence > 0 && quiet >= w.cfg.EndSilence {
				log.Debug("End of speech detected", "quiet", quiet)
				return samples, spoke, nil
			}
			if frameDuration(len(samples)) >= w.cfg.MaxDuration {
				log.Debug("Utterance reached max duration", "max", w.cfg.MaxDuration)
				return samples, spoke, nil
			}
		}
	}
}
