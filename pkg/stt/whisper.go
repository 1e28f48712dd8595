// Package stt wraps the whisper.cpp bindings for on-device transcription.
package stt

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	log "log/slog"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

type Options struct {
	Language      string // "auto", "en", ...
	TranslateToEn bool
	Threads       int // <=0 => NumCPU()
	InitialPrompt string
	BeamSize      int // 0 = greedy
	MaxTokens     uint
	SplitOnWord   bool
	Temperature   float32
}

type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

type Result struct {
	Text     string
	Segments []Segment
	Language string
}

// Transcriber owns a loaded model. Process calls are serialized because a
// model is not safe for concurrent inference.
type Transcriber struct {
	Opts Options

	mu    sync.Mutex
	model whisper.Model
}

func NewTranscriber(modelPath string, opts Options) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &Transcriber{Opts: opts, model: m}, nil
}

func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model == nil {
		return nil
	}
	err := t.model.Close()
	t.model = nil
	return err
}

// Transcribe returns the full text of pcm16k and reports every segment text
// as whisper produces it.
func (t *Transcriber) Transcribe(ctx context.Context, pcm16k []float32, onSegment func(text string)) (string, error) {
	res, err := t.Process(ctx, pcm16k, func(s Segment) {
		if onSegment != nil {
			onSegment(s.Text)
		}
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Process runs inference over mono 16 kHz float32 samples in [-1, 1].
func (t *Transcriber) Process(ctx context.Context, pcm16k []float32, onSegment func(Segment)) (Result, error) {
	if len(pcm16k) == 0 {
		return Result{}, errors.New("no audio samples provided")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model == nil {
		return Result{}, errors.New("nil model")
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("new context: %w", err)
	}
	if err := t.configure(wctx); err != nil {
		return Result{}, err
	}

	var (
		segs  []Segment
		texts []string
	)
	begin := time.Now()
	err = wctx.Process(pcm16k, nil, func(s whisper.Segment) {
		seg := Segment{Text: strings.TrimSpace(s.Text), Start: s.Start, End: s.End}
		if seg.Text == "" {
			return
		}
		segs = append(segs, seg)
		texts = append(texts, seg.Text)
		if onSegment != nil {
			onSegment(seg)
		}
	}, nil)
	if err != nil {
		return Result{}, fmt.Errorf("process: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}
	log.Debug("Whisper processed", "samples", len(pcm16k), "segments", len(segs), "lang", lang, "took", time.Since(begin))

	return Result{
		Text:     strings.Join(texts, " "),
		Segments: segs,
		Language: lang,
	}, nil
}

func (t *Transcriber) configure(wctx whisper.Context) error {
	opt := t.Opts
	if opt.Language == "" {
		opt.Language = "auto"
	}
	if err := wctx.SetLanguage(opt.Language); err != nil {
		return fmt.Errorf("set language: %w", err)
	}
	wctx.SetTranslate(opt.TranslateToEn)

	threads := opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if opt.SplitOnWord {
		wctx.SetSplitOnWord(true)
	}
	if opt.MaxTokens > 0 {
		wctx.SetMaxTokensPerSegment(opt.MaxTokens)
	}
	if opt.BeamSize > 0 {
		wctx.SetBeamSize(opt.BeamSize)
	}
	if opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(opt.InitialPrompt)
	}
	if opt.Temperature != 0 {
		wctx.SetTemperature(opt.Temperature)
	}
	return nil
}
