package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "log/slog"

	"github.com/gorilla/websocket"

	"theravox/internal/audio/pcm"
	"theravox/internal/domain"
	"theravox/internal/ports"
)

const closeStreamMsg = `{"type":"CloseStream"}`

type DeepgramConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// Endpointing is the pause Deepgram waits for before marking speech_final.
	Endpointing time.Duration
}

// Deepgram streams microphone audio to the Deepgram listen websocket.
type Deepgram struct {
	mic    Microphone
	cfg    DeepgramConfig
	Dialer *websocket.Dialer
}

func NewDeepgram(mic Microphone, cfg DeepgramConfig) *Deepgram {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Endpointing <= 0 {
		cfg.Endpointing = 800 * time.Millisecond
	}
	return &Deepgram{mic: mic, cfg: cfg, Dialer: websocket.DefaultDialer}
}

func (d *Deepgram) Start(ctx context.Context) (ports.RecognitionTask, error) {
	if strings.TrimSpace(d.cfg.APIKey) == "" {
		return nil, domain.NewError(domain.KindRecognitionUnavailable, errors.New("DEEPGRAM_API_KEY is not configured"))
	}
	wsURL, err := buildListenURL(d.cfg)
	if err != nil {
		return nil, domain.NewError(domain.KindRecognitionUnavailable, err)
	}

	t := newTask(ctx)

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)
	conn, resp, err := d.Dialer.DialContext(t.ctx, wsURL, headers)
	if err != nil {
		t.cancel()
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, domain.NewError(domain.KindRecognitionUnavailable, fmt.Errorf("deepgram rejected credentials: %s", resp.Status))
		}
		return nil, domain.NewError(domain.KindRecognitionTransient, fmt.Errorf("connect to deepgram: %w", err))
	}

	stream, err := d.mic.Open(t.ctx)
	if err != nil {
		conn.Close()
		t.cancel()
		return nil, domain.NewError(domain.KindRecognitionUnavailable, err)
	}

	go d.run(t, conn, stream)
	return t, nil
}

// utterance accumulates finalized chunks plus the latest interim result.
type utterance struct {
	finals  []string
	interim string
	closed  bool
}

func (u *utterance) text() string {
	parts := append([]string(nil), u.finals...)
	if u.interim != "" {
		parts = append(parts, u.interim)
	}
	return strings.Join(parts, " ")
}

func (d *Deepgram) run(t *task, conn *websocket.Conn, stream pcm.Stream) {
	var (
		u       utterance
		readErr error
	)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		readErr = readResults(t, conn, &u)
	}()

	writeErr := writeAudio(t, conn, stream, readDone)
	stream.Close()

	select {
	case <-readDone:
	case <-t.ctx.Done():
		conn.Close()
		<-readDone
	}
	conn.Close()

	if t.cancelled() {
		t.end(nil)
		return
	}
	err := errors.Join(writeErr, readErr)
	if err == nil && !u.closed {
		t.revise(u.text(), true)
	}
	t.end(err)
}

func writeAudio(t *task, conn *websocket.Conn, stream pcm.Stream, readDone <-chan struct{}) error {
	frames := stream.Frames()
	for {
		select {
		case <-t.ctx.Done():
			return nil
		case <-readDone:
			return nil
		case <-t.finish:
			return closeStream(conn)
		case f, ok := <-frames:
			if !ok {
				if err := stream.Err(); err != nil {
					return domain.NewError(domain.KindRecognitionTransient, err)
				}
				return closeStream(conn)
			}
			if !t.level(pcm.LevelDB(pcm.FrameRMS(f))) {
				return nil
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm.Int16LE(f)); err != nil {
				return domain.NewError(domain.KindRecognitionTransient, fmt.Errorf("send audio: %w", err))
			}
		}
	}
}

func closeStream(conn *websocket.Conn) error {
	if err := conn.WriteMessage(websocket.TextMessage, []byte(closeStreamMsg)); err != nil {
		return domain.NewError(domain.KindRecognitionTransient, fmt.Errorf("close stream: %w", err))
	}
	return nil
}

func readResults(t *task, conn *websocket.Conn, u *utterance) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if t.cancelled() || websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return nil
			}
			return domain.NewError(domain.KindRecognitionTransient, fmt.Errorf("read deepgram event: %w", err))
		}

		var res deepgramResponse
		if err := json.Unmarshal(payload, &res); err != nil {
			log.Debug("Skipping undecodable deepgram event", "err", err)
			continue
		}

		if strings.EqualFold(res.Type, "Error") {
			msg := strings.TrimSpace(res.Message)
			if msg == "" {
				msg = "deepgram returned an unknown error"
			}
			return domain.NewError(domain.KindRecognitionTransient, errors.New(msg))
		}

		text := extractTranscript(res)
		if res.IsFinal || res.SpeechFinal {
			if text != "" {
				u.finals = append(u.finals, text)
			}
			u.interim = ""
		} else {
			u.interim = text
		}

		if u.closed || u.text() == "" {
			continue
		}
		if res.SpeechFinal {
			u.closed = true
		}
		if !t.revise(u.text(), res.SpeechFinal) {
			return nil
		}
	}
}

type deepgramAlternative struct {
	Transcript string `json:"transcript"`
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []deepgramAlternative `json:"alternatives"`
	} `json:"channel"`
}

func extractTranscript(res deepgramResponse) string {
	if len(res.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(res.Channel.Alternatives[0].Transcript)
}

func buildListenURL(cfg DeepgramConfig) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	u, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	q := u.Query()
	q.Set("model", cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(pcm.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	q.Set("endpointing", strconv.Itoa(int(cfg.Endpointing/time.Millisecond)))
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
