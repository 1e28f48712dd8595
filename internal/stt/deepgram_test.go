package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"theravox/internal/domain"
	"theravox/internal/ports"
)

func newDeepgramServer(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()

	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/listen" || r.URL.Query().Get("encoding") != "linear16" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func result(text string, isFinal, speechFinal bool) []byte {
	var res deepgramResponse
	res.Type = "Results"
	res.IsFinal = isFinal
	res.SpeechFinal = speechFinal
	res.Channel.Alternatives = []deepgramAlternative{{Transcript: text}}
	b, _ := json.Marshal(res)
	return b
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func startDeepgram(t *testing.T, srv *httptest.Server, s *fakeStream) ports.RecognitionTask {
	t.Helper()

	d := NewDeepgram(&fakeMic{stream: s}, DeepgramConfig{APIKey: "secret", APIBaseURL: srv.URL})
	task, err := d.Start(context.Background())
	require.NoError(t, err)
	return task
}

// untilFinal reads revisions until a final one arrives.
func untilFinal(t *testing.T, task ports.RecognitionTask) []domain.Revision {
	t.Helper()

	var revs []domain.Revision
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-task.Events():
			require.True(t, ok, "task ended before a final revision")
			if ev.HasLevel {
				continue
			}
			revs = append(revs, ev.Revision)
			if ev.Revision.IsFinal {
				return revs
			}
		case <-timeout:
			require.FailNow(t, "no final revision")
		}
	}
}

func TestDeepgramAccumulatesFinals(t *testing.T) {
	t.Parallel()

	audio := make(chan int, 1)
	srv := newDeepgramServer(t, func(conn *websocket.Conn) {
		mt, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.BinaryMessage {
			audio <- len(payload)
		}
		_ = conn.WriteMessage(websocket.TextMessage, result("I feel", false, false))
		_ = conn.WriteMessage(websocket.TextMessage, result("I feel tired", true, false))
		_ = conn.WriteMessage(websocket.TextMessage, result("today", true, true))
		drain(conn)
	})

	s := newFakeStream()
	s.push(3, 0.2)
	task := startDeepgram(t, srv, s)

	revs := untilFinal(t, task)
	assert.Equal(t, []domain.Revision{
		{Text: "I feel"},
		{Text: "I feel tired"},
		{Text: "I feel tired today", IsFinal: true},
	}, revs)
	assert.Equal(t, 640, <-audio)

	task.Cancel()
	for range task.Events() {
	}
	assert.NoError(t, task.Err())
}

func TestDeepgramFinishFlushesTranscript(t *testing.T) {
	t.Parallel()

	srv := newDeepgramServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, result("hello there", false, false))
		for {
			mt, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.Contains(string(payload), "CloseStream") {
				break
			}
		}
		_ = conn.WriteMessage(websocket.TextMessage, result("hello there", true, false))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		drain(conn)
	})

	s := newFakeStream()
	s.push(1, 0.2)
	task := startDeepgram(t, srv, s)

	ev := <-task.Events()
	for ev.HasLevel {
		ev = <-task.Events()
	}
	assert.Equal(t, domain.Revision{Text: "hello there"}, ev.Revision)
	task.Finish()

	revs, _ := collect(t, task)
	require.NotEmpty(t, revs)
	assert.Equal(t, domain.Revision{Text: "hello there", IsFinal: true}, revs[len(revs)-1])
	assert.NoError(t, task.Err())
}

func TestDeepgramErrorEventIsTransient(t *testing.T) {
	t.Parallel()

	srv := newDeepgramServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","message":"bad audio"}`))
		drain(conn)
	})

	s := newFakeStream()
	s.push(1, 0.2)
	task := startDeepgram(t, srv, s)

	revs, _ := collect(t, task)
	assert.Empty(t, revs)
	require.Error(t, task.Err())
	assert.True(t, domain.IsTransient(task.Err()))
	assert.Contains(t, task.Err().Error(), "bad audio")
}

func TestDeepgramRejectedCredentials(t *testing.T) {
	t.Parallel()

	srv := newDeepgramServer(t, func(*websocket.Conn) {})
	d := NewDeepgram(&fakeMic{stream: newFakeStream()}, DeepgramConfig{APIKey: "wrong", APIBaseURL: srv.URL})

	_, err := d.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRecognitionUnavailable)
}

func TestDeepgramUnreachableIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := NewDeepgram(&fakeMic{stream: newFakeStream()}, DeepgramConfig{APIKey: "secret", APIBaseURL: url})
	_, err := d.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRecognitionTransient)
}

func TestDeepgramRequiresAPIKey(t *testing.T) {
	t.Parallel()

	d := NewDeepgram(&fakeMic{}, DeepgramConfig{})
	_, err := d.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrRecognitionUnavailable)
}

func TestBuildListenURL(t *testing.T) {
	t.Parallel()

	u, err := buildListenURL(DeepgramConfig{
		APIBaseURL:  "https://api.deepgram.com/v1/",
		Model:       "nova-2",
		Language:    "en-US",
		SmartFormat: true,
		Endpointing: 800 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "wss://api.deepgram.com/v1/listen?"))
	for _, want := range []string{"encoding=linear16", "sample_rate=16000", "channels=1", "interim_results=true", "smart_format=true", "endpointing=800", "language=en-US", "model=nova-2"} {
		assert.Contains(t, u, want)
	}

	_, err = buildListenURL(DeepgramConfig{APIBaseURL: ":// bad"})
	assert.Error(t, err)
}
