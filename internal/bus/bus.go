// Package bus connects the daemon to a websocket message bus. Session
// events are published as JSON messages; "command" messages addressed to
// the daemon are executed and answered with a "result".
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	log "log/slog"

	ws "github.com/gorilla/websocket"

	"theravox/internal/control"
	"theravox/internal/domain"
)

const (
	KindCommand    = "command"
	KindResult     = "result"
	KindPhase      = "phase"
	KindTranscript = "transcript"
	KindTurn       = "turn"
	KindError      = "error"

	Broadcast = "all"
)

type Message struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Kind    string          `json:"kind"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type Config struct {
	URL       string
	Name      string
	Reconnect time.Duration
	Dialer    *ws.Dialer
}

// Bus implements ports.Sink. Events are queued and dropped when the queue
// is full or no connection is up.
type Bus struct {
	cfg     Config
	handler control.Handler
	out     chan Message

	mu        sync.Mutex
	connected bool
}

func New(cfg Config, handler control.Handler) *Bus {
	if cfg.Name == "" {
		cfg.Name = "theravox"
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = 2 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = ws.DefaultDialer
	}
	return &Bus{cfg: cfg, handler: handler, out: make(chan Message, 128)}
}

// Run keeps a connection open until ctx is done, redialing after failures.
func (b *Bus) Run(ctx context.Context) error {
	for {
		conn, _, err := b.cfg.Dialer.DialContext(ctx, b.cfg.URL, nil)
		if err == nil {
			log.Info("Connected to bus", "url", b.cfg.URL)
			b.setConnected(true)
			err = b.serve(ctx, conn)
			b.setConnected(false)
			conn.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("Bus unavailable, reconnecting", "url", b.cfg.URL, "err", err, "in", b.cfg.Reconnect)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.cfg.Reconnect):
		}
	}
}

func (b *Bus) serve(ctx context.Context, conn *ws.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() {
		readErr <- b.readLoop(ctx, conn)
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
			return <-readErr
		case m := <-b.out:
			if err := conn.WriteJSON(m); err != nil {
				conn.Close()
				<-readErr
				return err
			}
		}
	}
}

func (b *Bus) readLoop(ctx context.Context, conn *ws.Conn) error {
	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			if ctx.Err() != nil || isClosed(err) {
				return nil
			}
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				log.Warn("Skipping malformed bus message", "err", err)
				continue
			}
			return err
		}
		if m.Kind != KindCommand || !b.addressed(m.To) {
			continue
		}
		b.execute(ctx, m)
	}
}

func (b *Bus) addressed(to string) bool {
	return to == "" || strings.EqualFold(to, b.cfg.Name) || strings.EqualFold(to, Broadcast)
}

func (b *Bus) execute(ctx context.Context, m Message) {
	reply := Message{To: m.From, Kind: KindResult, Content: "ok"}
	if b.handler == nil {
		reply.Content = "commands disabled"
		b.publish(reply)
		return
	}

	cmd, arg := control.Split(m.Content)
	st, err := b.handler(ctx, cmd, arg)
	if err != nil {
		log.Info("Bus command failed", "from", m.From, "cmd", m.Content, "err", err)
		reply.Content = err.Error()
	} else {
		reply.Data, _ = json.Marshal(st)
	}
	b.publish(reply)
}

func (b *Bus) setConnected(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = v
}

func (b *Bus) publish(m Message) {
	b.mu.Lock()
	up := b.connected
	b.mu.Unlock()
	if !up {
		return
	}

	m.From = b.cfg.Name
	if m.To == "" {
		m.To = Broadcast
	}
	select {
	case b.out <- m:
	default:
		log.Debug("Bus queue full, dropping message", "kind", m.Kind)
	}
}

func (b *Bus) publishData(kind, content string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn("Failed to encode bus payload", "kind", kind, "err", err)
		return
	}
	b.publish(Message{Kind: kind, Content: content, Data: data})
}

func (b *Bus) PhaseChanged(phase domain.Phase, reason domain.PhaseReason) {
	b.publish(Message{Kind: KindPhase, Content: string(phase) + ":" + string(reason)})
}

func (b *Bus) TranscriptRevised(text string) {
	b.publish(Message{Kind: KindTranscript, Content: text})
}

func (b *Bus) TurnAppended(turn domain.ConversationTurn) {
	b.publishData(KindTurn, turn.Text, turn)
}

// InputLevel is not published; levels arrive every frame.
func (b *Bus) InputLevel(float64) {}

func (b *Bus) SessionError(kind domain.ErrorKind, detail string) {
	b.publish(Message{Kind: KindError, Content: string(kind) + ": " + detail})
}

func isClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
