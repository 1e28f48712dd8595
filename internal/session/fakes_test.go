package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"theravox/internal/domain"
	"theravox/internal/ports"
)

type fakeTask struct {
	mu       sync.Mutex
	events   chan domain.RecognitionEvent
	closed   bool
	err      error
	onFinish func(*fakeTask)
	finished bool
}

func newFakeTask() *fakeTask {
	return &fakeTask{events: make(chan domain.RecognitionEvent, 16)}
}

func (t *fakeTask) Events() <-chan domain.RecognitionEvent { return t.events }

func (t *fakeTask) Finish() {
	t.mu.Lock()
	t.finished = true
	fn := t.onFinish
	t.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

func (t *fakeTask) Cancel() { t.end(nil) }

func (t *fakeTask) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *fakeTask) emit(ev domain.RecognitionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.events <- ev
	}
}

func (t *fakeTask) revise(text string, final bool) {
	t.emit(domain.RecognitionEvent{Revision: domain.Revision{Text: text, IsFinal: final}})
}

func (t *fakeTask) level(db float64) {
	t.emit(domain.RecognitionEvent{Level: db, HasLevel: true})
}

func (t *fakeTask) end(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.err = err
	close(t.events)
}

// fakeSource hands out tasks built by next, or fresh ones.
type fakeSource struct {
	mu    sync.Mutex
	next  func(n int) (*fakeTask, error)
	tasks []*fakeTask
	calls int
}

func (s *fakeSource) Start(context.Context) (ports.RecognitionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	task, err := newFakeTask(), error(nil)
	if s.next != nil {
		task, err = s.next(s.calls)
	}
	if err != nil {
		return nil, err
	}
	s.tasks = append(s.tasks, task)
	return task, nil
}

func (s *fakeSource) task(i int) *fakeTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.tasks) {
		return nil
	}
	return s.tasks[i]
}

func (s *fakeSource) startCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeChat struct {
	mu         sync.Mutex
	send       func(ctx context.Context, prompt string) (string, error)
	summarize  func(prompt string) (string, error)
	prompts    []string
	summaries  []string
	providers  []domain.ProviderID
	knownNames []domain.ProviderID
}

func (c *fakeChat) Send(ctx context.Context, prompt string, provider domain.ProviderID) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.providers = append(c.providers, provider)
	fn := c.send
	c.mu.Unlock()
	if fn == nil {
		return "ok", nil
	}
	return fn(ctx, prompt)
}

func (c *fakeChat) Summarize(_ context.Context, prompt string, _ domain.ProviderID) (string, error) {
	c.mu.Lock()
	c.summaries = append(c.summaries, prompt)
	fn := c.summarize
	c.mu.Unlock()
	if fn == nil {
		return "a short summary", nil
	}
	return fn(prompt)
}

func (c *fakeChat) Has(id domain.ProviderID) bool {
	for _, known := range c.knownNames {
		if known == id {
			return true
		}
	}
	return false
}

func (c *fakeChat) sentPrompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

func (c *fakeChat) summaryPrompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.summaries...)
}

type fakeSynth struct {
	mu    sync.Mutex
	ref   domain.AudioRef
	err   error
	block bool // hang until ctx is done
	texts []string
}

func (s *fakeSynth) Synthesize(ctx context.Context, text string) (domain.AudioRef, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	ref, err, block := s.ref, s.err, s.block
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return ref, err
}

func (s *fakeSynth) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

type fakePlayer struct {
	mu     sync.Mutex
	played []domain.AudioRef
}

func (p *fakePlayer) Play(_ context.Context, ref domain.AudioRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, ref)
	return nil
}

func (p *fakePlayer) snapshot() []domain.AudioRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.AudioRef(nil), p.played...)
}

type fakeHealth struct {
	samples  []domain.BiometricSample
	insights string
}

func (h fakeHealth) Samples() []domain.BiometricSample { return h.samples }
func (h fakeHealth) Insights() string                  { return h.insights }

type phaseEvent struct {
	phase  domain.Phase
	reason domain.PhaseReason
}

type recordingSink struct {
	mu          sync.Mutex
	phases      []phaseEvent
	transcripts []string
	turns       []domain.ConversationTurn
	errors      []domain.ErrorKind
	levels      []float64
}

func (s *recordingSink) PhaseChanged(phase domain.Phase, reason domain.PhaseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, phaseEvent{phase, reason})
}

func (s *recordingSink) TranscriptRevised(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, text)
}

func (s *recordingSink) TurnAppended(turn domain.ConversationTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
}

func (s *recordingSink) InputLevel(level float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels = append(s.levels, level)
}

func (s *recordingSink) SessionError(kind domain.ErrorKind, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, kind)
}

func (s *recordingSink) last() phaseEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.phases) == 0 {
		return phaseEvent{}
	}
	return s.phases[len(s.phases)-1]
}

func (s *recordingSink) sawReason(reason domain.PhaseReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.phases {
		if ev.reason == reason {
			return true
		}
	}
	return false
}

func (s *recordingSink) appended() []domain.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ConversationTurn(nil), s.turns...)
}

func (s *recordingSink) errorKinds() []domain.ErrorKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ErrorKind(nil), s.errors...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func texts(turns []domain.ConversationTurn) []string {
	out := make([]string, len(turns))
	for i, turn := range turns {
		prefix := "assistant: "
		if turn.IsUser {
			prefix = "user: "
		}
		out[i] = prefix + turn.Text
	}
	return out
}

func promptMessage(prompt string) string {
	line, _, _ := strings.Cut(prompt, "\n")
	return strings.TrimPrefix(line, "Message: ")
}
