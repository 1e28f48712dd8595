package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	log "log/slog"

	"theravox/internal/domain"
	"theravox/internal/ports"
)

var (
	ErrAlreadyListening = errors.New("already listening")
	ErrNotListening     = errors.New("not listening")
	ErrStopped          = errors.New("session machine stopped")
	ErrTTSUnavailable   = errors.New("no speech synthesizer configured")
	ErrUnknownProvider  = errors.New("unknown chat provider")
)

// providerCatalog is implemented by chat backends that can validate ids.
type providerCatalog interface {
	Has(id domain.ProviderID) bool
}

const (
	NoResponseText    = "No response received from API"
	EmptyResponseText = "Empty response received from API"
)

// Config controls timing and retry policy of the machine.
type Config struct {
	Provider   domain.ProviderID
	TTSEnabled bool

	SilenceThresholdDB float64
	SilenceTimeout     time.Duration
	FinalizeGrace      time.Duration
	ReplyTimeout       time.Duration
	SynthesisTimeout   time.Duration

	MaxRecognitionAttempts int
	RetryBackoff           time.Duration
	SummaryWindow          int
}

func (c Config) withDefaults() Config {
	if c.SilenceThresholdDB == 0 {
		c.SilenceThresholdDB = -50
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 2 * time.Second
	}
	if c.FinalizeGrace < 0 {
		c.FinalizeGrace = 0
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 10 * time.Second
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = 30 * time.Second
	}
	if c.MaxRecognitionAttempts <= 0 {
		c.MaxRecognitionAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	return c
}

// Deps are the collaborators wired into the machine. Synth, Player and
// Health may be nil.
type Deps struct {
	Source ports.TranscriptionSource
	Chat   ports.ChatBackend
	Synth  ports.Synthesizer
	Player ports.Player
	Health ports.HealthContext
	Sink   ports.Sink
}

// Machine orchestrates listening, finalization, the chat call and speech
// synthesis. All state lives on the goroutine running Run; every other
// goroutine talks to it through the inbox.
type Machine struct {
	deps       Deps
	aggregator *Aggregator
	cfg        Config
	now        func() time.Time

	inbox chan func()
	done  chan struct{}

	// owned by the loop
	runCtx    context.Context
	st        state
	log       *conversationLog
	pending   map[uint64]*pendingRequest
	nextReqID uint64
	nextTask  uint64
}

func NewMachine(deps Deps, cfg Config) *Machine {
	if deps.Sink == nil {
		deps.Sink = ports.NopSink{}
	}
	cfg = cfg.withDefaults()

	m := &Machine{
		deps:       deps,
		aggregator: NewAggregator(deps.Chat, cfg.SummaryWindow),
		cfg:        cfg,
		now:        time.Now,
		inbox:      make(chan func(), 64),
		done:       make(chan struct{}),
		pending:    make(map[uint64]*pendingRequest),
	}
	m.log = newConversationLog(func() time.Time { return m.now() })
	m.st = state{
		phase:      domain.PhaseIdle,
		provider:   cfg.Provider,
		ttsEnabled: cfg.TTSEnabled && deps.Synth != nil,
	}
	return m
}

// Run processes the inbox until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.shutdown()

	m.runCtx = ctx
	m.deps.Sink.PhaseChanged(domain.PhaseIdle, domain.ReasonReady)

	for {
		select {
		case fn := <-m.inbox:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Start begins listening for a new utterance.
func (m *Machine) Start(ctx context.Context) error {
	var err error
	if derr := m.do(ctx, func() { err = m.start() }); derr != nil {
		return derr
	}
	return err
}

// Stop ends listening and finalizes whatever was transcribed.
func (m *Machine) Stop(ctx context.Context) error {
	var err error
	if derr := m.do(ctx, func() {
		if m.st.phase != domain.PhaseListening {
			err = ErrNotListening
			return
		}
		m.beginFinalize(domain.ReasonStopRequested)
	}); derr != nil {
		return derr
	}
	return err
}

// Toggle stops when listening and starts otherwise.
func (m *Machine) Toggle(ctx context.Context) error {
	var err error
	if derr := m.do(ctx, func() {
		switch m.st.phase {
		case domain.PhaseListening:
			m.beginFinalize(domain.ReasonStopRequested)
		case domain.PhaseFinalizing:
			err = ErrAlreadyListening
		default:
			err = m.start()
		}
	}); derr != nil {
		return derr
	}
	return err
}

func (m *Machine) SetTTS(ctx context.Context, enabled bool) error {
	var err error
	if derr := m.do(ctx, func() {
		if enabled && m.deps.Synth == nil {
			err = ErrTTSUnavailable
			return
		}
		m.st.ttsEnabled = enabled
	}); derr != nil {
		return derr
	}
	return err
}

// SetProvider switches the backend for subsequent requests. Requests already
// in flight keep the provider they were issued with.
func (m *Machine) SetProvider(ctx context.Context, id domain.ProviderID) error {
	if c, ok := m.deps.Chat.(providerCatalog); ok && !c.Has(id) {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return m.do(ctx, func() { m.st.provider = id })
}

func (m *Machine) Status(ctx context.Context) (domain.Status, error) {
	var status domain.Status
	err := m.do(ctx, func() {
		status = domain.Status{
			Phase:      m.st.phase,
			Generation: m.st.generation,
			Provider:   m.st.provider,
			TTSEnabled: m.st.ttsEnabled,
			Transcript: m.st.transcript.text(),
			Reply:      m.st.reply,
			AudioRef:   m.st.audioRef,
			Turns:      m.log.len(),
		}
	})
	return status, err
}

// Turns returns the conversation log in display order.
func (m *Machine) Turns(ctx context.Context) ([]domain.ConversationTurn, error) {
	var turns []domain.ConversationTurn
	err := m.do(ctx, func() { turns = m.log.snapshot() })
	return turns, err
}

func (m *Machine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case m.inbox <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrStopped
	}
}

func (m *Machine) post(fn func()) bool {
	select {
	case m.inbox <- fn:
		return true
	case <-m.done:
		return false
	}
}

func (m *Machine) setPhase(phase domain.Phase, reason domain.PhaseReason) {
	log.Debug("Phase change", "from", m.st.phase, "to", phase, "reason", reason, "gen", m.st.generation)
	m.st.phase = phase
	m.deps.Sink.PhaseChanged(phase, reason)
}

// --- listening ---

func (m *Machine) start() error {
	if m.st.phase == domain.PhaseListening || m.st.phase == domain.PhaseFinalizing {
		return ErrAlreadyListening
	}

	reason := domain.ReasonListeningStarted
	if m.st.phase != domain.PhaseIdle {
		reason = domain.ReasonListeningRestarted
	}

	m.st.generation++
	m.st.transcript = transcript{}
	m.st.reply = ""
	m.st.audioRef = ""
	m.st.attempts = 0
	m.st.finalSeen = false
	m.st.lastSpeech = m.now()

	m.setPhase(domain.PhaseListening, reason)
	m.startRecognition()
	return nil
}

func (m *Machine) startRecognition() {
	m.st.attempts++
	m.nextTask++
	id := m.nextTask
	m.st.taskID = id
	m.st.retryTimer = nil

	task, err := m.deps.Source.Start(m.runCtx)
	if err != nil {
		m.onRecognitionEnded(id, err)
		return
	}
	m.st.task = task

	go func() {
		for ev := range task.Events() {
			ev := ev
			if !m.post(func() { m.onRecognitionEvent(id, ev) }) {
				return
			}
		}
		err := task.Err()
		m.post(func() { m.onRecognitionEnded(id, err) })
	}()
}

func (m *Machine) onRecognitionEvent(taskID uint64, ev domain.RecognitionEvent) {
	if taskID != m.st.taskID {
		return
	}
	if m.st.phase != domain.PhaseListening && m.st.phase != domain.PhaseFinalizing {
		return
	}

	if ev.HasLevel {
		m.deps.Sink.InputLevel(ev.Level)
		m.checkSilence(ev.Level)
		return
	}

	m.st.lastSpeech = m.now()
	if ev.Revision.Text != "" {
		m.st.transcript.revise(ev.Revision.Text)
		m.deps.Sink.TranscriptRevised(m.st.transcript.text())
	}

	if ev.Revision.IsFinal {
		m.st.finalSeen = true
		if m.st.phase == domain.PhaseListening {
			m.setPhase(domain.PhaseFinalizing, domain.ReasonFinalRevision)
		}
		m.finalize()
	}
}

func (m *Machine) checkSilence(level float64) {
	if m.st.phase != domain.PhaseListening {
		return
	}
	if level >= m.cfg.SilenceThresholdDB {
		m.st.lastSpeech = m.now()
		return
	}
	if m.st.transcript.text() == "" {
		return
	}
	if m.now().Sub(m.st.lastSpeech) >= m.cfg.SilenceTimeout {
		m.beginFinalize(domain.ReasonSilence)
	}
}

func (m *Machine) onRecognitionEnded(taskID uint64, err error) {
	if taskID != m.st.taskID {
		return
	}
	m.st.task = nil

	switch m.st.phase {
	case domain.PhaseFinalizing:
		m.finalize()
		return
	case domain.PhaseListening:
	default:
		return
	}

	if err == nil {
		m.setPhase(domain.PhaseFinalizing, domain.ReasonRecognitionEnded)
		m.finalize()
		return
	}

	if domain.IsTransient(err) && m.st.attempts < m.cfg.MaxRecognitionAttempts {
		log.Warn("Recognition failed, retrying", "attempt", m.st.attempts, "err", err)
		m.st.transcript.commit()
		gen := m.st.generation
		m.st.retryTimer = time.AfterFunc(m.cfg.RetryBackoff, func() {
			m.post(func() {
				if m.st.generation == gen && m.st.phase == domain.PhaseListening && m.st.taskID == taskID {
					m.startRecognition()
				}
			})
		})
		return
	}

	kind := domain.KindOf(err)
	if kind == "" {
		kind = domain.KindRecognitionUnavailable
	}
	log.Error("Recognition gave up", "attempts", m.st.attempts, "err", err)
	m.deps.Sink.SessionError(kind, err.Error())
	m.setPhase(domain.PhaseFinalizing, domain.ReasonRecognitionFailed)
	m.finalize()
}

// beginFinalize asks the source to flush and waits up to FinalizeGrace for a
// final revision, which wins over the stop or silence that triggered this.
func (m *Machine) beginFinalize(reason domain.PhaseReason) {
	m.setPhase(domain.PhaseFinalizing, reason)

	if m.st.task == nil || m.cfg.FinalizeGrace == 0 {
		m.finalize()
		return
	}

	m.st.task.Finish()
	gen, taskID := m.st.generation, m.st.taskID
	m.st.graceTimer = time.AfterFunc(m.cfg.FinalizeGrace, func() {
		m.post(func() {
			if m.st.generation == gen && m.st.taskID == taskID && m.st.phase == domain.PhaseFinalizing {
				m.finalize()
			}
		})
	})
}

func (m *Machine) stopRecognition() {
	if m.st.task != nil {
		m.st.task.Cancel()
		m.st.task = nil
	}
	m.st.taskID = 0
	if m.st.graceTimer != nil {
		m.st.graceTimer.Stop()
		m.st.graceTimer = nil
	}
	if m.st.retryTimer != nil {
		m.st.retryTimer.Stop()
		m.st.retryTimer = nil
	}
}

// finalize consumes the transcript: empty goes straight back to idle,
// anything else is recorded as a user turn and sent to the chat backend.
func (m *Machine) finalize() {
	m.stopRecognition()

	text := m.st.transcript.text()
	if text == "" {
		m.setPhase(domain.PhaseIdle, domain.ReasonNoTranscript)
		return
	}

	history := m.log.snapshot()
	turn := m.log.append(text, true)
	m.deps.Sink.TurnAppended(turn)
	m.issueRequest(text, history)
}

// --- reply ---

func (m *Machine) issueRequest(text string, history []domain.ConversationTurn) {
	m.nextReqID++
	req := &pendingRequest{
		id:         m.nextReqID,
		generation: m.st.generation,
		slot:       m.log.reserve(),
		provider:   m.st.provider,
		stage:      stageAwaitingReply,
	}
	m.pending[req.id] = req

	var (
		samples  []domain.BiometricSample
		insights string
	)
	if m.deps.Health != nil {
		samples = m.deps.Health.Samples()
		insights = m.deps.Health.Insights()
	}

	id := req.id
	req.timer = time.AfterFunc(m.cfg.ReplyTimeout, func() {
		m.post(func() { m.onReplyTimeout(id) })
	})

	ctx, provider := m.runCtx, req.provider
	go func() {
		prompt := m.aggregator.BuildPrompt(ctx, provider, text, history, samples, insights)
		reply, err := m.deps.Chat.Send(ctx, prompt, provider)
		m.post(func() { m.onReply(id, reply, err) })
	}()

	m.setPhase(domain.PhaseAwaitingReply, domain.ReasonRequestIssued)
}

func (m *Machine) isCurrent(req *pendingRequest, phase domain.Phase) bool {
	return req.generation == m.st.generation && m.st.phase == phase
}

func (m *Machine) onReply(id uint64, reply string, err error) {
	req, ok := m.pending[id]
	if !ok || req.stage != stageAwaitingReply {
		log.Debug("Dropping late reply", "request", id)
		return
	}
	req.timer.Stop()

	current := m.isCurrent(req, domain.PhaseAwaitingReply)
	text := reply
	reason := domain.ReasonReplyReceived
	if err != nil {
		kind := domain.KindOf(err)
		text = NoResponseText
		if kind == domain.KindEmptyResponse {
			text = EmptyResponseText
		}
		reason = domain.ReasonReplyFailed
		log.Warn("Chat request failed", "provider", req.provider, "kind", kind, "current", current, "err", err)
		if current {
			m.deps.Sink.SessionError(kind, err.Error())
		}
	}

	if !current {
		log.Info("Reply for superseded session recorded without playback", "request", id, "gen", req.generation)
		m.resolve(req, text, "")
		return
	}

	m.st.reply = text
	if err == nil && m.st.ttsEnabled && m.deps.Synth != nil {
		req.stage = stageSynthesizing
		req.reply = text
		m.setPhase(domain.PhaseSynthesizing, domain.ReasonReplyReceived)

		ctx, timeout := m.runCtx, m.cfg.SynthesisTimeout
		go func() {
			sctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			ref, err := m.deps.Synth.Synthesize(sctx, text)
			if err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
				err = domain.NewError(domain.KindTimeout, err)
			}
			m.post(func() { m.onSynthesized(id, ref, err) })
		}()
		return
	}

	m.resolve(req, text, "")
	m.setPhase(domain.PhaseIdle, reason)
}

func (m *Machine) onReplyTimeout(id uint64) {
	req, ok := m.pending[id]
	if !ok || req.stage != stageAwaitingReply {
		return
	}

	log.Warn("Chat request timed out", "request", id, "timeout", m.cfg.ReplyTimeout)
	current := m.isCurrent(req, domain.PhaseAwaitingReply)
	m.resolve(req, NoResponseText, "")
	if current {
		m.deps.Sink.SessionError(domain.KindTimeout, "no reply within "+m.cfg.ReplyTimeout.String())
		m.st.reply = NoResponseText
		m.setPhase(domain.PhaseIdle, domain.ReasonReplyTimeout)
	}
}

func (m *Machine) onSynthesized(id uint64, ref domain.AudioRef, err error) {
	req, ok := m.pending[id]
	if !ok || req.stage != stageSynthesizing {
		return
	}

	current := m.isCurrent(req, domain.PhaseSynthesizing)
	reason := domain.ReasonSynthesized
	if err != nil {
		kind := domain.KindOf(err)
		if kind == "" {
			kind = domain.KindSynthesisFailed
		}
		log.Warn("Speech synthesis failed, keeping text reply", "err", err)
		if current {
			m.deps.Sink.SessionError(kind, err.Error())
		}
		ref = ""
		reason = domain.ReasonSynthesisFailed
	}

	m.resolve(req, req.reply, ref)
	if !current {
		return
	}

	m.st.audioRef = ref
	if ref != "" && m.deps.Player != nil {
		ctx := m.runCtx
		go func() {
			if err := m.deps.Player.Play(ctx, ref); err != nil {
				log.Error("Playback failed", "ref", ref, "err", err)
			}
		}()
	}
	m.setPhase(domain.PhaseIdle, reason)
}

// resolve appends the assistant turn into the slot reserved at issue time.
func (m *Machine) resolve(req *pendingRequest, text string, ref domain.AudioRef) {
	delete(m.pending, req.id)
	turn := m.log.fill(req.slot, text, false, ref)
	m.deps.Sink.TurnAppended(turn)
}

// shutdown resolves every pending request so no reserved slot is left
// empty: a reply already received keeps its text, an unanswered request
// gets the fallback text.
func (m *Machine) shutdown() {
	m.stopRecognition()

	ids := make([]uint64, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		req := m.pending[id]
		req.timer.Stop()
		text := req.reply
		if req.stage == stageAwaitingReply {
			text = NoResponseText
		}
		log.Info("Resolving request on shutdown", "request", id, "stage", req.stage)
		m.resolve(req, text, "")
	}
}
