package ports

import "theravox/internal/domain"

// Sinks fans events out to every member in order.
type Sinks []Sink

func (s Sinks) PhaseChanged(phase domain.Phase, reason domain.PhaseReason) {
	for _, sink := range s {
		sink.PhaseChanged(phase, reason)
	}
}

func (s Sinks) TranscriptRevised(text string) {
	for _, sink := range s {
		sink.TranscriptRevised(text)
	}
}

func (s Sinks) TurnAppended(turn domain.ConversationTurn) {
	for _, sink := range s {
		sink.TurnAppended(turn)
	}
}

func (s Sinks) InputLevel(level float64) {
	for _, sink := range s {
		sink.InputLevel(level)
	}
}

func (s Sinks) SessionError(kind domain.ErrorKind, detail string) {
	for _, sink := range s {
		sink.SessionError(kind, detail)
	}
}

// NopSink ignores every event; embed it to implement a subset.
type NopSink struct{}

func (NopSink) PhaseChanged(domain.Phase, domain.PhaseReason) {}
func (NopSink) TranscriptRevised(string)                      {}
func (NopSink) TurnAppended(domain.ConversationTurn)          {}
func (NopSink) InputLevel(float64)                            {}
func (NopSink) SessionError(domain.ErrorKind, string)         {}
