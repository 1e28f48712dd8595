package ports

import (
	"context"

	"theravox/internal/domain"
)

// RecognitionTask is one running recognition attempt.
type RecognitionTask interface {
	// Events delivers revisions and input levels; it is closed when the task ends.
	Events() <-chan domain.RecognitionEvent
	// Finish ends audio input and asks the source to flush a final revision.
	Finish()
	// Cancel abandons the task without waiting for a final revision.
	Cancel()
	// Err reports why the task ended; valid once Events is closed.
	Err() error
}

// TranscriptionSource starts recognition tasks over live audio.
type TranscriptionSource interface {
	Start(ctx context.Context) (RecognitionTask, error)
}

// ChatBackend sends a prompt to one of the configured chat providers.
type ChatBackend interface {
	Send(ctx context.Context, prompt string, provider domain.ProviderID) (string, error)
	// Summarize runs a bare user-only completion on the provider.
	Summarize(ctx context.Context, prompt string, provider domain.ProviderID) (string, error)
}

// Synthesizer turns reply text into an audio resource.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (domain.AudioRef, error)
}

// Player plays a synthesized audio resource.
type Player interface {
	Play(ctx context.Context, ref domain.AudioRef) error
}

// HealthContext supplies biometric samples and the textual insights summary.
type HealthContext interface {
	Samples() []domain.BiometricSample
	Insights() string
}

// Sink receives observable orchestrator events. Implementations must not block.
type Sink interface {
	PhaseChanged(phase domain.Phase, reason domain.PhaseReason)
	TranscriptRevised(text string)
	TurnAppended(turn domain.ConversationTurn)
	InputLevel(level float64)
	SessionError(kind domain.ErrorKind, detail string)
}
