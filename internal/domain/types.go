package domain

import "time"

// Phase models the orchestration lifecycle.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseListening     Phase = "listening"
	PhaseFinalizing    Phase = "finalizing"
	PhaseAwaitingReply Phase = "awaiting_reply"
	PhaseSynthesizing  Phase = "synthesizing"
)

// PhaseReason explains why a phase was entered.
type PhaseReason string

const (
	ReasonReady              PhaseReason = "ready"
	ReasonListeningStarted   PhaseReason = "listening_started"
	ReasonListeningRestarted PhaseReason = "listening_restarted"
	ReasonFinalRevision      PhaseReason = "final_revision"
	ReasonStopRequested      PhaseReason = "stop_requested"
	ReasonSilence            PhaseReason = "silence"
	ReasonRecognitionFailed  PhaseReason = "recognition_failed"
	ReasonRecognitionEnded   PhaseReason = "recognition_ended"
	ReasonNoTranscript       PhaseReason = "no_transcript"
	ReasonRequestIssued      PhaseReason = "request_issued"
	ReasonReplyReceived      PhaseReason = "reply_received"
	ReasonReplyFailed        PhaseReason = "reply_failed"
	ReasonReplyTimeout       PhaseReason = "reply_timeout"
	ReasonSynthesized        PhaseReason = "synthesized"
	ReasonSynthesisFailed    PhaseReason = "synthesis_failed"
)

// Revision is one update of recognized text for the current utterance.
type Revision struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// RecognitionEvent is emitted by a running recognition task. Exactly one of
// Revision or Level is meaningful, selected by HasLevel.
type RecognitionEvent struct {
	Revision Revision
	Level    float64
	HasLevel bool
}

// AudioRef points at a playable audio resource on disk.
type AudioRef string

// ConversationTurn is one immutable entry in the conversation log.
type ConversationTurn struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Text      string    `json:"text"`
	IsUser    bool      `json:"isUser"`
	AudioRef  AudioRef  `json:"audioRef,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BiometricKind names the supported health sample types.
type BiometricKind string

const (
	BiometricHeartRate  BiometricKind = "heartRate"
	BiometricSleepStage BiometricKind = "sleepStage"
)

// BiometricSample is a read-only snapshot from the health data provider.
// Value carries beats per minute for heart rate; Label carries the stage name
// for sleep.
type BiometricSample struct {
	Kind  BiometricKind `json:"kind"`
	Value float64       `json:"value,omitempty"`
	Label string        `json:"label,omitempty"`
	Start time.Time     `json:"start"`
	End   time.Time     `json:"end"`
}

// ProviderID selects a chat backend.
type ProviderID string

// Status summarizes the orchestrator for observers.
type Status struct {
	Phase      Phase      `json:"phase"`
	Generation uint64     `json:"generation"`
	Provider   ProviderID `json:"provider"`
	TTSEnabled bool       `json:"ttsEnabled"`
	Transcript string     `json:"transcript,omitempty"`
	Reply      string     `json:"reply,omitempty"`
	AudioRef   AudioRef   `json:"audioRef,omitempty"`
	Turns      int        `json:"turns"`
}
