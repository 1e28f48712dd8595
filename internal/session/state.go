package session

import (
	"strings"
	"time"

	"theravox/internal/domain"
	"theravox/internal/ports"
)

// transcript buffers the current utterance. Revisions replace current; a
// recognition restart commits what was heard so far.
type transcript struct {
	committed string
	current   string
}

func (t *transcript) revise(text string) {
	t.current = strings.TrimSpace(text)
}

func (t *transcript) commit() {
	t.committed = t.text()
	t.current = ""
}

func (t *transcript) text() string {
	switch {
	case t.committed == "":
		return t.current
	case t.current == "":
		return t.committed
	default:
		return t.committed + " " + t.current
	}
}

// state is owned by the machine loop and never touched elsewhere.
type state struct {
	phase      domain.Phase
	provider   domain.ProviderID
	ttsEnabled bool

	generation uint64
	transcript transcript
	reply      string
	audioRef   domain.AudioRef

	task       ports.RecognitionTask
	taskID     uint64
	attempts   int
	finalSeen  bool
	lastSpeech time.Time

	graceTimer *time.Timer
	retryTimer *time.Timer
}

type requestStage int

const (
	stageAwaitingReply requestStage = iota
	stageSynthesizing
)

// pendingRequest tracks one issued chat call until its assistant turn lands.
type pendingRequest struct {
	id         uint64
	generation uint64
	slot       uint64
	provider   domain.ProviderID
	stage      requestStage
	reply      string
	timer      *time.Timer
}
