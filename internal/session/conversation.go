package session

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"theravox/internal/domain"
)

// conversationLog is the append-only, creation-ordered turn list. Slots are
// reserved when a turn's request is created so that a reply arriving late
// still lands right after the user turn that caused it.
type conversationLog struct {
	nextSeq uint64
	turns   []domain.ConversationTurn
	now     func() time.Time
}

func newConversationLog(now func() time.Time) *conversationLog {
	return &conversationLog{nextSeq: 1, now: now}
}

func (l *conversationLog) reserve() uint64 {
	seq := l.nextSeq
	l.nextSeq++
	return seq
}

func (l *conversationLog) append(text string, isUser bool) domain.ConversationTurn {
	return l.fill(l.reserve(), text, isUser, "")
}

// fill creates the turn for a reserved slot and inserts it in seq order.
func (l *conversationLog) fill(seq uint64, text string, isUser bool, ref domain.AudioRef) domain.ConversationTurn {
	turn := domain.ConversationTurn{
		ID:        uuid.NewString(),
		Seq:       seq,
		Text:      text,
		IsUser:    isUser,
		AudioRef:  ref,
		Timestamp: l.now(),
	}

	i := sort.Search(len(l.turns), func(i int) bool { return l.turns[i].Seq > seq })
	l.turns = append(l.turns, domain.ConversationTurn{})
	copy(l.turns[i+1:], l.turns[i:])
	l.turns[i] = turn
	return turn
}

func (l *conversationLog) snapshot() []domain.ConversationTurn {
	return append([]domain.ConversationTurn(nil), l.turns...)
}

func (l *conversationLog) len() int { return len(l.turns) }
