// Package store archives conversation turns in sqlite.
package store

import (
	"context"
	"fmt"
	"time"

	log "log/slog"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"theravox/internal/domain"
	"theravox/internal/ports"
)

type Turn struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Session   string    `gorm:"index;type:varchar(36)"      json:"session"`
	Seq       uint64    `gorm:"index"                       json:"seq"`
	Text      string    `gorm:"type:text"                   json:"text"`
	IsUser    bool      `                                   json:"isUser"`
	AudioRef  string    `                                   json:"audioRef,omitempty"`
	SpokenAt  time.Time `                                   json:"spokenAt"`
	CreatedAt time.Time `                                   json:"createdAt"`
}

// Archive persists every appended turn. Writes happen on the goroutine
// running Run; TurnAppended only queues.
type Archive struct {
	ports.NopSink

	db      *gorm.DB
	session string
	queue   chan domain.ConversationTurn
}

func Open(path string) (*Archive, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Turn{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Archive{
		db:      db,
		session: uuid.NewString(),
		queue:   make(chan domain.ConversationTurn, 64),
	}, nil
}

func (a *Archive) Session() string { return a.session }

func (a *Archive) TurnAppended(turn domain.ConversationTurn) {
	select {
	case a.queue <- turn:
	default:
		log.Warn("Archive queue full, turn not saved", "seq", turn.Seq)
	}
}

// Run saves queued turns until ctx is done, then flushes what is left.
// Saves are not bound to ctx so the flush survives shutdown.
func (a *Archive) Run(ctx context.Context) error {
	bg := context.WithoutCancel(ctx)
	for {
		select {
		case turn := <-a.queue:
			a.save(bg, turn)
		case <-ctx.Done():
			for {
				select {
				case turn := <-a.queue:
					a.save(bg, turn)
				default:
					return nil
				}
			}
		}
	}
}

func (a *Archive) save(ctx context.Context, turn domain.ConversationTurn) {
	if err := a.Save(ctx, turn); err != nil {
		log.Error("Failed to archive turn", "seq", turn.Seq, "err", err)
	}
}

func (a *Archive) Save(ctx context.Context, turn domain.ConversationTurn) error {
	rec := Turn{
		ID:       turn.ID,
		Session:  a.session,
		Seq:      turn.Seq,
		Text:     turn.Text,
		IsUser:   turn.IsUser,
		AudioRef: string(turn.AudioRef),
		SpokenAt: turn.Timestamp,
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return a.db.WithContext(ctx).Create(&rec).Error
}

// Recent returns up to n turns of the current session in log order.
func (a *Archive) Recent(ctx context.Context, n int) ([]domain.ConversationTurn, error) {
	var recs []Turn
	err := a.db.WithContext(ctx).
		Where("session = ?", a.session).
		Order("seq desc").
		Limit(n).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	turns := make([]domain.ConversationTurn, len(recs))
	for i, r := range recs {
		turns[len(recs)-1-i] = domain.ConversationTurn{
			ID:        r.ID,
			Seq:       r.Seq,
			Text:      r.Text,
			IsUser:    r.IsUser,
			AudioRef:  domain.AudioRef(r.AudioRef),
			Timestamp: r.SpokenAt,
		}
	}
	return turns, nil
}

// Count returns the number of archived turns across all sessions.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	var n int64
	err := a.db.WithContext(ctx).Model(&Turn{}).Count(&n).Error
	return n, err
}

func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
