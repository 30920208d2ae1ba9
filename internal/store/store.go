package store

import (
	"context"
	"errors"
	"time"

	"github.com/pliu/lounge/internal/models"
)

var (
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrUnknownSender = errors.New("unknown sender")
	ErrValidation    = errors.New("validation error")
	ErrActive        = errors.New("participant still active")
)

// MessageQuery selects messages in creation order.
// Limit > 0 keeps only the most recent Limit matches.
// All ignores Viewer and returns every message.
type MessageQuery struct {
	Viewer string
	Limit  int
	All    bool
}

// Match reports whether m is selected by the query's visibility filter.
func (q MessageQuery) Match(m models.Message) bool {
	return q.All || m.VisibleTo(q.Viewer)
}

// Store is the backing datastore shared by the participant registry and the message log.
// Every method is a single atomic unit relative to the entities it touches.
type Store interface {
	// Participant operations
	CreateParticipant(ctx context.Context, p models.Participant, join models.Message) error
	GetParticipant(ctx context.Context, name string) (models.Participant, error)
	ListParticipants(ctx context.Context) ([]models.Participant, error)
	TouchParticipant(ctx context.Context, name string, at time.Time) error
	DeleteParticipant(ctx context.Context, name string) error
	// EvictParticipant deletes name only if it was last seen at or before cutoff,
	// and inserts leave in the same transaction. ErrActive means it was seen since.
	EvictParticipant(ctx context.Context, name string, cutoff time.Time, leave models.Message) error

	// Message operations
	InsertMessage(ctx context.Context, m models.Message) error
	GetMessage(ctx context.Context, id string) (models.Message, error)
	ListMessages(ctx context.Context, q MessageQuery) ([]models.Message, error)
	UpdateMessage(ctx context.Context, id, actor, to, text string, kind models.Kind) (models.Message, error)
	DeleteMessage(ctx context.Context, id, actor string) (models.Message, error)

	Close() error
}
