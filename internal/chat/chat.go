// Package chat implements the room's presence and message rules on top of a store.Store.
//
// Registry and Messages are the two owned stores shared by the HTTP handlers and the
// Sweeper. The pairings "register + join notice" and "evict + departure notice" are
// each written in a single datastore transaction, so a reader never sees a
// registered participant without its join notice, nor an evicted one without its
// departure notice.
package chat

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/pliu/lounge/internal/clock"
	"github.com/pliu/lounge/internal/models"
)

// Notifier receives every change made to the message log.
type Notifier interface {
	Publish(event models.Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(models.Event) {}

func orNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}

func orDefault(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}

// newMessage stamps a message with a fresh id and the current wall-clock time.
func newMessage(c clock.Clock, from, to, text string, kind models.Kind) models.Message {
	return models.Message{
		ID:   uuid.New().String(),
		From: from,
		To:   to,
		Text: text,
		Kind: kind,
		Time: clock.Format(c.Now()),
	}
}

func joinNotice(c clock.Clock, name string) models.Message {
	return newMessage(c, name, models.Everyone, name+" has entered the room", models.KindStatus)
}

func departureNotice(c clock.Clock, name string) models.Message {
	return newMessage(c, name, models.Everyone, name+" has left the room", models.KindStatus)
}
