package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pliu/lounge/internal/clock"
	"github.com/pliu/lounge/internal/models"
	"github.com/pliu/lounge/internal/store"
)

// Messages is the room's message log.
type Messages struct {
	store  store.Store
	clock  clock.Clock
	notify Notifier
	log    *slog.Logger
}

func NewMessages(s store.Store, c clock.Clock, n Notifier, log *slog.Logger) *Messages {
	return &Messages{store: s, clock: c, notify: orNop(n), log: orDefault(log)}
}

func validatePost(to, text string, kind models.Kind) error {
	if !kind.UserSubmittable() {
		return fmt.Errorf("message type %q: %w", kind, store.ErrValidation)
	}
	if to == "" || text == "" {
		return fmt.Errorf("empty recipient or text: %w", store.ErrValidation)
	}
	return nil
}

// Post appends a participant's message. from must be registered, checked by the
// datastore in the same transaction as the insert.
func (m *Messages) Post(ctx context.Context, from, to, text string, kind models.Kind) (models.Message, error) {
	if from == "" {
		return models.Message{}, fmt.Errorf("post: no sender: %w", store.ErrUnknownSender)
	}
	if err := validatePost(to, text, kind); err != nil {
		return models.Message{}, fmt.Errorf("post: %w", err)
	}

	msg := newMessage(m.clock, from, to, text, kind)
	if err := m.store.InsertMessage(ctx, msg); err != nil {
		return models.Message{}, fmt.Errorf("post from %q: %w", from, err)
	}
	m.log.Debug("Message posted", "id", msg.ID, "from", from, "to", to, "type", kind)
	m.notify.Publish(models.Event{Action: models.ActionCreated, Message: msg})
	return msg, nil
}

// ListVisibleTo returns the messages viewer may see in creation order.
// limit > 0 keeps only the most recent limit messages.
func (m *Messages) ListVisibleTo(ctx context.Context, viewer string, limit int) ([]models.Message, error) {
	messages, err := m.store.ListMessages(ctx, store.MessageQuery{Viewer: viewer, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list messages for %q: %w", viewer, err)
	}
	return messages, nil
}

// Get returns one message if viewer may see it. Invisible messages are
// reported as store.ErrNotFound so their existence does not leak.
func (m *Messages) Get(ctx context.Context, id, viewer string) (models.Message, error) {
	msg, err := m.store.GetMessage(ctx, id)
	if err == nil && !msg.VisibleTo(viewer) {
		err = store.ErrNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("get message %s for %q: %w", id, viewer, err)
	}
	return msg, nil
}

// Update replaces recipient, text and type of a message owned by actor.
// id, sender and time are preserved.
func (m *Messages) Update(ctx context.Context, id, actor, to, text string, kind models.Kind) (models.Message, error) {
	if err := validatePost(to, text, kind); err != nil {
		return models.Message{}, fmt.Errorf("update %s: %w", id, err)
	}
	msg, err := m.store.UpdateMessage(ctx, id, actor, to, text, kind)
	if err != nil {
		return models.Message{}, fmt.Errorf("update %s by %q: %w", id, actor, err)
	}
	m.notify.Publish(models.Event{Action: models.ActionUpdated, Message: msg})
	return msg, nil
}

func (m *Messages) Delete(ctx context.Context, id, actor string) error {
	msg, err := m.store.DeleteMessage(ctx, id, actor)
	if err != nil {
		return fmt.Errorf("delete %s by %q: %w", id, actor, err)
	}
	m.notify.Publish(models.Event{Action: models.ActionDeleted, Message: msg})
	return nil
}
