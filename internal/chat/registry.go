package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pliu/lounge/internal/clock"
	"github.com/pliu/lounge/internal/models"
	"github.com/pliu/lounge/internal/store"
)

// Registry tracks who is in the room and when they were last heard from.
type Registry struct {
	store  store.Store
	clock  clock.Clock
	notify Notifier
	log    *slog.Logger
}

func NewRegistry(s store.Store, c clock.Clock, n Notifier, log *slog.Logger) *Registry {
	return &Registry{store: s, clock: c, notify: orNop(n), log: orDefault(log)}
}

// Register adds name to the room and announces it to everyone.
// It fails with store.ErrConflict if the name is taken.
func (r *Registry) Register(ctx context.Context, name string) (models.Participant, error) {
	if name == "" {
		return models.Participant{}, fmt.Errorf("register: empty name: %w", store.ErrValidation)
	}
	p := models.Participant{Name: name, LastSeenAt: r.clock.Now()}
	join := joinNotice(r.clock, name)
	if err := r.store.CreateParticipant(ctx, p, join); err != nil {
		return models.Participant{}, fmt.Errorf("register %q: %w", name, err)
	}
	r.log.Info("Participant joined", "name", name)
	r.notify.Publish(models.Event{Action: models.ActionCreated, Message: join})
	return p, nil
}

func (r *Registry) Get(ctx context.Context, name string) (models.Participant, error) {
	p, err := r.store.GetParticipant(ctx, name)
	if err != nil {
		return models.Participant{}, fmt.Errorf("get participant %q: %w", name, err)
	}
	return p, nil
}

func (r *Registry) List(ctx context.Context) ([]models.Participant, error) {
	participants, err := r.store.ListParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participants, nil
}

// Touch is the keep-alive: it refreshes LastSeenAt and nothing else.
func (r *Registry) Touch(ctx context.Context, name string) error {
	if err := r.store.TouchParticipant(ctx, name, r.clock.Now()); err != nil {
		return fmt.Errorf("touch %q: %w", name, err)
	}
	return nil
}

// Remove deletes the participant without announcing it. Callers that want a
// departure notice use Evict.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if err := r.store.DeleteParticipant(ctx, name); err != nil {
		return fmt.Errorf("remove %q: %w", name, err)
	}
	return nil
}

// Evict deletes the participant and posts the departure notice in the same transaction,
// provided it has not been seen after cutoff. Otherwise it fails with store.ErrActive.
func (r *Registry) Evict(ctx context.Context, name string, cutoff time.Time) (models.Message, error) {
	leave := departureNotice(r.clock, name)
	if err := r.store.EvictParticipant(ctx, name, cutoff, leave); err != nil {
		return models.Message{}, fmt.Errorf("evict %q: %w", name, err)
	}
	r.log.Info("Participant left", "name", name)
	r.notify.Publish(models.Event{Action: models.ActionCreated, Message: leave})
	return leave, nil
}
