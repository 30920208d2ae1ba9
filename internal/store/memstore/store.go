// Package memstore keeps participants and messages in process memory.
// It is the default datastore and the reference for the others.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pliu/lounge/internal/models"
	"github.com/pliu/lounge/internal/store"
	"github.com/samber/lo"
)

type MemStore struct {
	mu           sync.RWMutex
	participants map[string]models.Participant
	messages     []models.Message
}

func New() *MemStore {
	return &MemStore{participants: make(map[string]models.Participant)}
}

func (s *MemStore) CreateParticipant(_ context.Context, p models.Participant, join models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[p.Name]; ok {
		return store.ErrConflict
	}
	s.participants[p.Name] = p
	s.messages = append(s.messages, join)
	return nil
}

func (s *MemStore) GetParticipant(_ context.Context, name string) (models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[name]
	if !ok {
		return models.Participant{}, store.ErrNotFound
	}
	return p, nil
}

func (s *MemStore) ListParticipants(_ context.Context) ([]models.Participant, error) {
	s.mu.RLock()
	participants := lo.Values(s.participants)
	s.mu.RUnlock()

	sort.Slice(participants, func(i, j int) bool {
		return participants[i].Name < participants[j].Name
	})
	return participants, nil
}

func (s *MemStore) TouchParticipant(_ context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[name]
	if !ok {
		return store.ErrNotFound
	}
	p.LastSeenAt = at
	s.participants[name] = p
	return nil
}

func (s *MemStore) DeleteParticipant(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[name]; !ok {
		return store.ErrNotFound
	}
	delete(s.participants, name)
	return nil
}

func (s *MemStore) EvictParticipant(_ context.Context, name string, cutoff time.Time, leave models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[name]
	if !ok {
		return store.ErrNotFound
	}
	if p.LastSeenAt.After(cutoff) {
		return store.ErrActive
	}
	delete(s.participants, name)
	s.messages = append(s.messages, leave)
	return nil
}

func (s *MemStore) InsertMessage(_ context.Context, m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[m.From]; !ok {
		return store.ErrUnknownSender
	}
	s.messages = append(s.messages, m)
	return nil
}

func (s *MemStore) GetMessage(_ context.Context, id string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, _, ok := s.find(id)
	if !ok {
		return models.Message{}, store.ErrNotFound
	}
	return m, nil
}

func (s *MemStore) ListMessages(_ context.Context, q store.MessageQuery) ([]models.Message, error) {
	s.mu.RLock()
	visible := lo.Filter(s.messages, func(m models.Message, _ int) bool {
		return q.Match(m)
	})
	s.mu.RUnlock()

	if q.Limit > 0 && len(visible) > q.Limit {
		visible = visible[len(visible)-q.Limit:]
	}
	return visible, nil
}

func (s *MemStore) UpdateMessage(_ context.Context, id, actor, to, text string, kind models.Kind) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, i, ok := s.find(id)
	if !ok {
		return models.Message{}, store.ErrNotFound
	}
	if m.From != actor {
		return models.Message{}, store.ErrForbidden
	}
	m.To, m.Text, m.Kind = to, text, kind
	s.messages[i] = m
	return m, nil
}

func (s *MemStore) DeleteMessage(_ context.Context, id, actor string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, i, ok := s.find(id)
	if !ok {
		return models.Message{}, store.ErrNotFound
	}
	if m.From != actor {
		return models.Message{}, store.ErrForbidden
	}
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	return m, nil
}

func (s *MemStore) Close() error {
	return nil
}

// find must be called with s.mu held.
func (s *MemStore) find(id string) (models.Message, int, bool) {
	return lo.FindIndexOf(s.messages, func(m models.Message) bool {
		return m.ID == id
	})
}
