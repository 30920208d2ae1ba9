// Package badgerstore persists participants and messages in BadgerDB.
//
// Key layout:
//
//	participant:{name}   participant record
//	msg:{seq}            message record, seq zero padded to 20 digits so keys sort in creation order
//	msgid:{id}           secondary index from message id to its msg: key
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pliu/lounge/internal/models"
	"github.com/pliu/lounge/internal/store"
)

const (
	participantPrefix = "participant:"
	messagePrefix     = "msg:"
	messageIDPrefix   = "msgid:"
	sequenceKey       = "seq:msg"

	maxConflictRetries = 5
)

type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
}

// New opens the database at path. An empty path keeps everything in memory.
func New(path string, log *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte(sequenceKey), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq, log: log}, nil
}

type participantRecord struct {
	Name       string `json:"name"`
	LastSeenAt int64  `json:"last_seen_at"`
}

func participantKey(name string) []byte {
	return []byte(participantPrefix + name)
}

func messageIDKey(id string) []byte {
	return []byte(messageIDPrefix + id)
}

// update retries fn when a concurrent transaction wrote the same keys.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	for attempt := 1; ; attempt++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt == maxConflictRetries {
			return err
		}
		s.log.Debug("Badger transaction conflict, retrying", "attempt", attempt)
	}
}

func (s *BadgerStore) nextMessageKey() ([]byte, error) {
	n, err := s.seq.Next()
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%s%020d", messagePrefix, n)), nil
}

func (s *BadgerStore) CreateParticipant(_ context.Context, p models.Participant, join models.Message) error {
	key, err := s.nextMessageKey()
	if err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(participantKey(p.Name)); err == nil {
			return store.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setParticipant(txn, p); err != nil {
			return err
		}
		return setMessage(txn, key, join)
	})
}

func (s *BadgerStore) GetParticipant(_ context.Context, name string) (models.Participant, error) {
	var p models.Participant
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = getParticipant(txn, name)
		return err
	})
	return p, err
}

func (s *BadgerStore) ListParticipants(_ context.Context) ([]models.Participant, error) {
	var participants []models.Participant
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(participantPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				p, err := decodeParticipant(val)
				if err != nil {
					return err
				}
				participants = append(participants, p)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return participants, err
}

func (s *BadgerStore) TouchParticipant(_ context.Context, name string, at time.Time) error {
	return s.update(func(txn *badger.Txn) error {
		p, err := getParticipant(txn, name)
		if err != nil {
			return err
		}
		p.LastSeenAt = at
		return setParticipant(txn, p)
	})
}

func (s *BadgerStore) DeleteParticipant(_ context.Context, name string) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := getParticipant(txn, name); err != nil {
			return err
		}
		return txn.Delete(participantKey(name))
	})
}

// EvictParticipant reads the participant inside the transaction, so a concurrent
// touch either lands first and is seen here, or makes the commit conflict and retry.
func (s *BadgerStore) EvictParticipant(_ context.Context, name string, cutoff time.Time, leave models.Message) error {
	key, err := s.nextMessageKey()
	if err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		p, err := getParticipant(txn, name)
		if err != nil {
			return err
		}
		if p.LastSeenAt.After(cutoff) {
			return store.ErrActive
		}
		if err := txn.Delete(participantKey(name)); err != nil {
			return err
		}
		return setMessage(txn, key, leave)
	})
}

func (s *BadgerStore) InsertMessage(_ context.Context, m models.Message) error {
	key, err := s.nextMessageKey()
	if err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		if _, err := getParticipant(txn, m.From); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return store.ErrUnknownSender
			}
			return err
		}
		return setMessage(txn, key, m)
	})
}

func (s *BadgerStore) GetMessage(_ context.Context, id string) (models.Message, error) {
	var m models.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		_, m, err = getMessage(txn, id)
		return err
	})
	return m, err
}

// ListMessages walks the msg: keys newest first, so a limit stops the scan early.
func (s *BadgerStore) ListMessages(_ context.Context, q store.MessageQuery) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if q.Limit > 0 && len(messages) == q.Limit {
				break
			}
			var m models.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			if q.Match(m) {
				messages = append(messages, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *BadgerStore) UpdateMessage(_ context.Context, id, actor, to, text string, kind models.Kind) (models.Message, error) {
	var updated models.Message
	err := s.update(func(txn *badger.Txn) error {
		key, m, err := getMessage(txn, id)
		if err != nil {
			return err
		}
		if m.From != actor {
			return store.ErrForbidden
		}
		m.To, m.Text, m.Kind = to, text, kind
		updated = m
		return setMessage(txn, key, m)
	})
	return updated, err
}

func (s *BadgerStore) DeleteMessage(_ context.Context, id, actor string) (models.Message, error) {
	var deleted models.Message
	err := s.update(func(txn *badger.Txn) error {
		key, m, err := getMessage(txn, id)
		if err != nil {
			return err
		}
		if m.From != actor {
			return store.ErrForbidden
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		deleted = m
		return txn.Delete(messageIDKey(id))
	})
	return deleted, err
}

func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.log.Warn("Failed to release message sequence", "err", err)
	}
	return s.db.Close()
}

func getParticipant(txn *badger.Txn, name string) (models.Participant, error) {
	item, err := txn.Get(participantKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Participant{}, store.ErrNotFound
	}
	if err != nil {
		return models.Participant{}, err
	}
	var p models.Participant
	err = item.Value(func(val []byte) error {
		p, err = decodeParticipant(val)
		return err
	})
	return p, err
}

func setParticipant(txn *badger.Txn, p models.Participant) error {
	data, err := json.Marshal(participantRecord{Name: p.Name, LastSeenAt: p.LastSeenAt.UnixNano()})
	if err != nil {
		return err
	}
	return txn.Set(participantKey(p.Name), data)
}

func decodeParticipant(val []byte) (models.Participant, error) {
	var record participantRecord
	if err := json.Unmarshal(val, &record); err != nil {
		return models.Participant{}, err
	}
	return models.Participant{Name: record.Name, LastSeenAt: time.Unix(0, record.LastSeenAt)}, nil
}

// getMessage resolves id through the msgid: index and returns the msg: key with the record.
func getMessage(txn *badger.Txn, id string) ([]byte, models.Message, error) {
	item, err := txn.Get(messageIDKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, models.Message{}, store.ErrNotFound
	}
	if err != nil {
		return nil, models.Message{}, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return nil, models.Message{}, err
	}

	item, err = txn.Get(key)
	if err != nil {
		return nil, models.Message{}, err
	}
	var m models.Message
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &m)
	})
	return key, m, err
}

func setMessage(txn *badger.Txn, key []byte, m models.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := txn.Set(key, data); err != nil {
		return err
	}
	return txn.Set(messageIDKey(m.ID), key)
}
