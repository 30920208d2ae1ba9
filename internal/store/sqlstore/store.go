package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"           // Postgres driver
	"github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pliu/lounge/internal/models"
	"github.com/pliu/lounge/internal/store"
)

type SQLStore struct {
	db         *sql.DB
	driverName string
}

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		// Every sqlite connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS participants (
		name TEXT PRIMARY KEY,
		last_seen_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		body TEXT NOT NULL,
		kind TEXT NOT NULL,
		sent_at TEXT NOT NULL
	);
	`

	if s.driverName == "postgres" {
		// Adjust for Postgres syntax
		query = strings.ReplaceAll(query, "INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY")
	}

	_, err := s.db.Exec(query)
	return err
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

// inTx runs fn in a transaction, committing when fn returns nil.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func (s *SQLStore) CreateParticipant(ctx context.Context, p models.Participant, join models.Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		query := s.rebind("SELECT EXISTS(SELECT 1 FROM participants WHERE name = ?)")
		if err := tx.QueryRowContext(ctx, query, p.Name).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return store.ErrConflict
		}

		query = s.rebind("INSERT INTO participants (name, last_seen_at) VALUES (?, ?)")
		if _, err := tx.ExecContext(ctx, query, p.Name, p.LastSeenAt.UnixNano()); err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return err
		}
		return s.insertMessage(ctx, tx, join)
	})
}

func (s *SQLStore) GetParticipant(ctx context.Context, name string) (models.Participant, error) {
	var lastSeen int64
	query := s.rebind("SELECT last_seen_at FROM participants WHERE name = ?")
	err := s.db.QueryRowContext(ctx, query, name).Scan(&lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, store.ErrNotFound
	}
	if err != nil {
		return models.Participant{}, err
	}
	return models.Participant{Name: name, LastSeenAt: time.Unix(0, lastSeen)}, nil
}

func (s *SQLStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, last_seen_at FROM participants ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		var lastSeen int64
		if err := rows.Scan(&p.Name, &lastSeen); err != nil {
			return nil, err
		}
		p.LastSeenAt = time.Unix(0, lastSeen)
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (s *SQLStore) TouchParticipant(ctx context.Context, name string, at time.Time) error {
	query := s.rebind("UPDATE participants SET last_seen_at = ? WHERE name = ?")
	result, err := s.db.ExecContext(ctx, query, at.UnixNano(), name)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func (s *SQLStore) DeleteParticipant(ctx context.Context, name string) error {
	query := s.rebind("DELETE FROM participants WHERE name = ?")
	result, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func (s *SQLStore) EvictParticipant(ctx context.Context, name string, cutoff time.Time, leave models.Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		query := s.rebind("DELETE FROM participants WHERE name = ? AND last_seen_at <= ?")
		result, err := tx.ExecContext(ctx, query, name, cutoff.UnixNano())
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists bool
			query = s.rebind("SELECT EXISTS(SELECT 1 FROM participants WHERE name = ?)")
			if err := tx.QueryRowContext(ctx, query, name).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return store.ErrActive
			}
			return store.ErrNotFound
		}
		return s.insertMessage(ctx, tx, leave)
	})
}

func (s *SQLStore) InsertMessage(ctx context.Context, m models.Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		query := s.rebind("SELECT EXISTS(SELECT 1 FROM participants WHERE name = ?)")
		if err := tx.QueryRowContext(ctx, query, m.From).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrUnknownSender
		}
		return s.insertMessage(ctx, tx, m)
	})
}

func (s *SQLStore) insertMessage(ctx context.Context, tx *sql.Tx, m models.Message) error {
	query := s.rebind("INSERT INTO messages (id, sender, recipient, body, kind, sent_at) VALUES (?, ?, ?, ?, ?, ?)")
	_, err := tx.ExecContext(ctx, query, m.ID, m.From, m.To, m.Text, string(m.Kind), m.Time)
	return err
}

const messageColumns = "id, sender, recipient, body, kind, sent_at"

func (s *SQLStore) GetMessage(ctx context.Context, id string) (models.Message, error) {
	query := s.rebind("SELECT " + messageColumns + " FROM messages WHERE id = ?")
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, store.ErrNotFound
	}
	return m, err
}

func (s *SQLStore) ListMessages(ctx context.Context, q store.MessageQuery) ([]models.Message, error) {
	var (
		where string
		args  []any
	)
	if !q.All {
		where = "WHERE recipient = ? OR recipient = ? OR sender = ?"
		args = append(args, models.Everyone, q.Viewer, q.Viewer)
	}
	// Newest first so LIMIT keeps the tail, reversed below.
	query := "SELECT " + messageColumns + " FROM messages " + where + " ORDER BY seq DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *SQLStore) UpdateMessage(ctx context.Context, id, actor, to, text string, kind models.Kind) (models.Message, error) {
	var updated models.Message
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		m, err := s.ownedMessage(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		query := s.rebind("UPDATE messages SET recipient = ?, body = ?, kind = ? WHERE id = ?")
		if _, err := tx.ExecContext(ctx, query, to, text, string(kind), id); err != nil {
			return err
		}
		m.To, m.Text, m.Kind = to, text, kind
		updated = m
		return nil
	})
	return updated, err
}

func (s *SQLStore) DeleteMessage(ctx context.Context, id, actor string) (models.Message, error) {
	var deleted models.Message
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		m, err := s.ownedMessage(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		query := s.rebind("DELETE FROM messages WHERE id = ?")
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return err
		}
		deleted = m
		return nil
	})
	return deleted, err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// ownedMessage loads a message inside tx and checks that actor wrote it.
func (s *SQLStore) ownedMessage(ctx context.Context, tx *sql.Tx, id, actor string) (models.Message, error) {
	query := s.rebind("SELECT " + messageColumns + " FROM messages WHERE id = ?")
	m, err := scanMessage(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, store.ErrNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	if m.From != actor {
		return models.Message{}, store.ErrForbidden
	}
	return m, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (models.Message, error) {
	var m models.Message
	var kind string
	if err := row.Scan(&m.ID, &m.From, &m.To, &m.Text, &kind, &m.Time); err != nil {
		return models.Message{}, err
	}
	m.Kind = models.Kind(kind)
	return m, nil
}

func expectRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}
