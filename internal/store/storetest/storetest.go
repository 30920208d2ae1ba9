// Package storetest checks that a store.Store implementation honors the datastore contract.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pliu/lounge/internal/models"
	"github.com/pliu/lounge/internal/store"
	"github.com/stretchr/testify/require"
)

// Opener returns a fresh, empty datastore. It is responsible for closing it via t.Cleanup.
type Opener func(t *testing.T) store.Store

var seen = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func Run(t *testing.T, open Opener) {
	t.Run("CreateParticipant", func(t *testing.T) { testCreateParticipant(t, open(t)) })
	t.Run("CreateParticipantConcurrent", func(t *testing.T) { testCreateParticipantConcurrent(t, open(t)) })
	t.Run("TouchParticipant", func(t *testing.T) { testTouchParticipant(t, open(t)) })
	t.Run("DeleteParticipant", func(t *testing.T) { testDeleteParticipant(t, open(t)) })
	t.Run("EvictParticipant", func(t *testing.T) { testEvictParticipant(t, open(t)) })
	t.Run("InsertMessage", func(t *testing.T) { testInsertMessage(t, open(t)) })
	t.Run("ListMessagesVisibility", func(t *testing.T) { testListMessagesVisibility(t, open(t)) })
	t.Run("ListMessagesLimit", func(t *testing.T) { testListMessagesLimit(t, open(t)) })
	t.Run("UpdateMessage", func(t *testing.T) { testUpdateMessage(t, open(t)) })
	t.Run("DeleteMessage", func(t *testing.T) { testDeleteMessage(t, open(t)) })
}

func statusMessage(id, name, text string) models.Message {
	return models.Message{ID: id, From: name, To: models.Everyone, Text: text, Kind: models.KindStatus, Time: "12:00:00"}
}

func register(t *testing.T, s store.Store, name string) {
	t.Helper()
	err := s.CreateParticipant(context.Background(),
		models.Participant{Name: name, LastSeenAt: seen},
		statusMessage("join-"+name, name, name+" has entered the room"))
	require.NoError(t, err)
}

func post(t *testing.T, s store.Store, id, from, to string) models.Message {
	t.Helper()
	kind := models.KindBroadcast
	if to != models.Everyone {
		kind = models.KindPrivate
	}
	m := models.Message{ID: id, From: from, To: to, Text: "text " + id, Kind: kind, Time: "12:00:01"}
	require.NoError(t, s.InsertMessage(context.Background(), m))
	return m
}

func ids(messages []models.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func testCreateParticipant(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()

	register(t, s, "Ana")

	err := s.CreateParticipant(ctx, models.Participant{Name: "Ana", LastSeenAt: seen}, statusMessage("join-again", "Ana", "again"))
	req.ErrorIs(err, store.ErrConflict)

	p, err := s.GetParticipant(ctx, "Ana")
	req.NoError(err)
	req.Equal("Ana", p.Name)
	req.True(seen.Equal(p.LastSeenAt))

	_, err = s.GetParticipant(ctx, "ana")
	req.ErrorIs(err, store.ErrNotFound)

	messages, err := s.ListMessages(ctx, store.MessageQuery{Viewer: "someone"})
	req.NoError(err)
	req.Equal([]string{"join-Ana"}, ids(messages), "the rejected registration must not leave a join notice")

	register(t, s, "Bob")
	participants, err := s.ListParticipants(ctx)
	req.NoError(err)
	req.Len(participants, 2)
	req.Equal("Ana", participants[0].Name)
	req.Equal("Bob", participants[1].Name)
}

func testCreateParticipantConcurrent(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CreateParticipant(ctx, models.Participant{Name: "Ana", LastSeenAt: seen},
				statusMessage(fmt.Sprintf("join-%d", i), "Ana", "Ana has entered the room"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	req.Equal(1, succeeded)
	req.Equal(attempts-1, conflicts)

	messages, err := s.ListMessages(ctx, store.MessageQuery{All: true})
	req.NoError(err)
	req.Len(messages, 1)
}

func testTouchParticipant(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	register(t, s, "Ana")

	later := seen.Add(30 * time.Second)
	for i := 0; i < 3; i++ {
		req.NoError(s.TouchParticipant(ctx, "Ana", later))
	}

	p, err := s.GetParticipant(ctx, "Ana")
	req.NoError(err)
	req.True(later.Equal(p.LastSeenAt))

	participants, err := s.ListParticipants(ctx)
	req.NoError(err)
	req.Len(participants, 1)

	messages, err := s.ListMessages(ctx, store.MessageQuery{All: true})
	req.NoError(err)
	req.Len(messages, 1, "touch must not create messages")

	req.ErrorIs(s.TouchParticipant(ctx, "ghost", later), store.ErrNotFound)
}

func testDeleteParticipant(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	register(t, s, "Ana")
	register(t, s, "Bob")

	req.NoError(s.DeleteParticipant(ctx, "Ana"))

	participants, err := s.ListParticipants(ctx)
	req.NoError(err)
	req.Len(participants, 1)
	req.Equal("Bob", participants[0].Name)

	messages, err := s.ListMessages(ctx, store.MessageQuery{Viewer: "Carl"})
	req.NoError(err)
	req.Equal([]string{"join-Ana", "join-Bob"}, ids(messages), "delete is silent")

	req.ErrorIs(s.DeleteParticipant(ctx, "Ana"), store.ErrNotFound)
}

func testEvictParticipant(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	register(t, s, "Ana")
	register(t, s, "Bob")
	req.NoError(s.TouchParticipant(ctx, "Ana", seen.Add(20*time.Second)))

	cutoff := seen.Add(10 * time.Second)
	leaveAna := statusMessage("leave-Ana", "Ana", "Ana has left the room")
	req.ErrorIs(s.EvictParticipant(ctx, "Ana", cutoff, leaveAna), store.ErrActive)

	leaveBob := statusMessage("leave-Bob", "Bob", "Bob has left the room")
	req.NoError(s.EvictParticipant(ctx, "Bob", cutoff, leaveBob))

	participants, err := s.ListParticipants(ctx)
	req.NoError(err)
	req.Len(participants, 1)
	req.Equal("Ana", participants[0].Name)

	messages, err := s.ListMessages(ctx, store.MessageQuery{Viewer: "Carl"})
	req.NoError(err)
	req.Equal([]string{"join-Ana", "join-Bob", "leave-Bob"}, ids(messages))

	// Last seen exactly at the cutoff counts as stale.
	req.NoError(s.EvictParticipant(ctx, "Ana", seen.Add(20*time.Second), leaveAna))

	ghost := statusMessage("leave-ghost", "ghost", "ghost has left the room")
	req.ErrorIs(s.EvictParticipant(ctx, "ghost", cutoff, ghost), store.ErrNotFound)
	_, err = s.GetMessage(ctx, "leave-ghost")
	req.ErrorIs(err, store.ErrNotFound, "a failed eviction must not leave a departure notice")
}

func testInsertMessage(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	register(t, s, "Ana")

	m := post(t, s, "m1", "Ana", models.Everyone)
	got, err := s.GetMessage(ctx, "m1")
	req.NoError(err)
	req.Equal(m, got)

	err = s.InsertMessage(ctx, models.Message{ID: "m2", From: "ghost", To: models.Everyone, Text: "boo", Kind: models.KindBroadcast})
	req.ErrorIs(err, store.ErrUnknownSender)
	_, err = s.GetMessage(ctx, "m2")
	req.ErrorIs(err, store.ErrNotFound)
}

func testListMessagesVisibility(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	register(t, s, "Ana")
	register(t, s, "Bob")
	register(t, s, "Carl")

	post(t, s, "all", "Ana", models.Everyone)
	post(t, s, "ana-bob", "Ana", "Bob")
	post(t, s, "bob-carl", "Bob", "Carl")
	post(t, s, "carl-ana", "Carl", "Ana")

	tests := []struct {
		viewer string
		want   []string
	}{
		{"Ana", []string{"join-Ana", "join-Bob", "join-Carl", "all", "ana-bob", "carl-ana"}},
		{"Bob", []string{"join-Ana", "join-Bob", "join-Carl", "all", "ana-bob", "bob-carl"}},
		{"Carl", []string{"join-Ana", "join-Bob", "join-Carl", "all", "bob-carl", "carl-ana"}},
		{"Dora", []string{"join-Ana", "join-Bob", "join-Carl", "all"}},
	}
	for _, tt := range tests {
		messages, err := s.ListMessages(ctx, store.MessageQuery{Viewer: tt.viewer})
		req.NoError(err)
		req.Equal(tt.want, ids(messages), "viewer %s", tt.viewer)
	}

	all, err := s.ListMessages(ctx, store.MessageQuery{All: true})
	req.NoError(err)
	req.Len(all, 7)
}

func testListMessagesLimit(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	register(t, s, "Ana")
	register(t, s, "Bob")

	post(t, s, "m1", "Ana", models.Everyone)
	post(t, s, "m2", "Ana", "Bob")
	post(t, s, "m3", "Bob", models.Everyone)
	post(t, s, "m4", "Ana", "Bob")

	messages, err := s.ListMessages(ctx, store.MessageQuery{Viewer: "Carl", Limit: 2})
	req.NoError(err)
	req.Equal([]string{"m1", "m3"}, ids(messages))

	messages, err = s.ListMessages(ctx, store.MessageQuery{Viewer: "Bob", Limit: 2})
	req.NoError(err)
	req.Equal([]string{"m3", "m4"}, ids(messages))

	messages, err = s.ListMessages(ctx, store.MessageQuery{Viewer: "Bob", Limit: 100})
	req.NoError(err)
	req.Equal([]string{"join-Ana", "join-Bob", "m1", "m2", "m3", "m4"}, ids(messages))

	messages, err = s.ListMessages(ctx, store.MessageQuery{Viewer: "Bob", Limit: 0})
	req.NoError(err)
	req.Len(messages, 6)
}

func testUpdateMessage(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	register(t, s, "Ana")
	register(t, s, "Bob")
	original := post(t, s, "m1", "Ana", models.Everyone)

	_, err := s.UpdateMessage(ctx, "m1", "Bob", "Bob", "hijacked", models.KindPrivate)
	req.ErrorIs(err, store.ErrForbidden)

	_, err = s.UpdateMessage(ctx, "missing", "Ana", "Bob", "hi", models.KindPrivate)
	req.ErrorIs(err, store.ErrNotFound)

	updated, err := s.UpdateMessage(ctx, "m1", "Ana", "Bob", "edited", models.KindPrivate)
	req.NoError(err)
	req.Equal(original.ID, updated.ID)
	req.Equal(original.From, updated.From)
	req.Equal(original.Time, updated.Time)
	req.Equal("Bob", updated.To)
	req.Equal("edited", updated.Text)
	req.Equal(models.KindPrivate, updated.Kind)

	got, err := s.GetMessage(ctx, "m1")
	req.NoError(err)
	req.Equal(updated, got)

	messages, err := s.ListMessages(ctx, store.MessageQuery{Viewer: "Carl"})
	req.NoError(err)
	req.Equal([]string{"join-Ana", "join-Bob"}, ids(messages), "the edited message is now private")
}

func testDeleteMessage(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	register(t, s, "Ana")
	register(t, s, "Bob")
	post(t, s, "m1", "Ana", models.Everyone)
	post(t, s, "m2", "Ana", models.Everyone)

	_, err := s.DeleteMessage(ctx, "m1", "Bob")
	req.ErrorIs(err, store.ErrForbidden)

	deleted, err := s.DeleteMessage(ctx, "m1", "Ana")
	req.NoError(err)
	req.Equal("m1", deleted.ID)

	_, err = s.DeleteMessage(ctx, "m1", "Ana")
	req.ErrorIs(err, store.ErrNotFound)

	messages, err := s.ListMessages(ctx, store.MessageQuery{Viewer: "Bob"})
	req.NoError(err)
	req.Equal([]string{"join-Ana", "join-Bob", "m2"}, ids(messages))
}
