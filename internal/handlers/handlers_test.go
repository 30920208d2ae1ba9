package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/pliu/lounge/internal/chat"
	"github.com/pliu/lounge/internal/clock"
	"github.com/pliu/lounge/internal/middleware"
	"github.com/pliu/lounge/internal/models"
	"github.com/pliu/lounge/internal/store/sqlstore"
)

type env struct {
	participants *ParticipantHandler
	messages     *MessageHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	c := clock.Real{}
	return &env{
		participants: &ParticipantHandler{Registry: chat.NewRegistry(store, c, nil, slog.Default()), Log: slog.Default()},
		messages:     &MessageHandler{Messages: chat.NewMessages(store, c, nil, slog.Default()), Log: slog.Default()},
	}
}

func do(h http.HandlerFunc, method, target, user string, body any, vars map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if user != "" {
		req.Header.Set(middleware.UserHeader, user)
	}
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	rr := httptest.NewRecorder()
	middleware.Identity(h).ServeHTTP(rr, req)
	return rr
}

func register(t *testing.T, e *env, name string) {
	t.Helper()
	rr := do(e.participants.Register, "POST", "/participants", name, map[string]string{"name": name}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register %s: got %v want %v", name, rr.Code, http.StatusCreated)
	}
}

func post(t *testing.T, e *env, from, to, text string, kind models.Kind) models.Message {
	t.Helper()
	rr := do(e.messages.Post, "POST", "/messages", from, MessageRequest{To: to, Text: text, Type: kind}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("post: got %v want %v: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	var m models.Message
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatal(err)
	}
	return m
}

func listFor(t *testing.T, e *env, viewer, target string) []models.Message {
	t.Helper()
	rr := do(e.messages.List, "GET", target, viewer, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: got %v want %v", rr.Code, http.StatusOK)
	}
	var out []models.Message
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRegisterParticipant(t *testing.T) {
	e := newEnv(t)

	rr := do(e.participants.Register, "POST", "/participants", "Ana", map[string]string{"name": "  <b>Ana</b> "}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusCreated)
	}
	var p models.Participant
	json.NewDecoder(rr.Body).Decode(&p)
	if p.Name != "Ana" {
		t.Errorf("Expected sanitized name 'Ana', got '%s'", p.Name)
	}

	rr = do(e.participants.Register, "POST", "/participants", "Ana", map[string]string{"name": "Ana"}, nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate name: got %v want %v", rr.Code, http.StatusConflict)
	}

	rr = do(e.participants.Register, "POST", "/participants", "Ana", map[string]string{"name": "<script></script>"}, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty name: got %v want %v", rr.Code, http.StatusUnprocessableEntity)
	}

	joins := listFor(t, e, "Ana", "/messages")
	if len(joins) != 1 || joins[0].Text != "Ana has entered the room" || joins[0].Kind != models.KindStatus {
		t.Errorf("Expected one join notice, got %+v", joins)
	}
}

func TestListParticipants(t *testing.T) {
	e := newEnv(t)
	register(t, e, "Bob")
	register(t, e, "Ana")

	rr := do(e.participants.List, "GET", "/participants", "Ana", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var out []models.Participant
	json.NewDecoder(rr.Body).Decode(&out)
	if len(out) != 2 || out[0].Name != "Ana" || out[1].Name != "Bob" {
		t.Errorf("Expected [Ana Bob], got %+v", out)
	}
}

func TestKeepAlive(t *testing.T) {
	e := newEnv(t)
	register(t, e, "Ana")

	if rr := do(e.participants.KeepAlive, "POST", "/status", "Ana", nil, nil); rr.Code != http.StatusOK {
		t.Errorf("known participant: got %v want %v", rr.Code, http.StatusOK)
	}
	if rr := do(e.participants.KeepAlive, "POST", "/status", "Ghost", nil, nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown participant: got %v want %v", rr.Code, http.StatusNotFound)
	}
	if rr := do(e.participants.KeepAlive, "POST", "/status", "", nil, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("missing user: got %v want %v", rr.Code, http.StatusUnauthorized)
	}
}

func TestPostMessage(t *testing.T) {
	e := newEnv(t)
	register(t, e, "Ana")

	m := post(t, e, "Ana", models.Everyone, "hello <i>all</i>", models.KindBroadcast)
	if m.From != "Ana" || m.Text != "hello all" || m.ID == "" {
		t.Errorf("Unexpected message %+v", m)
	}

	tests := []struct {
		name string
		user string
		body MessageRequest
		want int
	}{
		{"unknown sender", "Ghost", MessageRequest{To: models.Everyone, Text: "hi", Type: models.KindBroadcast}, http.StatusUnprocessableEntity},
		{"empty text", "Ana", MessageRequest{To: models.Everyone, Text: " ", Type: models.KindBroadcast}, http.StatusUnprocessableEntity},
		{"missing recipient", "Ana", MessageRequest{Text: "hi", Type: models.KindBroadcast}, http.StatusUnprocessableEntity},
		{"status kind", "Ana", MessageRequest{To: models.Everyone, Text: "hi", Type: models.KindStatus}, http.StatusUnprocessableEntity},
		{"no identity", "", MessageRequest{To: models.Everyone, Text: "hi", Type: models.KindBroadcast}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(e.messages.Post, "POST", "/messages", tt.user, tt.body, nil)
			if rr.Code != tt.want {
				t.Errorf("got %v want %v: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestPostMalformedBody(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest("POST", "/messages", bytes.NewBufferString("{not json"))
	req.Header.Set(middleware.UserHeader, "Ana")
	rr := httptest.NewRecorder()
	middleware.Identity(http.HandlerFunc(e.messages.Post)).ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("got %v want %v", rr.Code, http.StatusBadRequest)
	}
}

func TestListMessagesVisibility(t *testing.T) {
	e := newEnv(t)
	register(t, e, "Ana")
	register(t, e, "Bob")
	register(t, e, "Carl")

	post(t, e, "Ana", "Bob", "secret", models.KindPrivate)
	post(t, e, "Ana", models.Everyone, "hi all", models.KindBroadcast)

	for viewer, want := range map[string]int{"Ana": 5, "Bob": 5, "Carl": 4} {
		got := listFor(t, e, viewer, "/messages")
		if len(got) != want {
			t.Errorf("%s: expected %d messages, got %d", viewer, want, len(got))
		}
		for _, m := range got {
			if !m.VisibleTo(viewer) {
				t.Errorf("%s received invisible message %+v", viewer, m)
			}
		}
	}

	last := listFor(t, e, "Carl", "/messages?limit=1")
	if len(last) != 1 || last[0].Text != "hi all" {
		t.Errorf("Expected last broadcast only, got %+v", last)
	}

	if rr := do(e.messages.List, "GET", "/messages?limit=abc", "Carl", nil, nil); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad limit: got %v want %v", rr.Code, http.StatusUnprocessableEntity)
	}
}

func TestUpdateMessage(t *testing.T) {
	e := newEnv(t)
	register(t, e, "Ana")
	register(t, e, "Bob")
	m := post(t, e, "Ana", models.Everyone, "draft", models.KindBroadcast)

	edit := MessageRequest{To: "Bob", Text: "final", Type: models.KindPrivate}
	vars := map[string]string{"id": m.ID}

	if rr := do(e.messages.Update, "PUT", "/messages/"+m.ID, "Bob", edit, vars); rr.Code != http.StatusUnauthorized {
		t.Errorf("non-owner: got %v want %v", rr.Code, http.StatusUnauthorized)
	}
	if rr := do(e.messages.Update, "PUT", "/messages/nope", "Ana", edit, map[string]string{"id": "nope"}); rr.Code != http.StatusNotFound {
		t.Errorf("missing id: got %v want %v", rr.Code, http.StatusNotFound)
	}

	rr := do(e.messages.Update, "PUT", "/messages/"+m.ID, "Ana", edit, vars)
	if rr.Code != http.StatusOK {
		t.Fatalf("owner: got %v want %v", rr.Code, http.StatusOK)
	}
	var updated models.Message
	json.NewDecoder(rr.Body).Decode(&updated)
	if updated.ID != m.ID || updated.Text != "final" || updated.To != "Bob" || updated.Kind != models.KindPrivate {
		t.Errorf("Unexpected update result %+v", updated)
	}
}

func TestDeleteMessage(t *testing.T) {
	e := newEnv(t)
	register(t, e, "Ana")
	register(t, e, "Bob")
	m := post(t, e, "Ana", models.Everyone, "oops", models.KindBroadcast)
	vars := map[string]string{"id": m.ID}

	if rr := do(e.messages.Delete, "DELETE", "/messages/"+m.ID, "Bob", nil, vars); rr.Code != http.StatusUnauthorized {
		t.Errorf("non-owner: got %v want %v", rr.Code, http.StatusUnauthorized)
	}
	if rr := do(e.messages.Delete, "DELETE", "/messages/"+m.ID, "Ana", nil, vars); rr.Code != http.StatusOK {
		t.Errorf("owner: got %v want %v", rr.Code, http.StatusOK)
	}
	if rr := do(e.messages.Delete, "DELETE", "/messages/"+m.ID, "Ana", nil, vars); rr.Code != http.StatusNotFound {
		t.Errorf("second delete: got %v want %v", rr.Code, http.StatusNotFound)
	}

	for _, got := range listFor(t, e, "Bob", "/messages") {
		if got.ID == m.ID {
			t.Error("Deleted message still listed")
		}
	}
}

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	Health(rr, httptest.NewRequest("GET", "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("got %v want %v", rr.Code, http.StatusOK)
	}
}

func TestSanitizeKeepsPlainText(t *testing.T) {
	e := newEnv(t)
	register(t, e, "O'Brien")

	m := post(t, e, "O'Brien", models.Everyone, "Tom & Jerry <b>x</b>", models.KindBroadcast)
	if m.From != "O'Brien" || m.Text != "Tom & Jerry x" {
		t.Errorf("Expected plain text from O'Brien, got %+v", m)
	}

	if rr := do(e.participants.KeepAlive, "POST", "/status", "O'Brien", nil, nil); rr.Code != http.StatusOK {
		t.Errorf("keep-alive: got %v want %v", rr.Code, http.StatusOK)
	}

	register(t, e, "Ana")
	post(t, e, "Ana", "O'Brien", "a < b", models.KindPrivate)
	got := listFor(t, e, "O'Brien", "/messages?limit=1")
	if len(got) != 1 || got[0].Text != "a < b" {
		t.Errorf("Expected the private message for O'Brien, got %+v", got)
	}
}

func TestGetParticipant(t *testing.T) {
	e := newEnv(t)
	register(t, e, "Ana")

	rr := do(e.participants.Get, "GET", "/participants/Ana", "Ana", nil, map[string]string{"name": "Ana"})
	if rr.Code != http.StatusOK {
		t.Fatalf("known participant: got %v want %v", rr.Code, http.StatusOK)
	}
	var p models.Participant
	json.NewDecoder(rr.Body).Decode(&p)
	if p.Name != "Ana" || p.LastSeenAt.IsZero() {
		t.Errorf("Unexpected participant %+v", p)
	}

	rr = do(e.participants.Get, "GET", "/participants/ghost", "Ana", nil, map[string]string{"name": "ghost"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown participant: got %v want %v", rr.Code, http.StatusNotFound)
	}
}

func TestGetMessage(t *testing.T) {
	e := newEnv(t)
	register(t, e, "Ana")
	register(t, e, "Bob")
	m := post(t, e, "Ana", "Bob", "secret", models.KindPrivate)
	vars := map[string]string{"id": m.ID}

	for _, viewer := range []string{"Ana", "Bob"} {
		rr := do(e.messages.Get, "GET", "/messages/"+m.ID, viewer, nil, vars)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: got %v want %v", viewer, rr.Code, http.StatusOK)
		}
	}
	if rr := do(e.messages.Get, "GET", "/messages/"+m.ID, "Carl", nil, vars); rr.Code != http.StatusNotFound {
		t.Errorf("outsider: got %v want %v", rr.Code, http.StatusNotFound)
	}
	if rr := do(e.messages.Get, "GET", "/messages/nope", "Ana", nil, map[string]string{"id": "nope"}); rr.Code != http.StatusNotFound {
		t.Errorf("missing id: got %v want %v", rr.Code, http.StatusNotFound)
	}
}
