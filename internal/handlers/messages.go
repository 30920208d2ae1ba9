package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pliu/lounge/internal/chat"
	"github.com/pliu/lounge/internal/middleware"
	"github.com/pliu/lounge/internal/models"
)

type MessageHandler struct {
	Messages *chat.Messages
	Log      *slog.Logger
}

func (h *MessageHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !decode(w, r, &req) {
		return
	}

	m, err := h.Messages.Post(r.Context(), middleware.User(r), req.To, req.Text, req.Type)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// List returns the messages visible to the caller; ?limit=N keeps the last N.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, []string{"limit must be an integer"})
			return
		}
		limit = n
	}

	messages, err := h.Messages.ListVisibleTo(r.Context(), middleware.User(r), limit)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.Messages.Get(r.Context(), mux.Vars(r)["id"], middleware.User(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MessageHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !decode(w, r, &req) {
		return
	}

	m, err := h.Messages.Update(r.Context(), mux.Vars(r)["id"], middleware.User(r), req.To, req.Text, req.Type)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Messages.Delete(r.Context(), mux.Vars(r)["id"], middleware.User(r)); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Health reports that the process is serving.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("lounge is running"))
}
