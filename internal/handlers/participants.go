package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pliu/lounge/internal/chat"
	"github.com/pliu/lounge/internal/middleware"
	"github.com/pliu/lounge/internal/models"
)

type ParticipantHandler struct {
	Registry *chat.Registry
	Log      *slog.Logger
}

func (h *ParticipantHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.Registry.Register(r.Context(), req.Name)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ParticipantHandler) List(w http.ResponseWriter, r *http.Request) {
	participants, err := h.Registry.List(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if participants == nil {
		participants = []models.Participant{}
	}
	writeJSON(w, http.StatusOK, participants)
}

func (h *ParticipantHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Registry.Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// KeepAlive refreshes the caller's presence so the sweeper leaves them in the room.
func (h *ParticipantHandler) KeepAlive(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.Touch(r.Context(), middleware.User(r)); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
