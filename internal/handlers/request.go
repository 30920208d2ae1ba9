package handlers

import (
	"encoding/json"
	"errors"
	"html"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pliu/lounge/internal/models"
	"github.com/pliu/lounge/internal/store"
)

var (
	validate = validator.New()
	strip    = bluemonday.StrictPolicy()
)

type RegisterRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

type MessageRequest struct {
	To   string      `json:"to" validate:"required,max=64"`
	Text string      `json:"text" validate:"required,max=2000"`
	Type models.Kind `json:"type" validate:"required,oneof=broadcast_message private_message"`
}

// sanitize removes every HTML tag and surrounding whitespace. The policy escapes
// what it keeps, so the result is unescaped back to plain text.
func sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(strip.Sanitize(s)))
}

func (r *RegisterRequest) sanitize() {
	r.Name = sanitize(r.Name)
}

func (r *MessageRequest) sanitize() {
	r.To = sanitize(r.To)
	r.Text = sanitize(r.Text)
}

// decode reads a JSON body, sanitizes it and validates the result.
// It writes the error response itself and reports whether the handler may go on.
func decode[T interface{ sanitize() }](w http.ResponseWriter, r *http.Request, req T) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	req.sanitize()
	if err := validate.Struct(req); err != nil {
		writeValidation(w, err)
		return false
	}
	return true
}

func writeValidation(w http.ResponseWriter, err error) {
	var details []string
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details = append(details, fe.Error())
		}
	} else {
		details = []string{err.Error()}
	}
	writeJSON(w, http.StatusUnprocessableEntity, details)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps core errors to HTTP statuses.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "Name already taken", http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, store.ErrForbidden):
		http.Error(w, "Not the author of this message", http.StatusUnauthorized)
	case errors.Is(err, store.ErrUnknownSender):
		http.Error(w, "Sender is not a participant", http.StatusUnprocessableEntity)
	case errors.Is(err, store.ErrValidation):
		writeValidation(w, err)
	default:
		log.Error("Request failed", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
