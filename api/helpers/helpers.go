package helpers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/services/roster"
	log "github.com/sirupsen/logrus"
)

type contextKey string

func SetContextValue(r *http.Request, key string, value any) *http.Request {
	ctx := context.WithValue(r.Context(), contextKey(key), value)
	return r.WithContext(ctx)
}

func GetFromContext(r *http.Request, key string) any {
	return r.Context().Value(contextKey(key))
}

// Bind decodes the JSON request body into out. On failure it writes a bad
// request response and returns false.
func Bind(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		WriteErrorStatus(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func WriteJSON(w http.ResponseWriter, code int, out any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.WithError(err).WithField("context", "api").Error("failed to write response")
	}
}

func WriteErrorStatus(w http.ResponseWriter, err string, code int) {
	WriteJSON(w, code, map[string]string{
		"error": err,
	})
}

// WriteError maps a service error to a status code. Unexpected errors are
// logged and reported without detail.
func WriteError(w http.ResponseWriter, err error) {
	var validationErr *db.ValidationError

	switch {
	case errors.Is(err, db.ErrNotFound):
		WriteErrorStatus(w, "not found", http.StatusNotFound)
	case errors.As(err, &validationErr):
		WriteErrorStatus(w, validationErr.Message, http.StatusBadRequest)
	case errors.Is(err, db.ErrInvalidOperation),
		errors.Is(err, db.ErrVersionConflict),
		errors.Is(err, roster.ErrAlreadyLinked),
		errors.Is(err, roster.ErrKindAlreadyBound):
		WriteErrorStatus(w, err.Error(), http.StatusConflict)
	case db.IsTransient(err):
		log.WithError(err).WithField("context", "api").Warn("store unavailable")
		WriteErrorStatus(w, "service temporarily unavailable", http.StatusServiceUnavailable)
	default:
		log.WithError(err).WithField("context", "api").Error("request failed")
		WriteErrorStatus(w, "internal error", http.StatusInternalServerError)
	}
}
