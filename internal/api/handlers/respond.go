package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nikhilbhutani/promptlib/internal/logging"
	"github.com/nikhilbhutani/promptlib/internal/project"
	"github.com/nikhilbhutani/promptlib/internal/prompt"
	"github.com/nikhilbhutani/promptlib/internal/webhook"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps service errors to HTTP responses. Template errors use the
// structured {ok, msg, type, loc} body so clients can point at the field.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		tplErr    *prompt.TemplateError
		valErr    *prompt.ValidationError
		renderErr *prompt.RenderError
	)
	switch {
	case errors.As(err, &tplErr):
		writeJSON(w, http.StatusBadRequest, tplErr.Detail())
	case errors.As(err, &valErr):
		writeMessage(w, http.StatusBadRequest, valErr.Error())
	case errors.Is(err, prompt.ErrNotFound), errors.Is(err, project.ErrNotFound), errors.Is(err, webhook.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, prompt.ErrVersionLocked), errors.Is(err, prompt.ErrStatusChanged):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.As(err, &renderErr):
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logging.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}
