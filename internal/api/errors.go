package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/introcoach/internal/app"
	"github.com/MrWong99/introcoach/internal/coach"
	"github.com/MrWong99/introcoach/internal/observe"
	"github.com/MrWong99/introcoach/pkg/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Details: err.Error()})
		return false
	}
	return true
}

// writeAppError maps an operation error to a status code. Input problems
// are 400, an unreachable backend is 502 and an unusable backend answer is
// 500 "analysis failed".
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	log := observe.Logger(r.Context())

	var (
		reqErr   *coach.RequestError
		parseErr *coach.ParseError
	)
	switch {
	case errors.Is(err, coach.ErrEmptyTranscript),
		errors.Is(err, coach.ErrMissingInput),
		errors.Is(err, coach.ErrInvalidPersona),
		errors.Is(err, app.ErrUnknownPersona):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "take not found")
	case errors.Is(err, app.ErrNoLLM):
		writeError(w, http.StatusServiceUnavailable, "evaluation backend not configured")
	case errors.As(err, &parseErr):
		log.Warn("unparseable backend response", "op", parseErr.Op, "raw", parseErr.Raw, "err", parseErr.Err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "analysis failed", Details: parseErr.Err.Error()})
	case errors.As(err, &reqErr):
		log.Warn("backend request failed", "op", reqErr.Op, "err", reqErr.Err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "evaluation backend unavailable", Details: reqErr.Err.Error()})
	default:
		log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// logger is a shorthand used by handlers that log without failing.
func logger(r *http.Request) *slog.Logger { return observe.Logger(r.Context()) }
