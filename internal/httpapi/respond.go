package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"tradeetl/internal/multitable"
)

// Error codes of the JSON error envelope.
const (
	codeETL        = "ETL_ERROR"
	codeBadRequest = "BAD_REQUEST"
	codeInternal   = "INTERNAL_ERROR"
	codeNotFound   = "NOT_FOUND"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageResponse acknowledges a mutation.
type MessageResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg, Timestamp: s.opts.Clock.Now().UTC()})
}

// badRequest is an input error whose message is safe to echo.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return badRequest{msg: fmt.Sprintf(format, args...)}
}

// fail maps err onto the envelope. Input errors become 400 BAD_REQUEST with
// their message; anything else is logged and answered with a generic 500
// using code.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, code, action string, err error) {
	var br badRequest
	switch {
	case errors.As(err, &br):
		s.writeError(w, http.StatusBadRequest, codeBadRequest, br.msg)
	case errors.Is(err, multitable.ErrInvalidYear), errors.Is(err, multitable.ErrInvalidMode):
		s.writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	default:
		s.opts.Logger.Error(action+" failed", "path", r.URL.Path, "err", err)
		s.writeError(w, http.StatusInternalServerError, code, action+" failed")
	}
}

// yearParam parses the {year} path parameter.
func yearParam(r *http.Request) (int, error) {
	return multitable.ParseYear(chi.URLParam(r, "year"))
}

// monthValue parses an optional month (path {month} or query) into 1-12.
func monthValue(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	m, err := strconv.Atoi(raw)
	if err != nil || m < 1 || m > 12 {
		return nil, badRequestf("invalid month %q (want 1-12)", raw)
	}
	return &m, nil
}

// intQuery reads an integer query parameter bounded to [lo, hi].
func intQuery(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, badRequestf("invalid %s %q (want %d-%d)", name, raw, lo, hi)
	}
	return n, nil
}
