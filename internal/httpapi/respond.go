package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/roach88/attend/internal/attendance"
	"github.com/roach88/attend/internal/audit"
	"github.com/roach88/attend/internal/draft"
	"github.com/roach88/attend/internal/engine"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	From    attendance.Status `json:"from,omitempty"`
	To      attendance.Status `json:"to,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates domain errors to a status and JSON body. Anything
// unrecognised is a 500 and its detail stays in the log.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.Logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorBody) {
	var ee *engine.Error
	if errors.As(err, &ee) {
		body := errorBody{Code: string(ee.Code), Message: ee.Error(), From: ee.From, To: ee.To}
		switch ee.Code {
		case engine.ErrCodeInvalidRequest, engine.ErrCodeInvalidStatus:
			return http.StatusBadRequest, body
		case engine.ErrCodePermissionDenied:
			return http.StatusForbidden, body
		case engine.ErrCodeNotFound:
			return http.StatusNotFound, body
		case engine.ErrCodeInvalidTransition, engine.ErrCodeAlreadyAdmitted:
			return http.StatusConflict, body
		case engine.ErrCodePersistenceFailure:
			return http.StatusServiceUnavailable, body
		default:
			return http.StatusInternalServerError, errorBody{Code: string(ee.Code), Message: "internal error"}
		}
	}

	var bad *badRequestError
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, errorBody{Code: "INVALID_REQUEST", Message: bad.Error()}
	case errors.Is(err, draft.ErrNotFound):
		return http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, draft.ErrInvalidSlot), errors.Is(err, draft.ErrReservedField):
		return http.StatusBadRequest, errorBody{Code: "INVALID_REQUEST", Message: err.Error()}
	case errors.Is(err, draft.ErrIncompatibleSchema):
		return http.StatusConflict, errorBody{Code: "INCOMPATIBLE_SCHEMA", Message: err.Error()}
	case errors.Is(err, audit.ErrInvalidEntry):
		return http.StatusBadRequest, errorBody{Code: "INVALID_REQUEST", Message: err.Error()}
	}
	return http.StatusInternalServerError, errorBody{Code: "INTERNAL", Message: "internal error"}
}

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// decodeJSON reads a single JSON value from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// actorFrom reads the caller's identity headers. Validation is left to the
// engines so the error codes match every other entry point.
func actorFrom(r *http.Request) attendance.Actor {
	a := attendance.Actor{
		ID:   strings.TrimSpace(r.Header.Get(HeaderActorID)),
		Name: strings.TrimSpace(r.Header.Get(HeaderActorName)),
	}
	for _, role := range strings.Split(r.Header.Get(HeaderActorRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			a.Roles = append(a.Roles, role)
		}
	}
	return a
}
