package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"residencial.org/internal/audit"
	"residencial.org/internal/auth"
	"residencial.org/internal/validate"
)

// Meta is attached to every response.
type Meta struct {
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
	Version   string `json:"version"`
	RequestID string `json:"requestId"`
}

// Envelope is the body of every response.
type Envelope struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Data    any                  `json:"data,omitempty"`
	Errors  []validate.Violation `json:"errors,omitempty"`
	Meta    Meta                 `json:"meta"`
}

var errEmptyBody = errors.New("request body is required")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) meta(r *http.Request, op string) Meta {
	return Meta{
		Timestamp: a.now().UTC().Format(time.RFC3339),
		Operation: op,
		Version:   a.version,
		RequestID: RequestIDFromContext(r.Context()),
	}
}

func (a *API) respond(w http.ResponseWriter, r *http.Request, code int, op, msg string, data any) {
	writeJSON(w, code, Envelope{Success: true, Message: msg, Data: data, Meta: a.meta(r, op)})
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, code int, op, msg string, violations []validate.Violation) {
	writeJSON(w, code, Envelope{Success: false, Message: msg, Errors: violations, Meta: a.meta(r, op)})
}

// respondError maps domain errors onto status codes. Anything unrecognised is a 500.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		verr   *validate.Error
		dup    *auth.DuplicateFieldError
		locked *auth.LockedError
	)
	switch {
	case errors.As(err, &verr):
		a.fail(w, r, http.StatusBadRequest, op, "Validation failed", verr.Violations)
	case errors.As(err, &dup):
		msg := "Duplicate value"
		if dup.Field != "" {
			msg = fmt.Sprintf("Duplicate value for %s", dup.Field)
		}
		a.fail(w, r, http.StatusConflict, op, msg, []validate.Violation{{Field: dup.Field, Message: "already exists"}})
	case errors.As(err, &locked):
		writeJSON(w, http.StatusLocked, Envelope{
			Message: "Account is locked",
			Data:    map[string]any{"locked_until": locked.Until.UTC()},
			Meta:    a.meta(r, op),
		})
	case errors.Is(err, auth.ErrAccountLocked):
		a.fail(w, r, http.StatusLocked, op, "Account is locked", nil)
	case errors.Is(err, auth.ErrUserNotFound):
		a.fail(w, r, http.StatusNotFound, op, "User not found", nil)
	case errors.Is(err, auth.ErrInvalidPassword):
		a.fail(w, r, http.StatusUnauthorized, op, "Invalid password", nil)
	case errors.Is(err, auth.ErrNoPasswordConfigured):
		a.fail(w, r, http.StatusBadRequest, op, "No password configured for this account", nil)
	case errors.Is(err, auth.ErrInvalidOrExpiredRefreshToken):
		a.fail(w, r, http.StatusUnauthorized, op, "Invalid or expired refresh token", nil)
	case errors.Is(err, auth.ErrInvalidSession):
		a.fail(w, r, http.StatusUnauthorized, op, "Invalid or expired session", nil)
	case errors.Is(err, auth.ErrForbidden):
		a.fail(w, r, http.StatusForbidden, op, "Insufficient permissions", nil)
	case errors.Is(err, auth.ErrNotFound):
		a.fail(w, r, http.StatusNotFound, op, "Resource not found", nil)
	case errors.Is(err, audit.ErrInvalidRetention):
		a.fail(w, r, http.StatusBadRequest, op, "Validation failed", []validate.Violation{{Field: "days", Message: "must be at least 1"}})
	default:
		a.logger.Error("request failed",
			zap.String("operation", op),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		a.fail(w, r, http.StatusInternalServerError, op, "Internal server error", nil)
	}
}

// decodeJSON reads exactly one JSON object and rejects unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, op string, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		a.decodeFailed(w, r, op, err)
		return false
	}
	return true
}

func (a *API) decodeFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	a.fail(w, r, http.StatusBadRequest, op, "Invalid request body", []validate.Violation{{Field: "body", Message: err.Error()}})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	if v < min || v > max {
		return 0, fmt.Errorf("must be between %d and %d", min, max)
	}
	return v, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates, interpreted as UTC midnight.
func parseTime(raw string) (*time.Time, error) {
	t, _, err := parseInstant(raw)
	return t, err
}

// parseUntil parses an exclusive upper bound. A plain date covers the whole
// day, so it becomes midnight of the following day.
func parseUntil(raw string) (*time.Time, error) {
	t, dateOnly, err := parseInstant(raw)
	if err != nil || t == nil || !dateOnly {
		return t, err
	}
	next := t.AddDate(0, 0, 1)
	return &next, nil
}

func parseInstant(raw string) (*time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, false, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, false, errors.New("must be an RFC 3339 timestamp or a YYYY-MM-DD date")
	}
	return &t, true, nil
}

func parseBool(raw string) (bool, error) {
	if strings.TrimSpace(raw) == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
