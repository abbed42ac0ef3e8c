package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"eegportal.org/internal/auth"
	"eegportal.org/internal/files"
	"eegportal.org/internal/obs"
	"eegportal.org/internal/peaks"
	"eegportal.org/internal/users"
)

var errEmptyBody = errors.New("request body is required")

// decodeJSON reads exactly one JSON value and rejects unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	return decodeBody(r, dst, true)
}

func decodeBody(r *http.Request, dst any, strict bool) error {
	dec := json.NewDecoder(r.Body)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
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

// writeDecodeError answers 413 for oversized bodies and 400 otherwise.
func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, err.Error())
}

func handleUserError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, users.ErrInvalidInput), errors.Is(err, users.ErrAlreadyAssigned):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, users.ErrPermissionDenied):
		writeError(w, r, http.StatusUnauthorized, "permission denied")
	case errors.Is(err, users.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, users.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusForbidden, "invalid token")
	default:
		logError(r, "user operation failed", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleFileError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, files.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, files.ErrConflict):
		writeError(w, r, http.StatusConflict, "file already exists")
	case errors.Is(err, files.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "file not found")
	default:
		logError(r, "file operation failed", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// handlePeaksError keeps the {success, error} envelope clients of /findPeaks expect.
func handlePeaksError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := http.StatusInternalServerError, "Internal Server Error"
	switch {
	case errors.Is(err, peaks.ErrInvalidInput):
		code, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, peaks.ErrTimeout):
		code, msg = http.StatusGatewayTimeout, "peak detection timed out"
	default:
		logError(r, "peak detection failed", err)
	}
	writeJSON(w, code, map[string]any{
		"success": false,
		"error":   msg,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func logError(r *http.Request, msg string, err error) {
	obs.Logger().WithError(err).WithFields(map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	}).Error(msg)
}
