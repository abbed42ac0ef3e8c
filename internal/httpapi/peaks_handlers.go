package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"eegportal.org/internal/obs"
	"eegportal.org/internal/peaks"
)

type findPeaksRequest struct {
	Data json.RawMessage `json:"data"`
}

func (a *API) handleFindPeaks(w http.ResponseWriter, r *http.Request) {
	var req findPeaksRequest
	if err := decodeBody(r, &req, false); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDecodeError(w, r, err)
			return
		}
		writePeaksInvalid(w)
		return
	}
	raw := bytes.TrimSpace(req.Data)
	if len(raw) == 0 || raw[0] != '[' {
		writePeaksInvalid(w)
		return
	}
	var signals []peaks.Signal
	if err := json.Unmarshal(raw, &signals); err != nil {
		writePeaksInvalid(w)
		return
	}
	if err := peaks.Validate(signals); err != nil {
		obs.ObservePeakDetection("invalid", 0)
		handlePeaksError(w, r, err)
		return
	}
	if a.detector == nil {
		handlePeaksError(w, r, errors.New("peak detector not configured"))
		return
	}

	start := time.Now()
	result, err := a.detector.Detect(r.Context(), signals)
	elapsed := time.Since(start)
	if err != nil {
		switch {
		case errors.Is(err, peaks.ErrInvalidInput):
			obs.ObservePeakDetection("invalid", elapsed)
		case errors.Is(err, peaks.ErrTimeout):
			obs.ObservePeakDetection("timeout", elapsed)
		default:
			obs.ObservePeakDetection("error", elapsed)
		}
		handlePeaksError(w, r, err)
		return
	}
	obs.ObservePeakDetection("ok", elapsed)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    result,
	})
}

func writePeaksInvalid(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"error":   "Invalid data format",
	})
}
