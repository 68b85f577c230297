package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"QuadExplore/internal/model"
	"QuadExplore/internal/recorder"
)

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn("failed to write response", "error", err)
	}
}

// handleHealth reports overall and per-thread health. A stopped system
// answers 503 so probes notice.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := a.rt.Health()
	status := http.StatusOK
	if h.Overall == model.HealthStopped {
		status = http.StatusServiceUnavailable
	}
	a.writeJSON(w, status, h)
}

// handleState returns the latest shared state without the map.
func (a *App) handleState(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.rt.Snapshot())
}

// handleLatest retrieves the latest recorded telemetry entry.
func (a *App) handleLatest(w http.ResponseWriter, r *http.Request) {
	if a.Rec == nil {
		http.Error(w, "recorder disabled", http.StatusNotFound)
		return
	}
	body, at, err := a.Rec.Latest(recorder.BucketTelemetry)
	if errors.Is(err, recorder.ErrNoData) {
		http.Error(w, "no telemetry data", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to read telemetry", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Recorded-At", at.Format(time.RFC3339Nano))
	if _, werr := w.Write(body); werr != nil {
		a.log.Warn("failed to write telemetry", "error", werr)
	}
}

// handleTeleop accepts one operator command as JSON.
func (a *App) handleTeleop(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if cerr := r.Body.Close(); cerr != nil {
			a.log.Warn("failed to close teleop body", "error", cerr)
		}
	}()
	var c model.OperatorCommand
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&c); err != nil {
		http.Error(w, "invalid operator command", http.StatusBadRequest)
		return
	}
	c.Time = time.Now()
	if err := a.rt.PushOperator(c); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
