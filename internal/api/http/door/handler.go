package door

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	domain "github.com/engfidow/server-door-lock/internal/domain/door"
	"github.com/engfidow/server-door-lock/internal/logger"
)

// SourceHTTP tags transitions requested over HTTP.
const SourceHTTP = "http"

// Service abstracts the lock operations the gateway depends on.
type Service interface {
	Transition(ctx context.Context, target domain.Target, requestedBy string) (*domain.State, error)
	State() *domain.State
}

// response is the JSON body of every endpoint.
type response struct {
	Status    string     `json:"status"`
	Message   string     `json:"message,omitempty"`
	Locked    *bool      `json:"locked,omitempty"`
	ChangedBy string     `json:"changed_by,omitempty"`
	ChangedAt *time.Time `json:"changed_at,omitempty"`
	Version   string     `json:"version,omitempty"`
	Simulated *bool      `json:"simulated,omitempty"`
}

// handler serves the gateway endpoints.
type handler struct {
	// service runs transitions.
	service Service
	// opts holds router options reported by /healthz.
	opts Options
}

// handleOpen unlocks the door.
func (h *handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.TargetUnlocked, "Door unlocked")
}

// handleLock locks the door.
func (h *handler) handleLock(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.TargetLocked, "Door locked")
}

// handleStatus returns the current state without touching the relay.
func (h *handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state := h.service.State()

	resp := response{
		Status:    "success",
		Locked:    &state.Locked,
		ChangedBy: state.ChangedBy,
		ChangedAt: &state.Timestamp,
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleHealth reports liveness, version and whether hardware is simulated.
func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	simulated := h.opts.Simulated

	writeJSON(w, http.StatusOK, response{
		Status:    "ok",
		Version:   h.opts.Version,
		Simulated: &simulated,
	})
}

// transition runs a transition and writes the outcome.
func (h *handler) transition(w http.ResponseWriter, r *http.Request, target domain.Target, message string) {
	state, err := h.service.Transition(r.Context(), target, SourceHTTP)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrBusy) {
			status = http.StatusServiceUnavailable
		}

		logger.WarnKV(r.Context(), "HTTP transition failed", "operation", target.Operation(), "error", err)
		writeJSON(w, status, response{
			Status:  "error",
			Message: err.Error(),
		})

		return
	}

	writeJSON(w, http.StatusOK, response{
		Status:  "success",
		Message: message,
		Locked:  &state.Locked,
	})
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	//nolint:errcheck,errchkjson // Nothing sensible to do if the client went away.
	json.NewEncoder(w).Encode(v)
}
