package door

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/engfidow/server-door-lock/internal/domain/door"
)

// fakeService implements Service with a plain state and an optional error.
type fakeService struct {
	// state is the current state.
	state *domain.State
	// err is returned by Transition.
	err error
	// requests records the targets and requesters of Transition calls.
	requests []string
}

// Transition records the call and applies target unless err is set.
func (f *fakeService) Transition(_ context.Context, target domain.Target, requestedBy string) (*domain.State, error) {
	f.requests = append(f.requests, target.Operation()+":"+requestedBy)

	if f.err != nil {
		return nil, f.err
	}

	f.state = &domain.State{
		Timestamp: time.Now(),
		ChangedBy: requestedBy,
		Locked:    target == domain.TargetLocked,
	}

	return f.state, nil
}

// State returns the current state.
func (f *fakeService) State() *domain.State { return f.state }

// do performs a GET against the router and decodes the JSON body.
func do(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	return rec.Code, body
}

// TestOpenAndLock verifies the success bodies of the historic endpoints.
func TestOpenAndLock(t *testing.T) {
	t.Parallel()

	svc := &fakeService{state: domain.NewState()}
	h := NewRouter(svc, Options{})

	code, body := do(t, h, "/open")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]any{"status": "success", "message": "Door unlocked", "locked": false}, body)

	code, body = do(t, h, "/lock")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]any{"status": "success", "message": "Door locked", "locked": true}, body)

	require.Equal(t, []string{"unlock:http", "lock:http"}, svc.requests)
}

// TestTransitionErrors verifies actuation failures map to 500 and busy to 503.
func TestTransitionErrors(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		state: domain.NewState(),
		err:   fmt.Errorf("lock door: %w", domain.ErrActuationFailed),
	}
	h := NewRouter(svc, Options{})

	code, body := do(t, h, "/lock")
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "error", body["status"])
	require.Contains(t, body["message"], "actuation failed")
	require.NotContains(t, body, "locked")

	svc.err = domain.ErrBusy

	code, body = do(t, h, "/open")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "error", body["status"])
}

// TestStatusAndHealth verifies the read-only endpoints.
func TestStatusAndHealth(t *testing.T) {
	t.Parallel()

	svc := &fakeService{state: &domain.State{Timestamp: time.Now(), ChangedBy: "ws-1", Locked: false}}
	h := NewRouter(svc, Options{Simulated: true, Version: "1.2.3"})

	code, body := do(t, h, "/status")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["locked"])
	require.Equal(t, "ws-1", body["changed_by"])
	require.NotEmpty(t, body["changed_at"])

	code, body = do(t, h, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "1.2.3", body["version"])
	require.Equal(t, true, body["simulated"])
	require.Empty(t, svc.requests)
}

// TestWebSocketMount verifies /ws reaches the provided handler only when configured.
func TestWebSocketMount(t *testing.T) {
	t.Parallel()

	svc := &fakeService{state: domain.NewState()}

	rec := httptest.NewRecorder()
	NewRouter(svc, Options{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	rec = httptest.NewRecorder()
	NewRouter(svc, Options{WebSocket: ws}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
}
