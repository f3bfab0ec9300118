package door

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/engfidow/server-door-lock/internal/config"
	domain "github.com/engfidow/server-door-lock/internal/domain/door"
	"github.com/engfidow/server-door-lock/internal/service/broadcast"
	"github.com/engfidow/server-door-lock/internal/service/lock"
)

// fakeService is a minimal state machine backed by a real broadcaster.
type fakeService struct {
	// hub fans events out to connected clients.
	hub *broadcast.Broadcaster
	// mu protects locked and err.
	mu sync.Mutex
	// locked is the current state.
	locked bool
	// err, when set, fails every transition.
	err error
}

// newFakeService returns a locked service.
func newFakeService() *fakeService {
	return &fakeService{hub: broadcast.New(), locked: true}
}

// Transition applies target and broadcasts it unless err is set.
func (f *fakeService) Transition(ctx context.Context, target domain.Target, requestedBy string) (*domain.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.locked = target == domain.TargetLocked
	state := &domain.State{Timestamp: time.Now(), ChangedBy: requestedBy, Locked: f.locked}
	f.hub.Publish(ctx, domain.StatusOf(state, requestedBy))

	return state, nil
}

// Connect registers the observer with the current state.
func (f *fakeService) Connect(ctx context.Context, observer broadcast.Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.hub.Register(ctx, observer, domain.StatusEvent{Source: domain.SourceServer, Locked: f.locked})
}

// Disconnect unregisters the observer.
func (f *fakeService) Disconnect(ctx context.Context, id string) {
	f.hub.Unregister(ctx, id)
}

// testConfig returns event channel settings suitable for tests.
func testConfig() config.WebSocket {
	return config.WebSocket{
		PingInterval:   time.Second,
		PongTimeout:    time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     8,
	}
}

// dial connects a WebSocket client to the test server.
func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	_ = resp.Body.Close()

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// read decodes the next frame.
func read(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))

	return msg.Event, msg.Data
}

// readStatus decodes the next frame as door_status.
func readStatus(t *testing.T, conn *websocket.Conn) StatusPayload {
	t.Helper()

	event, data := read(t, conn)
	require.Equal(t, EventDoorStatus, event)

	var status StatusPayload
	require.NoError(t, json.Unmarshal(data, &status))

	return status
}

// newServer starts a test server around a handler for svc.
func newServer(t *testing.T, svc Service) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(NewHandler(ctx, svc, testConfig()))

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return srv
}

// TestHandler_StatusOnConnect verifies a new client immediately receives the current state.
func TestHandler_StatusOnConnect(t *testing.T) {
	t.Parallel()

	srv := newServer(t, newFakeService())
	conn := dial(t, srv)

	require.Equal(t, StatusPayload{Locked: true, Source: domain.SourceServer}, readStatus(t, conn))
}

// TestHandler_UnlockBroadcasts verifies an unlock_door from one client reaches every client tagged with its id.
func TestHandler_UnlockBroadcasts(t *testing.T) {
	t.Parallel()

	srv := newServer(t, newFakeService())

	requester := dial(t, srv)
	watcher := dial(t, srv)

	readStatus(t, requester)
	readStatus(t, watcher)

	require.NoError(t, requester.WriteJSON(Message{Event: EventUnlockDoor}))

	fromRequester := readStatus(t, requester)
	fromWatcher := readStatus(t, watcher)

	require.False(t, fromRequester.Locked)
	require.True(t, strings.HasPrefix(fromRequester.Source, "ws-"))
	require.Equal(t, fromRequester, fromWatcher)

	require.NoError(t, watcher.WriteJSON(Message{Event: EventLockDoor}))

	require.True(t, readStatus(t, requester).Locked)
	require.True(t, readStatus(t, watcher).Locked)
}

// TestHandler_OperationErrorIsScoped verifies failures reach only the requesting connection.
func TestHandler_OperationErrorIsScoped(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.err = fmt.Errorf("lock door: %w", domain.ErrActuationFailed)

	srv := newServer(t, svc)

	requester := dial(t, srv)
	watcher := dial(t, srv)

	readStatus(t, requester)
	readStatus(t, watcher)

	require.NoError(t, requester.WriteJSON(Message{Event: EventLockDoor}))

	event, data := read(t, requester)
	require.Equal(t, EventOperationError, event)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(data, &payload))
	require.Equal(t, "lock", payload.Operation)
	require.Contains(t, payload.Error, "actuation failed")

	// The watcher must see nothing.
	require.NoError(t, watcher.SetReadDeadline(time.Now().Add(200*time.Millisecond)))

	_, _, err := watcher.ReadMessage()
	require.Error(t, err)
}

// TestHandler_IgnoresUnknownFrames verifies malformed and unknown frames keep the connection alive.
func TestHandler_IgnoresUnknownFrames(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := newServer(t, svc)
	conn := dial(t, srv)

	readStatus(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(Message{Event: "open_sesame"}))
	require.NoError(t, conn.WriteJSON(Message{Event: EventUnlockDoor}))

	require.False(t, readStatus(t, conn).Locked)
}

// TestHandler_DisconnectUnregisters verifies closed connections leave the registry.
func TestHandler_DisconnectUnregisters(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := newServer(t, svc)
	conn := dial(t, srv)

	readStatus(t, conn)
	require.Equal(t, 1, svc.hub.Count())

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return svc.hub.Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}

// slowActuator delays unlock writes so that a following command arrives mid-write.
type slowActuator struct{}

// Apply implements lock.Actuator.
func (slowActuator) Apply(_ context.Context, cmd domain.Command) error {
	if cmd.Value == domain.High {
		time.Sleep(20 * time.Millisecond)
	}

	return nil
}

// TestHandler_CommandsRunInOrder verifies one connection's commands are applied
// in the order they were sent, so a lock sent right after an unlock wins.
func TestHandler_CommandsRunInOrder(t *testing.T) {
	t.Parallel()

	machine := lock.New(context.Background(), slowActuator{}, broadcast.New(), lock.Options{
		Pin:    config.DefaultRelayPin,
		Policy: config.PolicyQueue,
	})
	t.Cleanup(machine.Close)

	srv := newServer(t, machine)
	conn := dial(t, srv)

	readStatus(t, conn)

	for range 5 {
		require.NoError(t, conn.WriteJSON(Message{Event: EventUnlockDoor}))
		require.NoError(t, conn.WriteJSON(Message{Event: EventLockDoor}))

		require.False(t, readStatus(t, conn).Locked)
		require.True(t, readStatus(t, conn).Locked)
		require.True(t, machine.State().Locked)
	}
}
