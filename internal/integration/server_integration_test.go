package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	wsapi "github.com/engfidow/server-door-lock/internal/api/ws/door"
	"github.com/engfidow/server-door-lock/internal/config"
	"github.com/engfidow/server-door-lock/internal/service/common"
	"github.com/engfidow/server-door-lock/internal/service/server"
)

// gatewayResponse is the subset of the HTTP gateway reply the tests check.
type gatewayResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Locked    *bool  `json:"locked"`
	Simulated *bool  `json:"simulated"`
}

// startServer runs door-server in simulated mode on free ports and returns
// its bound addresses. The server stops when the test ends.
func startServer(t *testing.T) server.Addresses {
	t.Helper()

	// Create cancellable context for server lifecycle.
	ctx, cancel := context.WithCancel(context.Background())
	cfgPath := filepath.Join(t.TempDir(), "settings.yaml")

	settings := config.Default()
	settings.ListenAddress = "127.0.0.1:0"
	settings.GRPCAddress = "127.0.0.1:0"
	settings.Hardware.Presence = config.PresenceAbsent

	require.NoError(t, config.Save(cfgPath, settings))

	ready := make(chan server.Addresses, 1)
	done := make(chan error, 1)

	go func() {
		done <- server.Run(ctx, &server.Options{
			ConfigPath: cfgPath,
			Ready:      func(addresses server.Addresses) { ready <- addresses },
		})
	}()

	var addresses server.Addresses

	select {
	case addresses = <-ready:
	case err := <-done:
		cancel()
		require.FailNow(t, "server exited early", "error: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		require.FailNow(t, "server did not start")
	}

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	return addresses
}

// get calls a gateway endpoint and decodes the reply.
func get(t *testing.T, addr, path string) (int, gatewayResponse) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://"+addr+path, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	var body gatewayResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	return resp.StatusCode, body
}

// readStatus reads one door_status frame from the event channel.
func readStatus(t *testing.T, conn *websocket.Conn) wsapi.StatusPayload {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var msg wsapi.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, wsapi.EventDoorStatus, msg.Event)

	var payload wsapi.StatusPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))

	return payload
}

// TestServer_OpenBroadcastsAndIsIdempotent starts the real server and checks
// that opening over HTTP reaches event channel observers exactly once.
func TestServer_OpenBroadcastsAndIsIdempotent(t *testing.T) {
	t.Parallel()

	addresses := startServer(t)

	code, health := get(t, addresses.HTTP, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, health.Simulated)
	require.True(t, *health.Simulated)

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addresses.HTTP+"/ws", nil)
	require.NoError(t, err)

	_ = resp.Body.Close()

	defer func() {
		_ = conn.Close()
	}()

	initial := readStatus(t, conn)
	require.True(t, initial.Locked)
	require.Equal(t, "server", initial.Source)

	code, body := get(t, addresses.HTTP, "/open")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "success", body.Status)
	require.Equal(t, "Door unlocked", body.Message)
	require.False(t, *body.Locked)

	require.Equal(t, wsapi.StatusPayload{Locked: false, Source: "http"}, readStatus(t, conn))

	code, body = get(t, addresses.HTTP, "/open")
	require.Equal(t, http.StatusOK, code)
	require.False(t, *body.Locked)

	// A repeated open is a no-op, so the next frame comes from the lock.
	code, body = get(t, addresses.HTTP, "/lock")
	require.Equal(t, http.StatusOK, code)
	require.True(t, *body.Locked)

	require.Equal(t, wsapi.StatusPayload{Locked: true, Source: "http"}, readStatus(t, conn))
}

// TestServer_ChannelAndGRPC unlocks over the event channel and reads the
// state back through the gRPC client.
func TestServer_ChannelAndGRPC(t *testing.T) {
	t.Parallel()

	addresses := startServer(t)
	ctx := context.Background()

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addresses.HTTP+"/ws", nil)
	require.NoError(t, err)

	_ = resp.Body.Close()

	defer func() {
		_ = conn.Close()
	}()

	require.True(t, readStatus(t, conn).Locked)

	require.NoError(t, conn.WriteJSON(wsapi.Message{Event: wsapi.EventUnlockDoor}))

	unlocked := readStatus(t, conn)
	require.False(t, unlocked.Locked)
	require.Contains(t, unlocked.Source, "ws-")

	client, err := common.Dial(ctx, addresses.GRPC, common.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	defer func() {
		_ = client.Close()
	}()

	state, err := client.Status(ctx)
	require.NoError(t, err)
	require.False(t, state.Locked)
	require.Equal(t, unlocked.Source, state.ChangedBy)

	state, err = client.Lock(ctx, "tester@ci")
	require.NoError(t, err)
	require.True(t, state.Locked)

	require.Equal(t, wsapi.StatusPayload{Locked: true, Source: "grpc:tester@ci"}, readStatus(t, conn))
}
