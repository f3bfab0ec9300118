package door

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	domain "github.com/engfidow/server-door-lock/internal/domain/door"
	"github.com/engfidow/server-door-lock/internal/service/broadcast"
)

var errJammed = errors.New("relay jammed")

// doneToken is a completed paho token.
type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)

	return ch
}

// message is a received paho message.
type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return qos }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 1 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

// published records one publication.
type published struct {
	topic    string
	retained bool
	payload  string
}

// fakeClient records publications and subscriptions.
type fakeClient struct {
	mu           sync.Mutex
	published    []published
	handlers     map[string]pahomqtt.MessageHandler
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload any) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	var text string

	switch p := payload.(type) {
	case []byte:
		text = string(p)
	case string:
		text = p
	}

	c.published = append(c.published, published{topic: topic, retained: retained, payload: text})

	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[topic] = callback

	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disconnected = true
}

func (c *fakeClient) deliver(topic, payload string) {
	c.mu.Lock()
	handler := c.handlers[topic]
	c.mu.Unlock()

	handler(nil, message{topic: topic, payload: []byte(payload)})
}

func (c *fakeClient) on(topic string) []published {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []published

	for _, p := range c.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}

	return out
}

// fakeService records transitions and observer registration.
type fakeService struct {
	mu         sync.Mutex
	calls      []domain.Target
	sources    []string
	err        error
	registered []string
	// delay slows unlock transitions down.
	delay time.Duration
}

func (f *fakeService) Transition(_ context.Context, target domain.Target, requestedBy string) (*domain.State, error) {
	if f.delay > 0 && target == domain.TargetUnlocked {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, target)
	f.sources = append(f.sources, requestedBy)

	if f.err != nil {
		return nil, f.err
	}

	return &domain.State{Locked: target == domain.TargetLocked, ChangedBy: requestedBy}, nil
}

// targets returns the requested transitions in order.
func (f *fakeService) targets() []domain.Target {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]domain.Target(nil), f.calls...)
}

func (f *fakeService) Connect(_ context.Context, observer broadcast.Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.registered = append(f.registered, observer.ID())
}

func (f *fakeService) Disconnect(context.Context, string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.registered = nil
}

// TestParseCommand checks accepted command payloads.
func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		payload string
		target  domain.Target
		ok      bool
	}{
		{"LOCK", domain.TargetLocked, true},
		{"unlock", domain.TargetUnlocked, true},
		{" Unlock_Door\n", domain.TargetUnlocked, true},
		{"lock_door", domain.TargetLocked, true},
		{"OPEN", domain.TargetUnlocked, true},
		{"toggle", domain.TargetLocked, false},
		{"", domain.TargetLocked, false},
	}

	for _, tt := range tests {
		target, ok := ParseCommand([]byte(tt.payload))
		require.Equal(t, tt.ok, ok, tt.payload)

		if tt.ok {
			require.Equal(t, tt.target, target, tt.payload)
		}
	}
}

// TestBridge_PublishesRetainedState verifies status events land on the state topic.
func TestBridge_PublishesRetainedState(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	bridge := NewBridge(context.Background(), client, &fakeService{}, Topics{Prefix: "home/door"})

	require.Equal(t, SourceMQTT, bridge.ID())
	require.NoError(t, bridge.Send(domain.StatusEvent{Source: "http", Locked: false}))

	require.Eventually(t, func() bool { return len(client.on("home/door/state")) == 1 }, time.Second, 5*time.Millisecond)

	got := client.on("home/door/state")[0]
	require.True(t, got.retained)

	var payload statePayload
	require.NoError(t, json.Unmarshal([]byte(got.payload), &payload))
	require.Equal(t, statePayload{Locked: false, Source: "http"}, payload)
}

// TestBridge_Commands verifies commands on the set topic run transitions and
// failures are reported on the error topic.
func TestBridge_Commands(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	svc := &fakeService{}
	bridge := NewBridge(context.Background(), client, svc, Topics{Prefix: "door"})

	require.NoError(t, bridge.subscribe())

	online := client.on("door/availability")
	require.Len(t, online, 1)
	require.Equal(t, payloadOnline, online[0].payload)
	require.True(t, online[0].retained)

	client.deliver("door/set", "UNLOCK")
	client.deliver("door/set", "bogus")

	require.Eventually(t, func() bool { return len(svc.targets()) == 1 }, time.Second, 5*time.Millisecond)

	svc.mu.Lock()
	require.Equal(t, []domain.Target{domain.TargetUnlocked}, svc.calls)
	require.Equal(t, []string{SourceMQTT}, svc.sources)
	svc.err = errJammed
	svc.mu.Unlock()

	client.deliver("door/set", "LOCK")

	require.Eventually(t, func() bool { return len(client.on("door/error")) == 1 }, time.Second, 5*time.Millisecond)

	var payload errorPayload
	require.NoError(t, json.Unmarshal([]byte(client.on("door/error")[0].payload), &payload))
	require.Equal(t, "lock", payload.Operation)
	require.Equal(t, errJammed.Error(), payload.Error)
}

// TestBridge_CommandsRunInOrder verifies commands are applied one at a time in
// arrival order, so a lock sent right after an unlock is not overtaken.
func TestBridge_CommandsRunInOrder(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	svc := &fakeService{delay: 20 * time.Millisecond}
	bridge := NewBridge(context.Background(), client, svc, Topics{Prefix: "door"})

	t.Cleanup(bridge.stop)

	require.NoError(t, bridge.subscribe())

	client.deliver("door/set", "UNLOCK")
	client.deliver("door/set", "LOCK")
	client.deliver("door/set", "UNLOCK")
	client.deliver("door/set", "LOCK")

	want := []domain.Target{domain.TargetUnlocked, domain.TargetLocked, domain.TargetUnlocked, domain.TargetLocked}

	require.Eventually(t, func() bool { return len(svc.targets()) == len(want) }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, want, svc.targets())
}

// TestBridge_Close verifies the bridge unregisters and announces going offline.
func TestBridge_Close(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	svc := &fakeService{registered: []string{SourceMQTT}}
	bridge := NewBridge(context.Background(), client, svc, Topics{Prefix: "door"})

	bridge.Close()

	require.Empty(t, svc.registered)
	require.True(t, client.disconnected)

	offline := client.on("door/availability")
	require.Len(t, offline, 1)
	require.Equal(t, payloadOffline, offline[0].payload)
}
