package door

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/engfidow/server-door-lock/internal/config"
	domain "github.com/engfidow/server-door-lock/internal/domain/door"
	"github.com/engfidow/server-door-lock/internal/logger"
	"github.com/engfidow/server-door-lock/internal/service/broadcast"
)

// SourceMQTT tags transitions requested over MQTT.
const SourceMQTT = "mqtt"

const (
	// qos is used for every publication and subscription.
	qos byte = 1
	// publishTimeout bounds waiting for a publication to be acknowledged.
	publishTimeout = 5 * time.Second
	// disconnectQuiesce is how long Close lets in-flight work finish, in milliseconds.
	disconnectQuiesce = 250
	// outboxSize is the number of state publications queued ahead of the broker.
	outboxSize = 16

	payloadOnline  = "online"
	payloadOffline = "offline"
)

var (
	// ErrConnectionFailed is returned when the broker cannot be reached.
	ErrConnectionFailed = errors.New("mqtt connection failed")
	// errPublishTimeout is returned when the broker does not acknowledge in time.
	errPublishTimeout = errors.New("mqtt publish timed out")
	// errOutboxFull is returned when state publications back up.
	errOutboxFull = errors.New("mqtt outbox full")
	// errTooManyCommands is reported when commands arrive faster than the relay runs them.
	errTooManyCommands = errors.New("too many pending commands")
)

// Client is the subset of the paho client the bridge uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Service abstracts the lock operations the bridge depends on.
type Service interface {
	Transition(ctx context.Context, target domain.Target, requestedBy string) (*domain.State, error)
	Connect(ctx context.Context, observer broadcast.Observer)
	Disconnect(ctx context.Context, id string)
}

// Topics names the bridge topics under a prefix.
type Topics struct {
	// Prefix is prepended to every topic.
	Prefix string
}

// State is where the retained door_status is published.
func (t Topics) State() string { return t.Prefix + "/state" }

// Set is where lock and unlock commands arrive.
func (t Topics) Set() string { return t.Prefix + "/set" }

// Error is where failed commands are reported.
func (t Topics) Error() string { return t.Prefix + "/error" }

// Availability carries online/offline, the latter through the last will.
func (t Topics) Availability() string { return t.Prefix + "/availability" }

// statePayload is published on the state topic.
type statePayload struct {
	Locked bool   `json:"locked"`
	Source string `json:"source"`
}

// errorPayload is published on the error topic.
type errorPayload struct {
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

// Bridge connects the lock service to an MQTT broker.
type Bridge struct {
	// ctx carries the logger and bounds command handling.
	ctx context.Context
	// client talks to the broker.
	client Client
	// service runs transitions and owns the observer registry.
	service Service
	// topics names the bridge topics.
	topics Topics
	// outbox queues encoded states for the publishing goroutine.
	outbox chan []byte
	// commands queues requested transitions for the command goroutine, in arrival order.
	commands chan domain.Target
	// done stops the publishing goroutine.
	done chan struct{}
	// closeOnce guards done.
	closeOnce sync.Once
}

// NewBridge creates a bridge over an already configured client and starts
// publishing queued states and running queued commands.
func NewBridge(ctx context.Context, client Client, service Service, topics Topics) *Bridge {
	b := &Bridge{
		ctx:     logger.WithName(ctx, "mqtt"),
		client:  client,
		service: service,
		topics:  topics,
		outbox:   make(chan []byte, outboxSize),
		commands: make(chan domain.Target, outboxSize),
		done:     make(chan struct{}),
	}

	go b.run()
	go b.work()

	return b
}

// Dial connects to the broker described by cfg and starts the bridge.
// Subscriptions are re-established on every reconnect.
func Dial(ctx context.Context, cfg config.MQTT, service Service) (*Bridge, error) {
	topics := Topics{Prefix: cfg.TopicPrefix}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetWill(topics.Availability(), payloadOffline, qos, true)

	// Handlers only run once Connect is called, after bridge is assigned.
	var bridge *Bridge

	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		if err := bridge.subscribe(); err != nil {
			logger.ErrorKV(bridge.ctx, "MQTT subscribe failed", "error", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.WarnKV(bridge.ctx, "MQTT connection lost", "error", err)
	})

	client := pahomqtt.NewClient(opts)
	bridge = NewBridge(ctx, client, service, topics)

	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		bridge.stop()
		client.Disconnect(0)

		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, cfg.ConnectTimeout)
	}

	if err := token.Error(); err != nil {
		bridge.stop()

		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	service.Connect(bridge.ctx, bridge)

	logger.InfoKV(bridge.ctx, "MQTT bridge connected", "broker", cfg.Broker, "prefix", cfg.TopicPrefix)

	return bridge, nil
}

// ID implements broadcast.Observer.
func (b *Bridge) ID() string {
	return SourceMQTT
}

// Send implements broadcast.Observer by queueing the retained state for publication.
func (b *Bridge) Send(event domain.StatusEvent) error {
	payload, err := json.Marshal(statePayload{Locked: event.Locked, Source: event.Source})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	select {
	case b.outbox <- payload:
		return nil
	default:
		return errOutboxFull
	}
}

// Close unregisters the bridge, marks it offline and disconnects.
func (b *Bridge) Close() {
	b.service.Disconnect(b.ctx, b.ID())
	b.stop()

	if err := b.wait(b.client.Publish(b.topics.Availability(), qos, true, payloadOffline)); err != nil {
		logger.WarnKV(b.ctx, "MQTT offline status not published", "error", err)
	}

	b.client.Disconnect(disconnectQuiesce)
}

// run publishes queued states in order until the bridge stops.
func (b *Bridge) run() {
	for {
		select {
		case <-b.done:
			return
		case payload := <-b.outbox:
			b.await(b.client.Publish(b.topics.State(), qos, true, payload), b.topics.State())
		}
	}
}

// stop ends the publishing goroutine.
func (b *Bridge) stop() {
	b.closeOnce.Do(func() { close(b.done) })
}

// subscribe listens on the command topic and announces availability.
func (b *Bridge) subscribe() error {
	if err := b.wait(b.client.Subscribe(b.topics.Set(), qos, b.onCommand)); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topics.Set(), err)
	}

	if err := b.wait(b.client.Publish(b.topics.Availability(), qos, true, payloadOnline)); err != nil {
		return fmt.Errorf("publish availability: %w", err)
	}

	return nil
}

// onCommand handles a message on the command topic.
func (b *Bridge) onCommand(_ pahomqtt.Client, msg pahomqtt.Message) {
	target, ok := ParseCommand(msg.Payload())
	if !ok {
		logger.WarnKV(b.ctx, "Ignoring unknown MQTT command", "topic", msg.Topic(), "payload", string(msg.Payload()))

		return
	}

	// Paho delivers in order and must not be blocked, so the relay is driven from work.
	select {
	case b.commands <- target:
	default:
		b.reportError(target, errTooManyCommands)
	}
}

// work runs queued commands one at a time until the bridge stops.
func (b *Bridge) work() {
	for {
		select {
		case <-b.done:
			return
		case target := <-b.commands:
			if _, err := b.service.Transition(b.ctx, target, SourceMQTT); err != nil {
				b.reportError(target, err)
			}
		}
	}
}

// reportError publishes a failed command on the error topic.
func (b *Bridge) reportError(target domain.Target, cause error) {
	payload, err := json.Marshal(errorPayload{Operation: target.Operation(), Error: cause.Error()})
	if err != nil {
		return
	}

	go b.await(b.client.Publish(b.topics.Error(), qos, false, payload), b.topics.Error())
}

// await logs a publication that failed to complete.
func (b *Bridge) await(token pahomqtt.Token, topic string) {
	if err := b.wait(token); err != nil {
		logger.WarnKV(b.ctx, "MQTT publish failed", "topic", topic, "error", err)
	}
}

// wait blocks until the token completes or publishTimeout elapses.
func (b *Bridge) wait(token pahomqtt.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return errPublishTimeout
	}

	return token.Error()
}

// ParseCommand maps a command payload to a target. Payloads are matched
// case-insensitively against LOCK/UNLOCK and the event channel names.
func ParseCommand(payload []byte) (domain.Target, bool) {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "lock", "lock_door":
		return domain.TargetLocked, true
	case "unlock", "open", "unlock_door":
		return domain.TargetUnlocked, true
	default:
		return domain.TargetLocked, false
	}
}
