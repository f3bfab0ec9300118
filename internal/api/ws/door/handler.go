package door

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/engfidow/server-door-lock/internal/config"
	domain "github.com/engfidow/server-door-lock/internal/domain/door"
	"github.com/engfidow/server-door-lock/internal/logger"
	"github.com/engfidow/server-door-lock/internal/service/broadcast"
)

// Service abstracts the lock operations the event channel depends on.
type Service interface {
	Transition(ctx context.Context, target domain.Target, requestedBy string) (*domain.State, error)
	Connect(ctx context.Context, observer broadcast.Observer)
	Disconnect(ctx context.Context, id string)
}

var (
	// errClientClosed is returned when sending to a disconnected client.
	errClientClosed = errors.New("websocket client closed")
	// errClientSlow is returned when a client's outbound buffer is full.
	errClientSlow = errors.New("websocket client buffer full")
	// errTooManyCommands is reported when a client queues commands faster than the relay runs them.
	errTooManyCommands = errors.New("too many pending commands")
)

// Handler upgrades HTTP requests to event channel connections.
type Handler struct {
	// ctx bounds every connection; canceling it disconnects all clients.
	ctx context.Context
	// service runs transitions and owns the observer registry.
	service Service
	// cfg tunes keep-alive and buffers.
	cfg config.WebSocket
	// upgrader performs the WebSocket handshake.
	upgrader websocket.Upgrader
}

// NewHandler creates the event channel handler. Connections are closed when ctx is done.
func NewHandler(ctx context.Context, service Service, cfg config.WebSocket) *Handler {
	return &Handler{
		ctx:     logger.WithName(ctx, "ws"),
		service: service,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				// Dashboards and mobile clients connect from arbitrary origins.
				return true
			},
		},
	}
}

// ServeHTTP implements http.Handler. It blocks for the lifetime of the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnKV(h.ctx, "WebSocket upgrade failed", "error", err)

		return
	}

	c := &client{
		id:   "ws-" + uuid.NewString(),
		conn: conn,
		send:     make(chan []byte, h.cfg.SendBuffer),
		commands: make(chan domain.Target, h.cfg.SendBuffer),
	}

	ctx, cancel := context.WithCancel(logger.WithKV(h.ctx, "connection", c.id))
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	logger.InfoKV(ctx, "WebSocket client connected", "remote_addr", r.RemoteAddr)

	go c.writePump(h.cfg)

	commandsDone := make(chan struct{})

	go func() {
		defer close(commandsDone)

		c.commandPump(ctx, h.service)
	}()

	h.service.Connect(ctx, c)

	c.readPump(ctx, h)

	close(c.commands)
	<-commandsDone

	h.service.Disconnect(ctx, c.id)
	c.close()

	logger.InfoKV(ctx, "WebSocket client disconnected")
}

// client is one event channel connection. It is the broadcast.Observer of that connection.
type client struct {
	// id identifies the connection as a requester and observer.
	id string
	// conn is the underlying WebSocket.
	conn *websocket.Conn
	// send queues outbound frames for writePump.
	send chan []byte
	// commands queues requested transitions for commandPump, in arrival order.
	commands chan domain.Target
	// mu protects closed and sending on send.
	mu sync.Mutex
	// closed is set once send is closed.
	closed bool
}

// ID implements broadcast.Observer.
func (c *client) ID() string {
	return c.id
}

// Send implements broadcast.Observer.
func (c *client) Send(event domain.StatusEvent) error {
	data, err := encodeStatus(event)
	if err != nil {
		return err
	}

	return c.enqueue(data)
}

// enqueue queues a frame without blocking.
func (c *client) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return errClientSlow
	}
}

// close stops writePump once the queued frames are flushed.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump reads client events until the connection fails or closes.
func (c *client) readPump(ctx context.Context, h *Handler) {
	deadline := h.cfg.PingInterval + h.cfg.PongTimeout

	c.conn.SetReadLimit(h.cfg.MaxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup.
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WarnKV(ctx, "WebSocket read error", "error", err)
			}

			return
		}

		//nolint:errcheck // Best-effort deadline reset.
		c.conn.SetReadDeadline(time.Now().Add(deadline))

		c.handle(ctx, frame)
	}
}

// handle decodes one inbound frame and queues the requested transition.
// Transitions run on commandPump so that keep-alive traffic is still read
// while the relay is being driven.
func (c *client) handle(ctx context.Context, frame []byte) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		logger.DebugKV(ctx, "Ignoring malformed WebSocket frame", "error", err)

		return
	}

	var target domain.Target

	switch msg.Event {
	case EventUnlockDoor:
		target = domain.TargetUnlocked
	case EventLockDoor:
		target = domain.TargetLocked
	default:
		logger.DebugKV(ctx, "Ignoring unknown WebSocket event", "event", msg.Event)

		return
	}

	select {
	case c.commands <- target:
	default:
		c.reportError(ctx, target, errTooManyCommands)
	}
}

// commandPump runs this connection's transitions one at a time, in the order
// they were received, until commands is closed.
func (c *client) commandPump(ctx context.Context, service Service) {
	for target := range c.commands {
		if _, err := service.Transition(ctx, target, c.id); err != nil {
			c.reportError(ctx, target, err)
		}
	}
}

// reportError sends operation_error to this connection only.
func (c *client) reportError(ctx context.Context, target domain.Target, cause error) {
	data, err := encode(EventOperationError, ErrorPayload{
		Operation: target.Operation(),
		Error:     cause.Error(),
	})
	if err != nil {
		return
	}

	if err := c.enqueue(data); err != nil {
		logger.WarnKV(ctx, "Operation error not delivered", "error", err)
	}
}

// writePump writes queued frames and keep-alive pings.
func (c *client) writePump(cfg config.WebSocket) {
	ticker := time.NewTicker(cfg.PingInterval)

	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below.
			c.conn.SetWriteDeadline(time.Now().Add(cfg.PongTimeout))

			if !ok {
				//nolint:errcheck // Best-effort close message.
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below.
			c.conn.SetWriteDeadline(time.Now().Add(cfg.PongTimeout))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
