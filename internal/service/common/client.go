//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	api "github.com/engfidow/server-door-lock/internal/api/grpc/door"
	"github.com/engfidow/server-door-lock/internal/config"
	domain "github.com/engfidow/server-door-lock/internal/domain/door"
)

// Client wraps a gRPC connection to door.v1.DoorService with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the door server.
	conn grpc.ClientConnInterface
	// closer releases conn, nil for borrowed connections.
	closer io.Closer

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for unary calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Dial establishes a gRPC connection to the door server.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial door server: %w", err)
	}

	client := NewClient(conn, opts...)
	client.closer = conn

	return client, nil
}

// NewClient wraps an existing connection. Close does not close it.
func NewClient(conn grpc.ClientConnInterface, opts ...Option) *Client {
	client := &Client{
		conn:        conn,
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}

	return c.closer.Close()
}

// Unlock asks the server to unlock the door on behalf of actor.
func (c *Client) Unlock(ctx context.Context, actor string) (*domain.State, error) {
	return c.transition(ctx, api.MethodUnlock, actor)
}

// Lock asks the server to lock the door on behalf of actor.
func (c *Client) Lock(ctx context.Context, actor string) (*domain.State, error) {
	return c.transition(ctx, api.MethodLock, actor)
}

// Status returns the current lock state.
func (c *Client) Status(ctx context.Context) (*domain.State, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.conn.Invoke(callCtx, api.MethodGetStatus, new(emptypb.Empty), out); err != nil {
		return nil, fmt.Errorf("get door status: %w", err)
	}

	return api.FromProtoState(out), nil
}

// Watch streams status events to handle until ctx is canceled, the server
// ends the stream, or handle returns an error. The first event is the state
// at subscription time. Watch is not subject to the call timeout.
func (c *Client) Watch(ctx context.Context, actor string, handle func(domain.StatusEvent) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &api.ServiceDesc.Streams[0], api.MethodWatch)
	if err != nil {
		return fmt.Errorf("open watch stream: %w", err)
	}

	if err = stream.SendMsg(wrapperspb.String(actor)); err != nil {
		return fmt.Errorf("send watch request: %w", err)
	}

	if err = stream.CloseSend(); err != nil {
		return fmt.Errorf("close watch request: %w", err)
	}

	for {
		event := new(structpb.Struct)
		if err = stream.RecvMsg(event); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("receive door event: %w", err)
		}

		if err = handle(api.FromProtoEvent(event)); err != nil {
			return err
		}
	}
}

// transition invokes one of the unary transition methods.
func (c *Client) transition(ctx context.Context, method, actor string) (*domain.State, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.conn.Invoke(callCtx, method, wrapperspb.String(actor), out); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	return api.FromProtoState(out), nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
