package door

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	domain "github.com/engfidow/server-door-lock/internal/domain/door"
	"github.com/engfidow/server-door-lock/internal/logger"
	"github.com/engfidow/server-door-lock/internal/service/broadcast"
)

// watchBuffer is the per-stream outbound event buffer.
const watchBuffer = 16

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	Transition(ctx context.Context, target domain.Target, requestedBy string) (*domain.State, error)
	State() *domain.State
	Connect(ctx context.Context, observer broadcast.Observer)
	Disconnect(ctx context.Context, id string)
}

// Server implements door.v1.DoorService.
type Server struct {
	// service provides the business logic for door operations.
	service Service
}

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// Unlock releases the door.
func (s *Server) Unlock(ctx context.Context, requester *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.transition(ctx, domain.TargetUnlocked, requester)
}

// Lock secures the door.
func (s *Server) Lock(ctx context.Context, requester *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.transition(ctx, domain.TargetLocked, requester)
}

// GetStatus returns the current door state.
func (s *Server) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return toProtoState(s.service.State()), nil
}

// Watch streams door_status events, starting with the current state, until the client leaves.
func (s *Server) Watch(requester *wrapperspb.StringValue, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()

	w := &watcher{
		id:     requesterID(requester) + "/watch-" + uuid.NewString(),
		events: make(chan domain.StatusEvent, watchBuffer),
	}

	s.service.Connect(ctx, w)
	defer s.service.Disconnect(ctx, w.id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-w.events:
			if err := stream.Send(toProtoEvent(event)); err != nil {
				logger.DebugKV(ctx, "Watch stream closed", "observer", w.id, "error", err)

				return err
			}
		}
	}
}

// transition runs a transition and maps failures to gRPC status codes.
func (s *Server) transition(
	ctx context.Context,
	target domain.Target,
	requester *wrapperspb.StringValue,
) (*structpb.Struct, error) {
	state, err := s.service.Transition(ctx, target, requesterID(requester))
	if err != nil {
		return nil, toStatusError(err)
	}

	return toProtoState(state), nil
}

// requesterID tags gRPC requesters so they are distinguishable from other channels.
func requesterID(requester *wrapperspb.StringValue) string {
	if requester.GetValue() == "" {
		return "grpc"
	}

	return "grpc:" + requester.GetValue()
}

// toStatusError maps domain errors onto gRPC status codes.
func toStatusError(err error) error {
	switch {
	case errors.Is(err, domain.ErrBusy):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toProtoState converts a domain state into its Struct representation.
func toProtoState(state *domain.State) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"locked": structpb.NewBoolValue(state.Locked),
	}

	if state.ChangedBy != "" {
		fields["changed_by"] = structpb.NewStringValue(state.ChangedBy)
	}

	if !state.Timestamp.IsZero() {
		fields["changed_at"] = structpb.NewStringValue(state.Timestamp.UTC().Format(time.RFC3339Nano))
	}

	return &structpb.Struct{Fields: fields}
}

// toProtoEvent converts a status event into its Struct representation.
func toProtoEvent(event domain.StatusEvent) *structpb.Struct {
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"event":  structpb.NewStringValue("door_status"),
			"locked": structpb.NewBoolValue(event.Locked),
			"source": structpb.NewStringValue(event.Source),
		},
	}
}

// FromProtoState converts a Struct returned by Unlock, Lock or GetStatus back into a state.
func FromProtoState(s *structpb.Struct) *domain.State {
	fields := s.GetFields()

	state := &domain.State{
		Locked:    fields["locked"].GetBoolValue(),
		ChangedBy: fields["changed_by"].GetStringValue(),
	}

	if ts, err := time.Parse(time.RFC3339Nano, fields["changed_at"].GetStringValue()); err == nil {
		state.Timestamp = ts
	}

	return state
}

// FromProtoEvent converts a Struct received from Watch back into a status event.
func FromProtoEvent(s *structpb.Struct) domain.StatusEvent {
	fields := s.GetFields()

	return domain.StatusEvent{
		Source: fields["source"].GetStringValue(),
		Locked: fields["locked"].GetBoolValue(),
	}
}

// watcher is the broadcast.Observer of one Watch stream.
type watcher struct {
	// id identifies the stream in the observer registry.
	id string
	// events queues status events for the stream loop.
	events chan domain.StatusEvent
}

// errWatcherSlow is returned when a Watch stream cannot keep up.
var errWatcherSlow = errors.New("watch stream buffer full")

// ID implements broadcast.Observer.
func (w *watcher) ID() string {
	return w.id
}

// Send implements broadcast.Observer.
func (w *watcher) Send(event domain.StatusEvent) error {
	select {
	case w.events <- event:
		return nil
	default:
		return errWatcherSlow
	}
}
