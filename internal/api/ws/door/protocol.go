package door

import (
	"encoding/json"

	domain "github.com/engfidow/server-door-lock/internal/domain/door"
)

// Event names of the channel protocol.
const (
	EventDoorStatus     = "door_status"
	EventOperationError = "operation_error"
	EventUnlockDoor     = "unlock_door"
	EventLockDoor       = "lock_door"
)

// Message is the envelope of every frame in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StatusPayload is the data of door_status.
type StatusPayload struct {
	Locked bool   `json:"locked"`
	Source string `json:"source"`
}

// ErrorPayload is the data of operation_error.
type ErrorPayload struct {
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

// encode builds a frame for event with the given payload.
func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Message{Event: event, Data: data})
}

// encodeStatus builds a door_status frame.
func encodeStatus(event domain.StatusEvent) ([]byte, error) {
	return encode(EventDoorStatus, StatusPayload{Locked: event.Locked, Source: event.Source})
}
