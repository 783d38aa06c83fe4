package diagnosis

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrMalformedMessage is returned when a task message cannot be decoded.
var ErrMalformedMessage = errors.New("malformed diagnosis task message")

// TaskMessage is the body of a diagnosis task.
type TaskMessage struct {
	SessionID string   `json:"sessionId"`
	VehicleID string   `json:"vehicleId"`
	ImageRef  string   `json:"imageRef,omitempty"`
	AudioRef  string   `json:"audioRef,omitempty"`
	DTCCodes  []string `json:"dtcCodes,omitempty"`
}

// Encode renders the message as JSON.
func (m TaskMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeTaskMessage parses a task body and its session ID.
func DecodeTaskMessage(body []byte) (TaskMessage, uuid.UUID, error) {
	var m TaskMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return TaskMessage{}, uuid.Nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	id, err := uuid.Parse(m.SessionID)
	if err != nil {
		return m, uuid.Nil, fmt.Errorf("%w: session id %q: %v", ErrMalformedMessage, m.SessionID, err)
	}
	if m.VehicleID == "" {
		return m, id, fmt.Errorf("%w: missing vehicle id", ErrMalformedMessage)
	}
	return m, id, nil
}
