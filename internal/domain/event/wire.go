package event

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// WireMessage is the JSON envelope written to client sessions. The dispatcher
// serializes it exactly once per event; the resulting buffer is immutable and
// shared by every session outbox.
type WireMessage struct {
	MessageID     string    `json:"messageId"`
	MessageType   string    `json:"messageType"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Payload       any       `json:"payload,omitempty"`
}

// EncodeWire builds and serializes an outbound message.
func EncodeWire(messageType, correlationID string, payload any) ([]byte, error) {
	return json.Marshal(&WireMessage{
		MessageID:     uuid.NewString(),
		MessageType:   messageType,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       payload,
	})
}
