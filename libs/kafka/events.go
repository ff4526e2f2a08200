package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Envelope struct {
	EventID       string    `json:"event_id"`
	Type          string    `json:"event_type"`
	EventVersion  int       `json:"event_version"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType lets the producer tag messages with an event_type header.
func (e Envelope) EventType() string {
	return e.Type
}

func NewEnvelope(eventType string, version int, correlationID string) (Envelope, error) {
	return NewEnvelopeWithID(uuid.NewString(), eventType, version, correlationID)
}

// NewEnvelopeWithID is used when the id must be reproducible, see
// DeterministicEventID.
func NewEnvelopeWithID(eventID, eventType string, version int, correlationID string) (Envelope, error) {
	env := Envelope{
		EventID:       eventID,
		Type:          eventType,
		EventVersion:  version,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func DeterministicEventID(parts ...string) string {
	joined := strings.Join(parts, "|")
	if joined == "" {
		return uuid.Nil.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(joined)).String()
}

func (e Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.EventVersion <= 0 {
		return fmt.Errorf("event_version must be positive")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
