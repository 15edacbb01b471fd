package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind distinguishes the envelopes exchanged over a client connection.
type Kind string

const (
	KindInvoke      Kind = "invoke"
	KindResult      Kind = "result"
	KindEvent       Kind = "event"
	KindSubscribe   Kind = "subscribe"
	KindUnsubscribe Kind = "unsubscribe"
)

// Envelope is the frame for all client connection messages. ID pairs an
// invoke with its result.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	ID        string          `json:"id,omitempty"`
	Channel   Channel         `json:"channel,omitempty"`
	Channels  []Channel       `json:"channels,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Result    *Result         `json:"result,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates a host-originated push envelope.
func NewEvent(ch Channel, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Envelope{
		Kind:      KindEvent,
		Channel:   ch,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResult creates the reply to the invoke with the given id.
func NewResult(id string, ch Channel, result Result) *Envelope {
	return &Envelope{
		Kind:      KindResult,
		ID:        id,
		Channel:   ch,
		Result:    &result,
		Timestamp: time.Now().UTC(),
	}
}
