// Package bus implements AIPerf's CommLayer: pub/sub, push/pull, and
// req/rep client roles plus the three proxy brokers that decouple N-to-M
// connectivity between them (spec.md §4.1). Every wire frame is the same
// self-describing JSON envelope, carried over a gorilla/websocket
// connection — the generalization of the teacher's single-purpose
// dashboard Broadcaster (pkg/router/broadcast.go) into all six client
// roles (see SPEC_FULL.md §0, "Dependency disposition", for why this replaces the teacher's
// gRPC/protobuf stack instead of reusing it).
package bus

import (
	"encoding/json"
	"time"
)

// Envelope is the wire format for every message on the bus. It is the Go
// analog of spec.md §6's "self-describing JSON objects with a required
// discriminator field message_type".
type Envelope struct {
	MessageType       string          `json:"message_type"`
	ServiceID         string          `json:"service_id"`
	Timestamp         int64           `json:"timestamp"`
	CommandID         string          `json:"command_id,omitempty"`
	RequestID         string          `json:"request_id,omitempty"`
	TargetServiceID   string          `json:"target_service_id,omitempty"`
	TargetServiceType string          `json:"target_service_type,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`
}

// New builds an Envelope with the timestamp and payload filled in.
func New(messageType, serviceID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		MessageType: messageType,
		ServiceID:   serviceID,
		Timestamp:   time.Now().UnixNano(),
		Payload:     raw,
	}, nil
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
