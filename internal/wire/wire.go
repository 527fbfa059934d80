// Package wire defines the line-delimited JSON envelope exchanged between the
// daemon and its remote clients. All four message kinds share one
// discriminant so a single decode pass can route any incoming frame.
package wire

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the four envelope types.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
	KindSync     Kind = "sync"
)

// Envelope is one frame on the wire. Fields are populated per kind:
//
//	request:  ID, Channel (operation name), Arguments
//	response: ID, Success, Data or ErrorMessage
//	event:    Channel, Payload
//	sync:     Snapshot
type Envelope struct {
	Kind         Kind              `json:"kind"`
	ID           uint64            `json:"id,omitempty"`
	Channel      string            `json:"channel,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
	Success      *bool             `json:"success,omitempty"`
	Data         json.RawMessage   `json:"data,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	Snapshot     *Snapshot         `json:"snapshot,omitempty"`
}

// Snapshot is the one-time state dump a backend sends first on every physical
// connection so a joining client can reconstruct context without replaying
// history.
type Snapshot struct {
	SessionActive   bool            `json:"sessionActive"`
	ActiveSessionID string          `json:"activeSessionId,omitempty"`
	BufferedOutput  []byte          `json:"bufferedOutput,omitempty"`
	Sessions        json.RawMessage `json:"sessions,omitempty"`
	Config          json.RawMessage `json:"config,omitempty"`
	BackendPort     int             `json:"backendPort"`
	ActiveProject   string          `json:"activeProject,omitempty"`
}

// Request builds a request envelope for the given correlation id.
func Request(id uint64, channel string, args []json.RawMessage) *Envelope {
	return &Envelope{Kind: KindRequest, ID: id, Channel: channel, Arguments: args}
}

// SuccessResponse builds a success response for a request id.
func SuccessResponse(id uint64, data json.RawMessage) *Envelope {
	ok := true
	return &Envelope{Kind: KindResponse, ID: id, Success: &ok, Data: data}
}

// ErrorResponse builds a failure response carrying the backend's message.
func ErrorResponse(id uint64, msg string) *Envelope {
	ok := false
	return &Envelope{Kind: KindResponse, ID: id, Success: &ok, ErrorMessage: msg}
}

// Event builds an event envelope.
func Event(channel string, payload json.RawMessage) *Envelope {
	return &Envelope{Kind: KindEvent, Channel: channel, Payload: payload}
}

// Sync builds a sync envelope.
func Sync(snap *Snapshot) *Envelope {
	return &Envelope{Kind: KindSync, Snapshot: snap}
}

// Encode marshals the envelope followed by a newline, ready to write as one
// frame.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses one frame. It validates the discriminant but nothing else;
// per-kind field checks belong to the consumer.
func Decode(line []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	switch env.Kind {
	case KindRequest, KindResponse, KindEvent, KindSync:
		return &env, nil
	default:
		return nil, fmt.Errorf("unknown envelope kind %q", env.Kind)
	}
}
