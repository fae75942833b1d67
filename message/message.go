// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package message defines the identity-carrying JSON message kind processed
// by the consumer group.
package message

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/absmach/fluxgroup/consumer"
	"github.com/absmach/fluxgroup/storage"
	"github.com/google/uuid"
)

// DefaultStream is the processed log.
const DefaultStream = "messages:processed"

// Processed log field names.
const (
	FieldID         = "message_id"
	FieldResult     = "processing_result"
	FieldConsumerID = "processing_consumer_id"
)

var (
	ErrMissingID = errors.New("message_id is required")
	ErrInvalidID = errors.New("message_id must be a UUID")
)

// Message is the wire and log representation of a message.
type Message struct {
	ID         string `json:"message_id"`
	Result     string `json:"processing_result,omitempty"`
	ConsumerID string `json:"processing_consumer_id,omitempty"`

	// malformedID holds a message_id that was present but not a string.
	malformedID string
}

// New returns a message with a fresh random id.
func New() Message {
	return Message{ID: uuid.NewString()}
}

// Encode returns the wire payload of m.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Fields returns the processed log fields of m.
func (m Message) Fields() map[string]string {
	return map[string]string{
		FieldID:         m.ID,
		FieldResult:     m.Result,
		FieldConsumerID: m.ConsumerID,
	}
}

var _ consumer.Handler[Message] = (*Handler)(nil)

// Handler implements consumer.Handler for Message. Processed messages are
// appended to a stream.
type Handler struct {
	exec   *storage.Executor
	stream string
}

// NewHandler creates a handler recording to stream.
func NewHandler(exec *storage.Executor, stream string) *Handler {
	if stream == "" {
		stream = DefaultStream
	}
	return &Handler{
		exec:   exec,
		stream: stream,
	}
}

// Parse decodes a JSON object payload. A message_id of the wrong JSON type
// is kept for Validate to reject.
func (h *Handler) Parse(payload []byte) (Message, error) {
	var wire struct {
		ID json.RawMessage `json:"message_id"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Message{}, err
	}

	var m Message
	switch raw := bytes.TrimSpace(wire.ID); {
	case len(raw) == 0, bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &m.ID); err != nil {
			return Message{}, err
		}
	default:
		m.malformedID = string(raw)
	}
	return m, nil
}

// Validate requires a UUID message_id.
func (h *Handler) Validate(m Message) error {
	if m.malformedID != "" {
		return fmt.Errorf("%w: got %s", ErrInvalidID, m.malformedID)
	}
	if m.ID == "" {
		return ErrMissingID
	}
	if _, err := uuid.Parse(m.ID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, m.ID)
	}
	return nil
}

// Identify returns the message id.
func (h *Handler) Identify(m Message) string {
	return m.ID
}

// Process attaches a fresh processing result and the consumer id.
func (h *Handler) Process(_ context.Context, m Message, consumerID string) (Message, error) {
	m.Result = uuid.NewString()
	m.ConsumerID = consumerID
	return m, nil
}

// Record appends m to the processed log.
func (h *Handler) Record(ctx context.Context, m Message) (string, error) {
	return storage.Call(ctx, h.exec, "record", func(ctx context.Context, s storage.Store) (string, error) {
		return s.Streams().Append(ctx, h.stream, m.Fields())
	})
}

// FromEntry rebuilds a processed message from a log entry.
func FromEntry(e *storage.Entry) Message {
	return Message{
		ID:         e.Fields[FieldID],
		Result:     e.Fields[FieldResult],
		ConsumerID: e.Fields[FieldConsumerID],
	}
}
