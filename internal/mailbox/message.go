// Package mailbox moves messages between actors with at-most-once
// delivery. Boxes are shared-write but drained only by their owner.
package mailbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message kinds. Structured envelopes carry TypeText unless the sender
// set something else; undecodable input degrades to TypeRaw.
const (
	TypeText = "text"
	TypeRaw  = "raw"
)

// Message is one mailbox envelope.
type Message struct {
	ID        string            `json:"id"`
	Sender    string            `json:"sender,omitempty"`
	Recipient string            `json:"recipient"`
	Broadcast bool              `json:"broadcast,omitempty"`
	Type      string            `json:"message_type"`
	Payload   string            `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Store is a message exchange. Drain is destructive and returns messages
// in delivery order since the last drain.
type Store interface {
	// Register adds a recipient to the broadcast set. Idempotent.
	Register(ctx context.Context, name string) error
	// Recipients lists registered names in sorted order.
	Recipients(ctx context.Context) ([]string, error)
	// Send appends one message to its recipient's box.
	Send(ctx context.Context, msg Message) error
	// Broadcast delivers one copy to every registered recipient except
	// the sender, returning the number of copies delivered.
	Broadcast(ctx context.Context, msg Message) (int, error)
	// Drain removes and returns all of recipient's pending messages.
	Drain(ctx context.Context, recipient string) ([]Message, error)
	// Peek returns pending messages without removing them.
	Peek(ctx context.Context, recipient string) ([]Message, error)
	// Clear drops all boxes and the recipient registry.
	Clear(ctx context.Context) error
}

// prepare fills the bookkeeping fields a sender may omit.
func prepare(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = TypeText
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg
}

// DecodeEnvelope parses raw as a JSON envelope. Anything that does not
// decode to an envelope with a payload becomes a TypeRaw message holding
// the input verbatim, so externally injected plain strings still
// deliver.
func DecodeEnvelope(raw []byte) Message {
	var m Message
	if err := json.Unmarshal(raw, &m); err == nil && m.Payload != "" {
		if m.Type == "" {
			m.Type = TypeText
		}
		return m
	}
	return Message{Type: TypeRaw, Payload: string(raw)}
}
