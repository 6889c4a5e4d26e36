package model

import (
	"time"
)

// EventType represents the type of session event.
type EventType string

const (
	EventTypeCreated EventType = "created"
	EventTypeError   EventType = "error"
	EventTypeEnded   EventType = "ended"
	EventTypeEvicted EventType = "evicted"
)

// SessionEvent is a lifecycle event archived alongside the transcript.
type SessionEvent struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Type      EventType         `json:"type"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ArchivedMessage is a displayed message as stored in the transcript stream.
type ArchivedMessage struct {
	SessionID string    `json:"session_id"`
	Message   Message   `json:"message"`
	CreatedAt time.Time `json:"created_at"`

	// JetStream Metadata (populated on read)
	Sequence uint64 `json:"sequence,omitempty"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
