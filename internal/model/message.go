// Package model defines data structures for the reading room chat.
package model

// Role represents the role of a displayed message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of the displayed conversation log.
type Message struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Text string `json:"text"`

	// Pending marks the transient placeholder shown while a reply is awaited.
	Pending bool `json:"pending,omitempty"`
}

// HistoryRole is the role of an entry relayed to the generation model.
type HistoryRole string

const (
	HistoryRoleUser  HistoryRole = "user"
	HistoryRoleModel HistoryRole = "model"
)

// HistoryEntry is the role/text pair sent to the model as context.
type HistoryEntry struct {
	Role HistoryRole `json:"role"`
	Text string      `json:"text"`
}

// Snapshot is the presentation-facing view of a session.
type Snapshot struct {
	SessionID   string    `json:"session_id"`
	Version     uint64    `json:"version"`
	Messages    []Message `json:"messages"`
	IsLoading   bool      `json:"is_loading"`
	IsSending   bool      `json:"is_sending"`
	IsChatEnded bool      `json:"is_chat_ended"`
}

// SendMessageRequest is the request to submit user text to a session.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessageResponse reports whether a submission was accepted.
type SendMessageResponse struct {
	Accepted bool      `json:"accepted"`
	Session  *Snapshot `json:"session"`
}

// CreateSessionResponse is returned when a new session is opened.
type CreateSessionResponse struct {
	Session *Snapshot `json:"session"`
	Token   string    `json:"token"`
}

// TranscriptResponse lists archived messages for a session.
type TranscriptResponse struct {
	Messages     []ArchivedMessage `json:"messages"`
	HasMore      bool              `json:"has_more"`
	LastSequence uint64            `json:"last_sequence"`
}
