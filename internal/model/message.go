package model

import "time"

// Message represents a chat message
type Message struct {
	ID        int64      `json:"id,omitempty"`
	Body      string     `json:"body"`
	Username  string     `json:"username"`
	CreatedAt time.Time  `json:"created_at,omitzero"`
	DeletedAt *time.Time `json:"-"`
}

// Event types pushed over the websocket
const (
	EventMessageCreated = "message_created"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
)

// Event is used for WebSocket change notifications
type Event struct {
	Type    string    `json:"type"`
	ID      int64     `json:"id"`
	Message *Message  `json:"message,omitempty"`
	At      time.Time `json:"at"`
}
