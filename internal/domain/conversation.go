package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single chat entry. Messages are append-only.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
	// OwnerID is the identity the conversation belongs to. Empty for
	// messages that are never persisted (welcome, fallback).
	OwnerID string
}

// ChatMessage reduces m to the shape sent to the completion endpoint.
func (m Message) ChatMessage() ChatMessage {
	return ChatMessage{Role: string(m.Role), Content: m.Content}
}
