package chatclient

import (
	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
)

// Message is one transcript entry.
//
// For assistant replies that are still streaming, Content is the concatenation of every
// fragment received so far, in arrival order.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"ts"`
	Streaming bool   `json:"streaming"`
}

// newMessageID returns a collision-resistant client-side id.
func newMessageID() string {
	return uuid.NewString()
}
