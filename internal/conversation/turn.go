package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Role says who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// Turn is one entry in a conversation. Turns are immutable once appended.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

func newTurn(role Role, text string, at time.Time) Turn {
	return Turn{ID: uuid.NewString(), Role: role, Text: text, CreatedAt: at}
}
