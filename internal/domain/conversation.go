package domain

import "time"

// Role identifies the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is a persisted chat thread. Created lazily on the first
// successful message; never mutated afterwards by this core.
type Conversation struct {
	ID         string
	Title      string
	WorkflowID string
	CreatedBy  string
	CreatedAt  time.Time
}

// Message is a single persisted conversation turn. Assistant messages store
// rendered markup, not raw worker output. Display order within a conversation
// is creation-time ascending.
type Message struct {
	ID             string
	ConversationID string
	Sender         Role
	Text           string
	DocumentURL    string
	CreatedAt      time.Time
}

// LogLevel is the severity of a workflow log entry.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// WorkflowLogEntry is an append-only operational record tied to a workflow.
// The submission pipeline only ever writes these.
type WorkflowLogEntry struct {
	WorkflowID string
	Level      LogLevel
	Message    string
	Details    map[string]any
	CreatedAt  time.Time
}
