package types

import "context"

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// Message represents one inbound user message or one outbound reply
type Message struct {
	ID        string
	Content   string
	Role      string // "user" or "assistant"
	ChannelID string // Source channel identifier (e.g., "telegram", "cli")
	UserID    string
	RequestID string
	Meta      map[string]interface{}
}

// Agent turns an inbound message into a reply
type Agent interface {
	Process(ctx context.Context, msg Message) (Message, error)
	Name() string
}

// Channel represents an input/output interface (Telegram, CLI, HTTP)
type Channel interface {
	Start(ctx context.Context, handler func(Message)) error
	Send(ctx context.Context, msg Message) error
	ID() string
}

// Gateway orchestrates channels and the agent
type Gateway interface {
	RegisterChannel(c Channel)
	Start(ctx context.Context) error
}
