package engine

import "github.com/kalambet/reviewqa/internal/domain"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnMessages converts conversation turns to chat messages in order.
func TurnMessages(turns []domain.Turn) []Message {
	out := make([]Message, len(turns))
	for i, t := range turns {
		role := RoleUser
		if t.Role == domain.RoleAssistant {
			role = RoleAssistant
		}
		out[i] = Message{Role: role, Content: t.Text}
	}
	return out
}

// ChatOptions holds per-call sampling parameters.
type ChatOptions struct {
	Temperature *float64
}

// WithTemperature is shorthand for a ChatOptions that only sets temperature.
func WithTemperature(t float64) *ChatOptions {
	return &ChatOptions{Temperature: &t}
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
