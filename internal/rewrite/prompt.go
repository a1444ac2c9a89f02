package rewrite

import (
	"github.com/kalambet/reviewqa/internal/domain"
	"github.com/kalambet/reviewqa/internal/engine"
)

const systemPrompt = "Given the chat history and user question, rewrite it as a standalone question. " +
	"Reply with the rewritten question only. Do not answer it."

// BuildPrompt constructs the chat messages for query rewriting: the
// instruction, the prior turns in order, then the new question.
func BuildPrompt(history []domain.Turn, question string) []engine.Message {
	messages := make([]engine.Message, 0, len(history)+2)
	messages = append(messages, engine.Message{Role: engine.RoleSystem, Content: systemPrompt})
	messages = append(messages, engine.TurnMessages(history)...)
	messages = append(messages, engine.Message{Role: engine.RoleUser, Content: question})
	return messages
}
