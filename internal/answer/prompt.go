package answer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/reviewqa/internal/domain"
	"github.com/kalambet/reviewqa/internal/engine"
)

const instruction = "You're an e-commerce bot answering product-related queries using reviews and titles.\n" +
	"Stick to context. Be concise and helpful."

// NoContext replaces the context section when retrieval found nothing.
const NoContext = "No relevant reviews found."

// FallbackAnswer is returned when the model replies with nothing.
const FallbackAnswer = "I don't have enough information from the product reviews to answer that."

// BuildPrompt lays out the generation request: one system message carrying
// the instruction, context and question, then the history, then the question.
func BuildPrompt(docs []domain.ScoredDocument, history []domain.Turn, question string, maxContextTokens int) []engine.Message {
	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n\nCONTEXT:\n")
	sb.WriteString(buildContext(docs, maxContextTokens))
	sb.WriteString("\n\nQUESTION: ")
	sb.WriteString(question)

	messages := make([]engine.Message, 0, len(history)+2)
	messages = append(messages, engine.Message{Role: engine.RoleSystem, Content: sb.String()})
	messages = append(messages, engine.TurnMessages(history)...)
	messages = append(messages, engine.Message{Role: engine.RoleUser, Content: question})
	return messages
}

// buildContext formats retrieved reviews within the token budget, dropping
// the lowest-scoring entries first. Kept entries stay in score order.
func buildContext(docs []domain.ScoredDocument, maxTokens int) string {
	if len(docs) == 0 {
		return NoContext
	}

	sorted := make([]domain.ScoredDocument, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	remaining := maxTokens
	var selected []string
	for _, d := range sorted {
		entry := formatDocument(d)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}

	if len(selected) == 0 {
		return NoContext
	}
	return strings.Join(selected, "\n\n")
}

func formatDocument(d domain.ScoredDocument) string {
	return fmt.Sprintf("Product: %s\nReview: %s", d.ProductName(), d.Content)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
