// Package domain holds the types shared by every stage of the review
// assistant: documents, conversation turns and the error kinds callers
// match with errors.Is.
package domain

import "time"

// MetaProductName is the metadata key that carries the product title of a review.
const MetaProductName = "product_name"

// Document is one review as stored in the document store. Content is the
// review text; Metadata always carries MetaProductName once ingested.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// ProductName returns the product title attached to the document.
func (d Document) ProductName() string {
	return d.Metadata[MetaProductName]
}

// ScoredDocument is a Document with its cosine similarity to a query.
type ScoredDocument struct {
	Document
	Score float32
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is a single immutable entry of a session history.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserTurn and AssistantTurn are shorthands used by the pipeline and tests.
func UserTurn(text string) Turn      { return Turn{Role: RoleUser, Text: text} }
func AssistantTurn(text string) Turn { return Turn{Role: RoleAssistant, Text: text} }
