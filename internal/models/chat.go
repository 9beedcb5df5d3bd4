package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

const DefaultSessionTitle = "New Chat"

type ChatSession struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OrganizationID uuid.UUID  `json:"organization_id" db:"organization_id"`
	UserID         uuid.UUID  `json:"user_id" db:"user_id"`
	Title          string     `json:"title" db:"title"`
	MessageCount   int        `json:"message_count" db:"message_count"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt      *time.Time `json:"-" db:"deleted_at"`
}

type ChatMessage struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	SessionID uuid.UUID        `json:"session_id" db:"session_id"`
	Role      MessageRole      `json:"role" db:"role"`
	Content   string           `json:"content" db:"content"`
	Sources   []SourceCitation `json:"sources,omitempty" db:"sources"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// SourceCitation is a snapshot taken when the answer was generated; it stays
// readable after the cited document is deleted.
type SourceCitation struct {
	DocumentID     uuid.UUID `json:"document_id"`
	FileName       string    `json:"file_name"`
	ChunkID        uuid.UUID `json:"chunk_id"`
	ChunkIndex     int       `json:"chunk_index"`
	RelevanceScore float64   `json:"relevance_score"`
	TextPreview    string    `json:"text_preview"`
}
