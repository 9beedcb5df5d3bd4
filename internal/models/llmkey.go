package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

type LLMKey struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OrganizationID uuid.UUID  `json:"organization_id" db:"organization_id"`
	Provider       string     `json:"provider" db:"provider"`
	KeyName        string     `json:"key_name" db:"key_name"`
	Ciphertext     string     `json:"-" db:"api_key_encrypted"`
	KeyHint        string     `json:"key_hint" db:"key_hint"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}
