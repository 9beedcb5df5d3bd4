package models

import "github.com/google/uuid"

type OrganizationQuota struct {
	OrganizationID      uuid.UUID `json:"organization_id" db:"organization_id"`
	MaxDocuments        int       `json:"max_documents" db:"max_documents"`
	MaxStorageBytes     int64     `json:"max_storage_bytes" db:"max_storage_bytes"`
	MaxChatSessions     int       `json:"max_chat_sessions" db:"max_chat_sessions"`
	CurrentDocuments    int       `json:"current_documents" db:"current_documents"`
	CurrentStorageBytes int64     `json:"current_storage_bytes" db:"current_storage_bytes"`
	CurrentChunks       int       `json:"current_chunks" db:"current_chunks"`
	CurrentChatSessions int       `json:"current_chat_sessions" db:"current_chat_sessions"`
}
