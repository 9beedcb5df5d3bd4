package models

import (
	"time"

	"github.com/google/uuid"
)

type DocumentStatus string

const (
	DocStatusUploaded   DocumentStatus = "UPLOADED"
	DocStatusProcessing DocumentStatus = "PROCESSING"
	DocStatusReady      DocumentStatus = "READY"
	DocStatusFailed     DocumentStatus = "FAILED"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case DocStatusUploaded, DocStatusProcessing, DocStatusReady, DocStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether processing has finished, successfully or not.
func (s DocumentStatus) Terminal() bool {
	return s == DocStatusReady || s == DocStatusFailed
}

type Document struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	OrganizationID uuid.UUID      `json:"organization_id" db:"organization_id"`
	UploadedBy     *uuid.UUID     `json:"uploaded_by,omitempty" db:"uploaded_by"`
	FileName       string         `json:"file_name" db:"file_name"`
	FileType       string         `json:"file_type" db:"file_type"`
	FileSize       int64          `json:"file_size" db:"file_size"`
	FilePath       string         `json:"-" db:"file_path"`
	Status         DocumentStatus `json:"status" db:"status"`
	ErrorMessage   *string        `json:"error_message,omitempty" db:"error_message"`
	ChunkCount     int            `json:"chunk_count" db:"chunk_count"`
	Generation     int            `json:"-" db:"generation"`
	UploadedAt     time.Time      `json:"uploaded_at" db:"uploaded_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty" db:"processed_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt      *time.Time     `json:"-" db:"deleted_at"`
}

type DocumentChunk struct {
	ID             uuid.UUID `json:"id" db:"id"`
	DocumentID     uuid.UUID `json:"document_id" db:"document_id"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	ChunkIndex     int       `json:"chunk_index" db:"chunk_index"`
	Content        string    `json:"content" db:"content"`
	Preview        string    `json:"preview,omitempty" db:"preview"`
	CharStart      int       `json:"char_start" db:"char_start"`
	CharEnd        int       `json:"char_end" db:"char_end"`
	TokenCount     int       `json:"token_count" db:"token_count"`
	PageNumber     int       `json:"page_number" db:"page_number"`
	Embedding      []float32 `json:"-" db:"embedding"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

type DocumentStats struct {
	Total          int   `json:"total"`
	Uploaded       int   `json:"uploaded"`
	Processing     int   `json:"processing"`
	Ready          int   `json:"ready"`
	Failed         int   `json:"failed"`
	TotalChunks    int   `json:"total_chunks"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}
