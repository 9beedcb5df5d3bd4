package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	TypeDocumentProcess = "document:process"
	TypeDocumentPurge   = "document:purge"
)

// DocumentPayload references a document by id. Generation pins the job to
// one processing pass: a job whose generation no longer matches the
// document was superseded by a reprocess and is dropped.
type DocumentPayload struct {
	DocumentID     uuid.UUID `json:"document_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Generation     int       `json:"generation"`
	Attempt        int       `json:"attempt"`
}

func ParseDocumentPayload(data []byte) (DocumentPayload, error) {
	var p DocumentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.DocumentID == uuid.Nil || p.OrganizationID == uuid.Nil {
		return p, fmt.Errorf("payload missing document or organization id")
	}
	return p, nil
}
