// Package events pushes document status changes to an external consumer.
// Publishing is best-effort: readers can always fall back to polling the
// document status.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docrag/internal/config"
)

const (
	DocumentProcessing = "document.processing"
	DocumentReady      = "document.ready"
	DocumentFailed     = "document.failed"
)

type Event struct {
	Type           string    `json:"type"`
	DocumentID     uuid.UUID `json:"document_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Status         string    `json:"status"`
	ChunkCount     int       `json:"chunk_count"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// New builds the publisher selected by cfg.Backend.
func New(cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Backend {
	case "", "none":
		return Nop{}, nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("EVENTS_WEBHOOK_URL is required for the webhook backend")
		}
		return NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret), nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("KAFKA_BROKERS is required for the kafka backend")
		}
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
