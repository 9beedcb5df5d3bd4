package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// WebhookPublisher POSTs events to one endpoint from a background loop.
// Publish never blocks the caller on the network; a full queue drops the
// event with a warning.
type WebhookPublisher struct {
	url        string
	secret     string
	httpClient *http.Client
	deliveries chan Event
	done       chan struct{}
	closeOnce  sync.Once
}

func NewWebhookPublisher(url, secret string) *WebhookPublisher {
	p := &WebhookPublisher{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		deliveries: make(chan Event, 1000),
		done:       make(chan struct{}),
	}
	go p.processLoop()
	return p
}

func (p *WebhookPublisher) Publish(_ context.Context, e Event) error {
	select {
	case p.deliveries <- e:
		return nil
	default:
		slog.Warn("webhook delivery queue full, dropping", "event", e.Type, "document_id", e.DocumentID)
		return nil
	}
}

// Close stops accepting events and waits for queued deliveries to finish.
func (p *WebhookPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.deliveries) })
	<-p.done
	return nil
}

func (p *WebhookPublisher) processLoop() {
	defer close(p.done)
	for e := range p.deliveries {
		if err := p.deliver(e); err != nil {
			slog.Error("webhook delivery failed", "event", e.Type, "document_id", e.DocumentID, "error", err)
		}
	}
}

func (p *WebhookPublisher) deliver(e Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", e.Type)
	req.Header.Set("X-Webhook-Signature", Sign(payload, p.secret))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("webhook received non-success response", "status", resp.StatusCode, "event", e.Type)
	}
	return nil
}

// Sign returns the X-Webhook-Signature value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
