package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docrag/internal/config"
)

func TestWebhookPublisherSignsPayload(t *testing.T) {
	type delivery struct {
		body      []byte
		signature string
		event     string
	}
	got := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- delivery{body: body, signature: r.Header.Get("X-Webhook-Signature"), event: r.Header.Get("X-Webhook-Event")}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL, "s3cret")
	docID := uuid.New()
	require.NoError(t, p.Publish(context.Background(), Event{Type: DocumentReady, DocumentID: docID, Status: "READY", ChunkCount: 2}))
	require.NoError(t, p.Close())

	d := <-got
	assert.Equal(t, DocumentReady, d.event)
	assert.Equal(t, Sign(d.body, "s3cret"), d.signature)

	var e Event
	require.NoError(t, json.Unmarshal(d.body, &e))
	assert.Equal(t, docID, e.DocumentID)
	assert.Equal(t, 2, e.ChunkCount)
}

func TestNewSelectsBackend(t *testing.T) {
	p, err := New(config.EventsConfig{Backend: "none"})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, p)

	_, err = New(config.EventsConfig{Backend: "webhook"})
	assert.Error(t, err)

	_, err = New(config.EventsConfig{Backend: "kafka"})
	assert.Error(t, err)

	_, err = New(config.EventsConfig{Backend: "carrier-pigeon"})
	assert.Error(t, err)
}
