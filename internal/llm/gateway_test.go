package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/config"
)

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		ChatModels:     map[string]string{"openai": "gpt-4o-mini"},
		EmbeddingModel: "text-embedding-3-small",
		OpenAIBaseURL:  baseURL,
		RequestTimeout: 2 * time.Second,
		MaxRetries:     3,
		BackoffBase:    time.Millisecond,
		BackoffMax:     4 * time.Millisecond,
	}
}

type fakeOpenAI struct {
	calls   atomic.Int32
	handler func(n int32, w http.ResponseWriter, r *http.Request)
}

func (f *fakeOpenAI) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := f.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		f.handler(n, w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": "api_error"},
	})
}

func writeCompletion(w http.ResponseWriter, content string) {
	choices := []map[string]any{}
	if content != "<none>" {
		choices = append(choices, map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "gpt-4o-mini",
		"choices": choices,
		"usage":   map[string]any{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
	})
}

func writeEmbeddings(w http.ResponseWriter, vectors [][]float32) {
	data := make([]map[string]any, len(vectors))
	for i, v := range vectors {
		data[i] = map[string]any{"object": "embedding", "index": i, "embedding": v}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"model":  "text-embedding-3-small",
		"data":   data,
		"usage":  map[string]any{"prompt_tokens": 8, "total_tokens": 8},
	})
}

var cred = Credential{Provider: "openai", APIKey: "sk-test"}

type usageSink struct{ recs []UsageRecord }

func (u *usageSink) RecordUsage(_ context.Context, rec UsageRecord) { u.recs = append(u.recs, rec) }

func TestCompleteReturnsContentAndRecordsUsage(t *testing.T) {
	f := &fakeOpenAI{handler: func(_ int32, w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		writeCompletion(w, "Revenue grew 12%.")
	}}
	srv := f.start(t)
	sink := &usageSink{}
	c := NewClient(testConfig(srv.URL+"/v1"), WithUsageRecorder(sink))

	resp, err := c.Complete(context.Background(), cred, []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, "Revenue grew 12%.", resp.Content)
	assert.Equal(t, 17, resp.TotalTokens)
	require.Len(t, sink.recs, 1)
	assert.Equal(t, "chat", sink.recs[0].Endpoint)
	assert.Equal(t, "gpt-4o-mini", sink.recs[0].Model)
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	f := &fakeOpenAI{handler: func(n int32, w http.ResponseWriter, _ *http.Request) {
		if n < 3 {
			writeAPIError(w, http.StatusServiceUnavailable, "overloaded")
			return
		}
		writeCompletion(w, "ok")
	}}
	srv := f.start(t)
	c := NewClient(testConfig(srv.URL + "/v1"))

	resp, err := c.Complete(context.Background(), cred, []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestCompleteGivesUpAfterMaxRetries(t *testing.T) {
	f := &fakeOpenAI{handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
		writeAPIError(w, http.StatusTooManyRequests, "slow down")
	}}
	srv := f.start(t)
	c := NewClient(testConfig(srv.URL + "/v1"))

	_, err := c.Complete(context.Background(), cred, []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)

	assert.ErrorIs(t, err, apperr.ErrProvider)
	assert.True(t, apperr.Retryable(err))
	assert.Equal(t, int32(4), f.calls.Load())
}

func TestCompleteDoesNotRetryAuthFailures(t *testing.T) {
	f := &fakeOpenAI{handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
		writeAPIError(w, http.StatusUnauthorized, "invalid api key")
	}}
	srv := f.start(t)
	c := NewClient(testConfig(srv.URL + "/v1"))

	_, err := c.Complete(context.Background(), cred, []Message{{Role: RoleUser, Content: "hi"}})

	assert.ErrorIs(t, err, apperr.ErrCredential)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCompleteRejectsEmptyResponse(t *testing.T) {
	f := &fakeOpenAI{handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
		writeCompletion(w, "<none>")
	}}
	srv := f.start(t)
	c := NewClient(testConfig(srv.URL + "/v1"))

	_, err := c.Complete(context.Background(), cred, []Message{{Role: RoleUser, Content: "hi"}})

	assert.ErrorIs(t, err, apperr.ErrProvider)
	assert.False(t, apperr.Retryable(err))
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestEmbedChecksVectorCount(t *testing.T) {
	f := &fakeOpenAI{handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
		writeEmbeddings(w, [][]float32{{0.1, 0.2}})
	}}
	srv := f.start(t)
	c := NewClient(testConfig(srv.URL + "/v1"))

	_, err := c.Embed(context.Background(), cred, []string{"a", "b"})
	assert.ErrorIs(t, err, apperr.ErrProvider)

	resp, err := c.Embed(context.Background(), cred, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}}, resp.Embeddings)
}

func TestEmbedWithoutInputSkipsProvider(t *testing.T) {
	f := &fakeOpenAI{handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
		t.Fatal("provider should not be called")
	}}
	srv := f.start(t)
	c := NewClient(testConfig(srv.URL + "/v1"))

	resp, err := c.Embed(context.Background(), cred, nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Embeddings)
}

func TestTestCredential(t *testing.T) {
	f := &fakeOpenAI{handler: func(_ int32, w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer sk-good" {
			writeAPIError(w, http.StatusUnauthorized, "bad key")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"id": "gpt-4o-mini", "object": "model"}},
		})
	}}
	srv := f.start(t)
	c := NewClient(testConfig(srv.URL + "/v1"))

	ok, msg := c.TestCredential(context.Background(), Credential{Provider: "openai", APIKey: "sk-good"})
	assert.True(t, ok)
	assert.NotEmpty(t, msg)

	ok, msg = c.TestCredential(context.Background(), Credential{Provider: "openai", APIKey: "sk-bad"})
	assert.False(t, ok)
	assert.Contains(t, msg, "rejected")

	ok, _ = c.TestCredential(context.Background(), Credential{Provider: "mystery", APIKey: "x"})
	assert.False(t, ok)
}

func TestAnthropicKeysCannotEmbed(t *testing.T) {
	c := NewClient(testConfig(""))

	_, err := c.Embed(context.Background(), Credential{Provider: "anthropic", APIKey: "sk-ant"}, []string{"a"})
	assert.ErrorIs(t, err, apperr.ErrCredential)
}

func TestBackoffIsCapped(t *testing.T) {
	c := NewClient(config.LLMConfig{BackoffBase: 500 * time.Millisecond, BackoffMax: 8 * time.Second})

	assert.Equal(t, 500*time.Millisecond, c.backoff(1))
	assert.Equal(t, time.Second, c.backoff(2))
	assert.Equal(t, 4*time.Second, c.backoff(4))
	assert.Equal(t, 8*time.Second, c.backoff(10))
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify("openai", context.DeadlineExceeded), apperr.ErrProvider)
	assert.True(t, apperr.Retryable(classify("openai", context.DeadlineExceeded)))
	assert.Equal(t, context.Canceled, classify("openai", context.Canceled))
	assert.False(t, apperr.Retryable(classify("openai", errors.New("boom"))))
}
