package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/llm"
)

type recordingEmbedder struct {
	batches [][]string
	fail    error
	short   bool
}

func (r *recordingEmbedder) Embed(_ context.Context, _ llm.Credential, texts []string) (*llm.EmbeddingResponse, error) {
	r.batches = append(r.batches, texts)
	if r.fail != nil {
		return nil, r.fail
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i]))}
	}
	if r.short {
		out = out[:len(out)-1]
	}
	return &llm.EmbeddingResponse{Embeddings: out}, nil
}

var cred = llm.Credential{Provider: "openai", APIKey: "sk"}

func TestEmbedBatchesInOrder(t *testing.T) {
	rec := &recordingEmbedder{}
	svc := NewService(rec, 2)

	out, err := svc.Embed(context.Background(), cred, []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)

	assert.Len(t, rec.batches, 3)
	assert.Equal(t, []string{"eeeee"}, rec.batches[2])
	assert.Equal(t, [][]float32{{1}, {2}, {3}, {4}, {5}}, out)
}

func TestEmbedKeepsProviderClassification(t *testing.T) {
	rec := &recordingEmbedder{fail: apperr.Credential("bad key")}
	svc := NewService(rec, 100)

	_, err := svc.Embed(context.Background(), cred, []string{"a"})
	assert.ErrorIs(t, err, apperr.ErrCredential)
}

func TestEmbedRejectsShortBatch(t *testing.T) {
	svc := NewService(&recordingEmbedder{short: true}, 100)

	_, err := svc.Embed(context.Background(), cred, []string{"a", "b"})
	assert.ErrorIs(t, err, apperr.ErrProvider)
}

func TestEmbedEmptyInput(t *testing.T) {
	rec := &recordingEmbedder{}
	out, err := NewService(rec, 0).Embed(context.Background(), cred, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Empty(t, rec.batches)
}
