package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/config"
	"github.com/nikhilbhutani/docrag/internal/llm"
	"github.com/nikhilbhutani/docrag/internal/models"
	"github.com/nikhilbhutani/docrag/internal/vectorstore"
)

type fixedEmbedder struct {
	vec   []float32
	calls int
}

func (f *fixedEmbedder) EmbedSingle(context.Context, llm.Credential, string) ([]float32, error) {
	f.calls++
	return f.vec, nil
}

type staticKeys struct{ err error }

func (s staticKeys) ActiveCredential(context.Context, uuid.UUID) (llm.Credential, error) {
	return llm.Credential{Provider: "openai", APIKey: "sk"}, s.err
}

var cred = llm.Credential{Provider: "openai", APIKey: "sk"}

func seed(t *testing.T, idx *vectorstore.MemoryStore, org uuid.UUID, name string, n int) uuid.UUID {
	t.Helper()
	doc := uuid.New()
	idx.SetFileName(doc, name)
	chunks := make([]models.DocumentChunk, n)
	for i := range chunks {
		chunks[i] = models.DocumentChunk{
			ChunkIndex: i,
			Content:    strings.Repeat("revenue ", 40),
			Embedding:  []float32{1, float32(i) / 10},
		}
	}
	require.NoError(t, idx.UpsertChunks(context.Background(), org, doc, chunks))
	return doc
}

func newRetriever(idx vectorstore.Index, emb QueryEmbedder) *Retriever {
	return NewRetriever(idx, emb, staticKeys{}, config.RetrievalConfig{DefaultLimit: 5, MaxLimit: 10, PreviewChars: 20})
}

func TestRetrieveAppliesDefaultAndCap(t *testing.T) {
	idx := vectorstore.NewMemoryStore(50)
	org := uuid.New()
	seed(t, idx, org, "report.pdf", 30)
	r := newRetriever(idx, &fixedEmbedder{vec: []float32{1, 0}})

	res, err := r.Retrieve(context.Background(), cred, org, "revenue?", 0)
	require.NoError(t, err)
	assert.Len(t, res, 5)

	res, err = r.Retrieve(context.Background(), cred, org, "revenue?", 500)
	require.NoError(t, err)
	assert.Len(t, res, 10)

	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}
}

func TestRetrieveEmptyOrganization(t *testing.T) {
	idx := vectorstore.NewMemoryStore(50)
	seed(t, idx, uuid.New(), "other.pdf", 3)
	r := newRetriever(idx, &fixedEmbedder{vec: []float32{1, 0}})

	res, err := r.Retrieve(context.Background(), cred, uuid.New(), "anything", 5)
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Empty(t, res)
}

func TestRetrieveRejectsBlankQuestion(t *testing.T) {
	emb := &fixedEmbedder{vec: []float32{1, 0}}
	r := newRetriever(vectorstore.NewMemoryStore(50), emb)

	_, err := r.Retrieve(context.Background(), cred, uuid.New(), "   ", 5)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, emb.calls)
}

func TestRetrieveFiltersByMinScore(t *testing.T) {
	idx := vectorstore.NewMemoryStore(50)
	org := uuid.New()
	doc := uuid.New()
	require.NoError(t, idx.UpsertChunks(context.Background(), org, doc, []models.DocumentChunk{
		{ChunkIndex: 0, Content: "close", Embedding: []float32{1, 0}},
		{ChunkIndex: 1, Content: "orthogonal", Embedding: []float32{0, 1}},
	}))
	r := NewRetriever(idx, &fixedEmbedder{vec: []float32{1, 0}}, staticKeys{}, config.RetrievalConfig{MinScore: 0.5})

	res, err := r.Retrieve(context.Background(), cred, org, "q", 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "close", res[0].Content)
}

func TestSearchReturnsCitations(t *testing.T) {
	idx := vectorstore.NewMemoryStore(50)
	org := uuid.New()
	doc := seed(t, idx, org, "report.pdf", 2)
	r := newRetriever(idx, &fixedEmbedder{vec: []float32{1, 0}})

	cites, err := r.Search(context.Background(), org, "revenue", 2)
	require.NoError(t, err)
	require.Len(t, cites, 2)
	assert.Equal(t, doc, cites[0].DocumentID)
	assert.Equal(t, "report.pdf", cites[0].FileName)
	assert.Equal(t, 0, cites[0].ChunkIndex)
	assert.NotZero(t, cites[0].RelevanceScore)
	assert.Equal(t, strings.Repeat("revenue ", 40)[:20]+"...", cites[0].TextPreview)
}

func TestSearchWithoutKey(t *testing.T) {
	r := NewRetriever(vectorstore.NewMemoryStore(50), &fixedEmbedder{}, staticKeys{err: apperr.Credential("no key")}, config.RetrievalConfig{})
	_, err := r.Search(context.Background(), uuid.New(), "q", 1)
	assert.ErrorIs(t, err, apperr.ErrCredential)
}

func TestBuildMessagesOrder(t *testing.T) {
	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	}
	passages := []vectorstore.SearchResult{
		{FileName: "a.pdf", Content: "alpha"},
		{FileName: "b.md", Content: "beta"},
	}

	msgs := BuildMessages("what?", history, passages)
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	assert.Contains(t, msgs[3].Content, "[a.pdf]\nalpha\n\n---\n\n[b.md]\nbeta")
	assert.Equal(t, "what?", msgs[4].Content)
}
