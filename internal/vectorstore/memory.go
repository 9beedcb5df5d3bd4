package vectorstore

import (
	"context"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docrag/internal/models"
)

// MemoryStore is an Index held in process memory. It applies the same
// ranking, tie-break and clamping rules as PgVectorStore. Visibility of
// documents is decided by the Visible callback, standing in for the join
// against the documents table.
type MemoryStore struct {
	mu      sync.RWMutex
	maxK    int
	chunks  map[uuid.UUID][]models.DocumentChunk // by document
	names   map[uuid.UUID]string
	Visible func(orgID, documentID uuid.UUID) bool
}

func NewMemoryStore(maxK int) *MemoryStore {
	return &MemoryStore{
		maxK:   maxK,
		chunks: make(map[uuid.UUID][]models.DocumentChunk),
		names:  make(map[uuid.UUID]string),
	}
}

// SetFileName records the name Search reports for a document.
func (m *MemoryStore) SetFileName(documentID uuid.UUID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[documentID] = name
}

func (m *MemoryStore) UpsertChunks(_ context.Context, orgID, documentID uuid.UUID, chunks []models.DocumentChunk) error {
	stored := make([]models.DocumentChunk, len(chunks))
	for i, c := range chunks {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.DocumentID = documentID
		c.OrganizationID = orgID
		c.Embedding = slices.Clone(c.Embedding)
		stored[i] = c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(stored) == 0 {
		delete(m.chunks, documentID)
		return nil
	}
	m.chunks[documentID] = stored
	return nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, orgID, documentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cs, ok := m.chunks[documentID]; ok && len(cs) > 0 && cs[0].OrganizationID == orgID {
		delete(m.chunks, documentID)
	}
	return nil
}

// Count returns the number of chunks stored for a document.
func (m *MemoryStore) Count(documentID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks[documentID])
}

func (m *MemoryStore) Search(_ context.Context, orgID uuid.UUID, query []float32, k int) ([]SearchResult, error) {
	k = ClampK(k, m.maxK)

	m.mu.RLock()
	var results []SearchResult
	for docID, cs := range m.chunks {
		if len(cs) == 0 || cs[0].OrganizationID != orgID {
			continue
		}
		if m.Visible != nil && !m.Visible(orgID, docID) {
			continue
		}
		for _, c := range cs {
			if len(c.Embedding) != len(query) {
				continue
			}
			results = append(results, SearchResult{
				ChunkID:    c.ID,
				DocumentID: docID,
				FileName:   m.names[docID],
				ChunkIndex: c.ChunkIndex,
				Content:    c.Content,
				Preview:    c.Preview,
				PageNumber: c.PageNumber,
				Score:      Cosine(query, c.Embedding),
			})
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(results, compareResults)
	if len(results) > k {
		results = results[:k]
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}

func compareResults(a, b SearchResult) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	case a.ChunkIndex != b.ChunkIndex:
		return a.ChunkIndex - b.ChunkIndex
	default:
		return strings.Compare(a.DocumentID.String(), b.DocumentID.String())
	}
}

// Cosine returns the cosine similarity of a and b, or 0 if either is zero.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
