package document

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/audit"
	"github.com/nikhilbhutani/docrag/internal/config"
	"github.com/nikhilbhutani/docrag/internal/events"
	"github.com/nikhilbhutani/docrag/internal/llm"
	"github.com/nikhilbhutani/docrag/internal/models"
	"github.com/nikhilbhutani/docrag/internal/queue"
	"github.com/nikhilbhutani/docrag/internal/quota"
	"github.com/nikhilbhutani/docrag/internal/storage"
	"github.com/nikhilbhutani/docrag/internal/vectorstore"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ llm.Credential, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, float32(i + 1)}
	}
	return out, nil
}

type fakeKeys struct{ err error }

func (f *fakeKeys) ActiveCredential(context.Context, uuid.UUID) (llm.Credential, error) {
	if f.err != nil {
		return llm.Credential{}, f.err
	}
	return llm.Credential{Provider: "openai", APIKey: "sk-test"}, nil
}

type fakeQueue struct {
	mu        sync.Mutex
	process   []queue.DocumentPayload
	purge     []queue.DocumentPayload
	failNext  bool
	failPurge bool
}

func (f *fakeQueue) EnqueueDocumentProcess(_ context.Context, p queue.DocumentPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("redis unavailable")
	}
	f.process = append(f.process, p)
	return nil
}

func (f *fakeQueue) EnqueueDocumentPurge(_ context.Context, p queue.DocumentPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPurge {
		return errors.New("redis unavailable")
	}
	f.purge = append(f.purge, p)
	return nil
}

func (f *fakeQueue) last() queue.DocumentPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.process[len(f.process)-1]
}

type auditLog struct {
	mu      sync.Mutex
	actions []string
}

func (a *auditLog) Log(_ context.Context, e audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, e.Action)
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Publish(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) Close() error { return nil }

func (l *eventLog) count(typ string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	svc      *Service
	repo     *MemoryRepository
	index    *vectorstore.MemoryStore
	blobs    *storage.MemoryStore
	embedder *fakeEmbedder
	keys     *fakeKeys
	queue    *fakeQueue
	quota    *quota.MemoryService
	audit    *auditLog
	events   *eventLog
	org      uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		index:    vectorstore.NewMemoryStore(50),
		blobs:    storage.NewMemoryStore(),
		embedder: &fakeEmbedder{},
		keys:     &fakeKeys{},
		queue:    &fakeQueue{},
		quota:    quota.NewMemoryService(config.QuotaConfig{MaxDocuments: 10, MaxStorageBytes: 1 << 20, MaxChatSessions: 5}),
		audit:    &auditLog{},
		events:   &eventLog{},
		org:      uuid.New(),
	}
	h.repo = NewMemoryRepository(h.index)
	h.svc = NewService(Deps{
		Repo:     h.repo,
		Blobs:    h.blobs,
		Embedder: h.embedder,
		Keys:     h.keys,
		Queue:    h.queue,
		Quota:    h.quota,
		Audit:    h.audit,
		Events:   h.events,
	}, config.IngestionConfig{MaxFileSizeMB: 1, ChunkSize: 200, ChunkOverlap: 40}, 50)
	return h
}

// twoChunkText is long enough for exactly two 200-character windows.
func twoChunkText() string {
	para := strings.Repeat("Revenue rose in the quarter. ", 5) // 145 chars
	return para + "\n\n" + para
}

func (h *harness) upload(t *testing.T, name, content string) *models.Document {
	t.Helper()
	doc, err := h.svc.Submit(context.Background(), UploadInput{
		OrganizationID: h.org,
		FileName:       name,
		Size:           int64(len(content)),
		Content:        strings.NewReader(content),
	})
	require.NoError(t, err)
	return doc
}

func (h *harness) run(t *testing.T, lastAttempt bool) error {
	t.Helper()
	return h.svc.HandleJob(context.Background(), h.queue.last(), lastAttempt)
}

func TestSubmitRejectsInvalidUploads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   UploadInput
	}{
		{"unsupported type", UploadInput{FileName: "tool.exe", Size: 3, Content: strings.NewReader("MZ!")}},
		{"empty file", UploadInput{FileName: "notes.txt", Size: 0, Content: strings.NewReader("")}},
		{"too large", UploadInput{FileName: "big.txt", Size: 2 << 20, Content: strings.NewReader("x")}},
		{"content mismatch", UploadInput{FileName: "report.pdf", Size: 11, Content: strings.NewReader("not a pdf!!")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.OrganizationID = h.org
			_, err := h.svc.Submit(ctx, tc.in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	assert.Zero(t, h.blobs.Len())
	assert.Empty(t, h.queue.process)
	q, _ := h.quota.Get(ctx, h.org)
	assert.Zero(t, q.CurrentDocuments)
}

func TestSubmitStoresAndEnqueues(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, "report.txt", twoChunkText())

	assert.Equal(t, models.DocStatusUploaded, doc.Status)
	assert.Equal(t, "txt", doc.FileType)
	assert.Equal(t, 1, h.blobs.Len())

	require.Len(t, h.queue.process, 1)
	p := h.queue.process[0]
	assert.Equal(t, doc.ID, p.DocumentID)
	assert.Equal(t, h.org, p.OrganizationID)
	assert.Equal(t, 1, p.Generation)
	assert.Zero(t, p.Attempt)
	assert.Contains(t, h.audit.actions, audit.ActionDocUpload)

	data, err := storage.ReadAll(context.Background(), h.blobs, doc.FilePath)
	require.NoError(t, err)
	assert.Equal(t, twoChunkText(), string(data))
}

func TestSubmitQuotaExceeded(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Submit(context.Background(), UploadInput{
		OrganizationID: h.org,
		FileName:       "a.txt",
		Size:           (1 << 20) - 1,
		Content:        strings.NewReader("x"),
	})
	require.NoError(t, err)

	_, err = h.svc.Submit(context.Background(), UploadInput{
		OrganizationID: h.org,
		FileName:       "b.txt",
		Size:           10,
		Content:        strings.NewReader("0123456789"),
	})
	assert.ErrorIs(t, err, apperr.ErrQuotaExceeded)
}

func TestSubmitFailsDocumentWhenEnqueueFails(t *testing.T) {
	h := newHarness(t)
	h.queue.failNext = true

	doc := h.upload(t, "report.txt", "some text")
	assert.Equal(t, models.DocStatusFailed, doc.Status)
	require.NotNil(t, doc.ErrorMessage)
	assert.Contains(t, *doc.ErrorMessage, "reprocess")
}

func TestHandleJobProcessesToReady(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "report.txt", twoChunkText())

	require.NoError(t, h.run(t, false))

	got, err := h.svc.Get(ctx, h.org, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusReady, got.Status)
	assert.Equal(t, 2, got.ChunkCount)
	assert.NotNil(t, got.ProcessedAt)
	assert.Equal(t, 2, h.index.Count(doc.ID))

	res, err := h.index.Search(ctx, h.org, []float32{140, 1, 1}, 10)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "report.txt", res[0].FileName)
	assert.LessOrEqual(t, len([]rune(res[0].Preview)), 53)

	assert.Equal(t, 1, h.events.count(events.DocumentProcessing))
	assert.Equal(t, 1, h.events.count(events.DocumentReady))
	assert.Contains(t, h.audit.actions, audit.ActionDocProcessComplete)

	q, _ := h.quota.Get(ctx, h.org)
	assert.Equal(t, 2, q.CurrentChunks)
}

func TestHandleJobIsIdempotent(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, "report.txt", twoChunkText())

	require.NoError(t, h.run(t, false))
	require.NoError(t, h.run(t, false))

	assert.Equal(t, 1, h.embedder.calls)
	assert.Equal(t, 2, h.index.Count(doc.ID))
	assert.Equal(t, 1, h.events.count(events.DocumentReady))
}

func TestHandleJobBlankTextIsReadyWithNoChunks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := &models.Document{
		ID: uuid.New(), OrganizationID: h.org, FileName: "blank.txt", FileType: "txt",
		FileSize: 4, Status: models.DocStatusUploaded, Generation: 1,
	}
	doc.FilePath = storage.Key(h.org, doc.ID, doc.FileName)
	require.NoError(t, h.blobs.Put(ctx, doc.FilePath, bytes.NewReader([]byte(" \n\t ")), 4, "text/plain"))
	require.NoError(t, h.repo.Create(ctx, doc))

	err := h.svc.HandleJob(ctx, queue.DocumentPayload{DocumentID: doc.ID, OrganizationID: h.org, Generation: 1}, false)
	require.NoError(t, err)

	got, err := h.svc.Get(ctx, h.org, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusReady, got.Status)
	assert.Zero(t, got.ChunkCount)
	assert.Zero(t, h.embedder.calls)
}

func TestHandleJobWithoutCredentialFailsWithoutRetry(t *testing.T) {
	h := newHarness(t)
	h.keys.err = apperr.Credential("no active LLM API key is configured for this organization")
	doc := h.upload(t, "report.txt", twoChunkText())

	require.NoError(t, h.run(t, false))

	got, err := h.svc.Get(context.Background(), h.org, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "no active LLM API key")
}

func TestHandleJobRetriesTransientErrorsThenDeadLetters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.embedder.err = apperr.Provider(context.DeadlineExceeded, true, "openai request failed")
	doc := h.upload(t, "report.txt", twoChunkText())

	for attempt := 0; attempt < 2; attempt++ {
		p := h.queue.last()
		p.Attempt = attempt
		err := h.svc.HandleJob(ctx, p, false)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrDeadLetter)

		got, _ := h.svc.Get(ctx, h.org, doc.ID)
		assert.Equal(t, models.DocStatusProcessing, got.Status)
	}

	p := h.queue.last()
	p.Attempt = 2
	err := h.svc.HandleJob(ctx, p, true)
	assert.ErrorIs(t, err, ErrDeadLetter)

	got, _ := h.svc.Get(ctx, h.org, doc.ID)
	assert.Equal(t, models.DocStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.True(t, strings.HasPrefix(*got.ErrorMessage, "max retries exceeded: "))

	// A late redelivery must not produce a second terminal transition.
	require.NoError(t, h.svc.HandleJob(ctx, p, true))
	assert.Equal(t, 1, h.events.count(events.DocumentFailed))
	assert.Equal(t, 1, h.events.count(events.DocumentProcessing))
	assert.Equal(t, 3, h.embedder.calls)
}

func TestReprocessThenFailureLeavesNoChunks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "report.txt", twoChunkText())
	require.NoError(t, h.run(t, false))

	re, err := h.svc.Reprocess(ctx, h.org, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusProcessing, re.Status)
	assert.Equal(t, 2, re.Generation)
	assert.Zero(t, re.ChunkCount)
	assert.Zero(t, h.index.Count(doc.ID))

	h.embedder.err = apperr.Provider(nil, false, "malformed embedding response")
	require.NoError(t, h.run(t, false))

	got, err := h.svc.Get(ctx, h.org, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusFailed, got.Status)
	assert.Zero(t, h.index.Count(doc.ID))

	res, err := h.index.Search(ctx, h.org, []float32{140, 1, 1}, 10)
	require.NoError(t, err)
	assert.Empty(t, res)

	q, _ := h.quota.Get(ctx, h.org)
	assert.Zero(t, q.CurrentChunks)
}

func TestReprocessRejectsNonTerminalDocument(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, "report.txt", "text")

	_, err := h.svc.Reprocess(context.Background(), h.org, doc.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestStaleJobIsDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "report.txt", twoChunkText())
	stale := h.queue.last()
	require.NoError(t, h.run(t, false))

	_, err := h.svc.Reprocess(ctx, h.org, doc.ID)
	require.NoError(t, err)
	calls := h.embedder.calls

	require.NoError(t, h.svc.HandleJob(ctx, stale, false))
	assert.Equal(t, calls, h.embedder.calls)

	got, _ := h.svc.Get(ctx, h.org, doc.ID)
	assert.Equal(t, models.DocStatusProcessing, got.Status)
}

func TestDeleteHidesAndPurgesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "report.txt", twoChunkText())
	require.NoError(t, h.run(t, false))

	require.NoError(t, h.svc.Delete(ctx, h.org, doc.ID))

	_, err := h.svc.Get(ctx, h.org, doc.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	res, err := h.index.Search(ctx, h.org, []float32{140, 1, 1}, 10)
	require.NoError(t, err)
	assert.Empty(t, res)

	require.Len(t, h.queue.purge, 1)
	require.NoError(t, h.svc.Purge(ctx, h.queue.purge[0]))
	require.NoError(t, h.svc.Purge(ctx, h.queue.purge[0]))

	assert.Zero(t, h.index.Count(doc.ID))
	assert.Zero(t, h.blobs.Len())
	q, _ := h.quota.Get(ctx, h.org)
	assert.Zero(t, q.CurrentDocuments)
	assert.Zero(t, q.CurrentStorageBytes)
	assert.Zero(t, q.CurrentChunks)

	assert.ErrorIs(t, h.svc.Delete(ctx, h.org, doc.ID), apperr.ErrNotFound)
}

type undeletableBlobs struct {
	*storage.MemoryStore
}

func (undeletableBlobs) Delete(context.Context, string) error {
	return errors.New("bucket is read-only")
}

func TestDeleteSucceedsWhenPurgeCannotRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "report.txt", twoChunkText())
	require.NoError(t, h.run(t, false))

	h.queue.failPurge = true
	h.svc.blobs = undeletableBlobs{h.blobs}

	require.NoError(t, h.svc.Delete(ctx, h.org, doc.ID))

	_, err := h.svc.Get(ctx, h.org, doc.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, h.index.Count(doc.ID), "chunks are purged inline")
	assert.Equal(t, 1, h.blobs.Len(), "the blob is left behind")
}

func TestDocumentsAreTenantScoped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "report.txt", "text")
	other := uuid.New()

	_, err := h.svc.Get(ctx, other, doc.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = h.svc.Reprocess(ctx, other, doc.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, h.svc.Delete(ctx, other, doc.ID), apperr.ErrNotFound)

	list, err := h.svc.List(ctx, other, ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, list.Total)
}

func TestListFiltersAndPaginates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, name := range []string{"Q1 Report.txt", "q2 report.md", "notes.txt"} {
		h.upload(t, name, "content of "+name)
	}

	res, err := h.svc.List(ctx, h.org, ListFilter{Search: "REPORT", PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.TotalPages)
	assert.Len(t, res.Documents, 1)

	res, err = h.svc.List(ctx, h.org, ListFilter{Status: models.DocStatusReady})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Equal(t, defaultPageSize, res.PageSize)

	_, err = h.svc.List(ctx, h.org, ListFilter{Status: "DONE"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	stats, err := h.svc.Stats(ctx, h.org)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Uploaded)
}

func TestTruncateMessage(t *testing.T) {
	long := strings.Repeat("x", 900)
	out := truncateMessage(long)
	assert.Len(t, out, maxErrorMessage)
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.Equal(t, "short", truncateMessage("short"))
}
