package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeySanitizesFilename(t *testing.T) {
	org := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	doc := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	assert.Equal(t, org.String()+"/"+doc.String()+"/report.pdf", Key(org, doc, "report.pdf"))
	assert.Equal(t, org.String()+"/"+doc.String()+"/passwd", Key(org, doc, "../../etc/passwd"))
	assert.Equal(t, org.String()+"/"+doc.String()+"/Q3_results_final_.docx", Key(org, doc, `C:\docs\Q3 results (final).docx`))
	assert.Equal(t, org.String()+"/"+doc.String()+"/file", Key(org, doc, ".."))
}

func testBlobStore(t *testing.T, s BlobStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "org/doc/a.txt", strings.NewReader("hello"), 5, "text/plain"))

	data, err := ReadAll(ctx, s, "org/doc/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, s.Delete(ctx, "org/doc/a.txt"))
	require.NoError(t, s.Delete(ctx, "org/doc/a.txt"))

	_, err = s.Get(ctx, "org/doc/a.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	testBlobStore(t, s)

	err = s.Put(context.Background(), "../outside.txt", strings.NewReader("x"), 1, "")
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	testBlobStore(t, NewMemoryStore())
}
