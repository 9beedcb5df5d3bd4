package document

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docrag/internal/apperr"
)

func TestSniffAcceptsMatchingContent(t *testing.T) {
	ex := NewTextExtractor()

	assert.NoError(t, ex.Sniff([]byte("%PDF-1.7\n%âãÏÓ\n1 0 obj"), "pdf"))
	assert.NoError(t, ex.Sniff([]byte("plain notes about revenue"), "txt"))
	assert.NoError(t, ex.Sniff([]byte("# Heading\n\nSome *markdown*."), "md"))
	assert.NoError(t, ex.Sniff([]byte("PK\x03\x04\x14\x00\x00\x00\x08\x00"), "docx"))
}

func TestSniffRejectsMismatch(t *testing.T) {
	ex := NewTextExtractor()

	err := ex.Sniff([]byte("plain text pretending"), "pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	err = ex.Sniff([]byte("anything"), "exe")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestExtractPlainText(t *testing.T) {
	data := []byte("Revenue grew 12% year over year.")

	out, err := NewTextExtractor().Extract(context.Background(), ReaderAtFromBytes(data), int64(len(data)), "txt")
	require.NoError(t, err)
	assert.Equal(t, string(data), out.Content)
}
