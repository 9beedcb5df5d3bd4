package document

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/pkg/textextract"
)

// sniffLen is how much of an upload is inspected to detect its real format.
const sniffLen = 3072

type TextExtractor interface {
	// Sniff checks that the leading bytes of a file match its declared type.
	Sniff(header []byte, fileType string) error
	Extract(ctx context.Context, data io.ReaderAt, size int64, fileType string) (*textextract.ExtractedText, error)
	SupportedTypes() []string
}

type extractor struct{}

func NewTextExtractor() TextExtractor {
	return &extractor{}
}

// expectedFamily lists the MIME types a declared type may be detected as,
// matched against the detected type and its ancestors.
var expectedFamily = map[string]string{
	"pdf":  "application/pdf",
	"docx": "application/zip",
	"txt":  "text/plain",
	"md":   "text/plain",
}

func (e *extractor) Sniff(header []byte, fileType string) error {
	t := textextract.NormalizeType(fileType)
	want, ok := expectedFamily[t]
	if !ok {
		return apperr.Validation("unsupported file type %q, supported: %v", fileType, e.SupportedTypes())
	}

	detected := mimetype.Detect(header)
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(want) {
			return nil
		}
	}
	return apperr.Validation("file content (%s) does not match declared type %s", detected.String(), t)
}

func (e *extractor) Extract(ctx context.Context, data io.ReaderAt, size int64, fileType string) (*textextract.ExtractedText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := textextract.Extract(data, size, fileType)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	return result, nil
}

func (e *extractor) SupportedTypes() []string {
	return textextract.SupportedTypes()
}

// ReaderAtFromBytes creates an io.ReaderAt from a byte slice.
func ReaderAtFromBytes(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}
