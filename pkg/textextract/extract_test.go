package textextract

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDOCXKeepsParagraphs(t *testing.T) {
	data := buildDOCX(t, `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Quarterly</w:t></w:r><w:r><w:t xml:space="preserve"> report</w:t></w:r></w:p>
    <w:p><w:r><w:t>Revenue</w:t><w:tab/><w:t>up 12%</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	out, err := Extract(bytes.NewReader(data), int64(len(data)), "report.docx")
	require.NoError(t, err)

	assert.Equal(t, "Quarterly report\n\nRevenue\tup 12%", out.Content)
	assert.Equal(t, "docx", out.Metadata["type"])
}

func TestExtractDOCXWithoutBody(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Extract(bytes.NewReader(buf.Bytes()), int64(buf.Len()), "docx")
	assert.Error(t, err)
}

func TestExtractPlainStripsBOM(t *testing.T) {
	data := []byte("\xef\xbb\xbfhello\nworld")

	out, err := Extract(bytes.NewReader(data), int64(len(data)), ".txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", out.Content)

	out, err = Extract(bytes.NewReader(data), int64(len(data)), "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "md", out.Metadata["type"])
}

func TestExtractRejectsUnknownType(t *testing.T) {
	_, err := Extract(bytes.NewReader(nil), 0, "xlsx")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestExtractInvalidPDF(t *testing.T) {
	data := []byte("not a pdf at all")
	_, err := Extract(bytes.NewReader(data), int64(len(data)), "pdf")
	assert.Error(t, err)
}

func TestNormalizeType(t *testing.T) {
	cases := map[string]string{
		"pdf":         "pdf",
		".PDF":        "pdf",
		"report.docx": "docx",
		" notes.MD ":  "md",
		"txt":         "txt",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeType(in), in)
	}
	assert.True(t, IsSupported("Report.PDF"))
	assert.False(t, IsSupported("image.png"))
}

func TestPageAt(t *testing.T) {
	e := &ExtractedText{PageStarts: []int{0, 100, 250}}

	assert.Equal(t, 1, e.PageAt(0))
	assert.Equal(t, 1, e.PageAt(99))
	assert.Equal(t, 2, e.PageAt(100))
	assert.Equal(t, 3, e.PageAt(1000))
	assert.Equal(t, 1, (&ExtractedText{}).PageAt(50))
}
