package textextract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var ErrUnsupportedType = errors.New("unsupported file type")

type ExtractedText struct {
	Content string
	Pages   int
	// PageStarts holds the rune offset at which each page begins in Content.
	PageStarts []int
	Metadata   map[string]string
}

// PageAt returns the 1-based page holding the rune at offset.
func (e *ExtractedText) PageAt(offset int) int {
	if len(e.PageStarts) == 0 {
		return 1
	}
	i := sort.Search(len(e.PageStarts), func(i int) bool { return e.PageStarts[i] > offset })
	return max(i, 1)
}

// NormalizeType maps an extension, filename or bare type to the canonical
// lowercase type name ("pdf", "docx", "txt", "md").
func NormalizeType(fileType string) string {
	t := strings.ToLower(strings.TrimSpace(fileType))
	if ext := path.Ext(t); ext != "" {
		t = ext
	}
	return strings.TrimPrefix(t, ".")
}

func SupportedTypes() []string {
	return []string{"pdf", "docx", "txt", "md"}
}

func IsSupported(fileType string) bool {
	t := NormalizeType(fileType)
	for _, s := range SupportedTypes() {
		if s == t {
			return true
		}
	}
	return false
}

func Extract(data io.ReaderAt, size int64, fileType string) (*ExtractedText, error) {
	switch NormalizeType(fileType) {
	case "pdf":
		return extractPDF(data, size)
	case "docx":
		return extractDOCX(data, size)
	case "txt", "md":
		return extractPlain(data, size, NormalizeType(fileType))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
}

func extractPDF(data io.ReaderAt, size int64) (*ExtractedText, error) {
	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	var buf strings.Builder
	numPages := reader.NumPage()
	starts := make([]int, 0, numPages)
	offset := 0

	for i := 1; i <= numPages; i++ {
		starts = append(starts, offset)
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.ToValidUTF8(text, "") + "\n\n"
		buf.WriteString(text)
		offset += utf8.RuneCountInString(text)
	}

	return &ExtractedText{
		Content:    buf.String(),
		Pages:      numPages,
		PageStarts: starts,
		Metadata:   map[string]string{"type": "pdf"},
	}, nil
}

func extractDOCX(data io.ReaderAt, size int64) (*ExtractedText, error) {
	reader, err := zip.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open DOCX: %w", err)
	}

	for _, f := range reader.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open document.xml: %w", err)
		}
		defer rc.Close()

		text, err := docxText(rc)
		if err != nil {
			return nil, fmt.Errorf("parse document.xml: %w", err)
		}
		return &ExtractedText{
			Content:    text,
			Pages:      1,
			PageStarts: []int{0},
			Metadata:   map[string]string{"type": "docx"},
		}, nil
	}

	return nil, fmt.Errorf("open DOCX: word/document.xml not found")
}

// docxText walks the WordprocessingML token stream. Runs of w:t become text,
// paragraphs end with a blank line so the chunker can break on them.
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func extractPlain(data io.ReaderAt, size int64, kind string) (*ExtractedText, error) {
	buf := make([]byte, size)
	n, err := data.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", kind, err)
	}
	buf = bytes.TrimPrefix(buf[:n], []byte("\xef\xbb\xbf"))

	return &ExtractedText{
		Content:    strings.ToValidUTF8(string(buf), "�"),
		Pages:      1,
		PageStarts: []int{0},
		Metadata:   map[string]string{"type": kind},
	}, nil
}
