// Package chunker splits extracted document text into overlapping windows.
//
// Split returns an iter.Seq: nothing is computed until the sequence is
// ranged over, and every range starts again from the beginning of the text.
// Identical text and options always produce identical chunk boundaries.
package chunker

import (
	"fmt"
	"iter"
	"unicode"
)

type Options struct {
	Size    int // window size in characters
	Overlap int // characters shared by consecutive windows
}

// DefaultOptions mirrors 1000 tokens per chunk with 200 tokens of overlap at
// roughly four characters per token.
func DefaultOptions() Options {
	return Options{Size: 4000, Overlap: 800}
}

func (o Options) Validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.Size)
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", o.Size, o.Overlap)
	}
	return nil
}

type Chunk struct {
	Index   int
	Content string
	Start   int // rune offset of the first character, inclusive
	End     int // rune offset, exclusive
}

// Break points tried in order when a window has to be cut before the end of
// the text. A break is only taken in the second half of the window.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune(" "),
}

// Split returns the chunks of text. Whitespace around each window is trimmed
// and windows that are empty after trimming are skipped, so blank input
// yields an empty sequence.
func Split(text string, opts Options) iter.Seq[Chunk] {
	opts = normalize(opts)

	return func(yield func(Chunk) bool) {
		runes := []rune(text)
		n := len(runes)
		index := 0

		for start := 0; start < n; {
			end := start + opts.Size
			if end >= n {
				end = n
			} else {
				end = breakPoint(runes, start, end, opts.Size)
			}

			s, e := trim(runes, start, end)
			if s < e {
				if !yield(Chunk{Index: index, Content: string(runes[s:e]), Start: s, End: e}) {
					return
				}
				index++
			}

			if end >= n {
				return
			}

			next := end - opts.Overlap
			if next <= start {
				next = end
			}
			start = next
		}
	}
}

// Collect materializes a sequence; handy for callers that need a count.
func Collect(seq iter.Seq[Chunk]) []Chunk {
	var out []Chunk
	for c := range seq {
		out = append(out, c)
	}
	return out
}

func normalize(opts Options) Options {
	if opts.Size <= 0 {
		opts = DefaultOptions()
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.Size {
		opts.Overlap = opts.Size / 5
	}
	return opts
}

func breakPoint(runes []rune, start, end, size int) int {
	floor := start + size/2
	for _, sep := range separators {
		if pos := lastIndex(runes[floor:end], sep); pos >= 0 {
			return floor + pos + len(sep)
		}
	}
	return end
}

func lastIndex(s, sep []rune) int {
	for i := len(s) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if s[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func trim(runes []rune, start, end int) (int, int) {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	return start, end
}

// Preview returns the first n characters of text, with "..." appended when
// text was cut.
func Preview(text string, n int) string {
	runes := []rune(text)
	if n <= 0 || len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
