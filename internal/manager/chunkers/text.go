// Package chunkers splits document text into ordered, bounded chunks.
package chunkers

import (
	"errors"
	"strings"
	"unicode"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
)

var (
	ErrContentEmpty   = errors.New("content cannot be empty")
	ErrInvalidMaxSize = errors.New("max chunk size must be positive")
	ErrInvalidOverlap = errors.New("overlap must be between 0 and max chunk size")
)

// TextChunker cuts text into windows of at most MaxSize runes. Consecutive
// chunks share exactly OverlapSize runes, so
//
//	chunks[0] + chunks[1][overlap:] + ... + chunks[n-1][overlap:]
//
// reproduces the input. A cut prefers, in order, the last paragraph break,
// sentence end or whitespace in the back half of the window.
type TextChunker struct{}

var _ interfaces.Chunker = (*TextChunker)(nil)

func NewTextChunker() *TextChunker {
	return &TextChunker{}
}

func (c *TextChunker) GetChunkingStrategy() string {
	return "text"
}

func (c *TextChunker) ChunkDocument(content string, opts interfaces.ChunkOptions) ([]string, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrContentEmpty
	}

	text := []rune(content)
	n := len(text)
	if n <= opts.MaxSize {
		return []string{content}, nil
	}

	// Cuts are never placed before minCut runes into a window, which keeps
	// every chunk longer than the overlap and guarantees progress.
	minCut := opts.MaxSize / 2
	if minCut < opts.OverlapSize+1 {
		minCut = opts.OverlapSize + 1
	}

	var chunks []string
	start := 0
	for {
		end := start + opts.MaxSize
		if end >= n {
			chunks = append(chunks, string(text[start:]))
			break
		}
		end = findBreak(text, start+minCut, end)
		chunks = append(chunks, string(text[start:end]))
		start = end - opts.OverlapSize
	}
	return chunks, nil
}

// findBreak returns the cut position in [lo, hi]; the rune at cut-1 ends
// the chunk.
func findBreak(text []rune, lo, hi int) int {
	// paragraph
	for cut := hi; cut >= lo; cut-- {
		if cut >= 2 && text[cut-1] == '\n' && text[cut-2] == '\n' {
			return cut
		}
	}
	// sentence
	for cut := hi; cut >= lo; cut-- {
		if cut >= 1 && text[cut-1] == '\n' {
			return cut
		}
		if cut >= 2 && text[cut-1] == ' ' && isSentenceEnd(text[cut-2]) {
			return cut
		}
	}
	// word
	for cut := hi; cut >= lo; cut-- {
		if cut >= 1 && unicode.IsSpace(text[cut-1]) {
			return cut
		}
	}
	return hi
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func validateOptions(opts interfaces.ChunkOptions) error {
	if opts.MaxSize <= 0 {
		return ErrInvalidMaxSize
	}
	if opts.OverlapSize < 0 || opts.OverlapSize >= opts.MaxSize {
		return ErrInvalidOverlap
	}
	return nil
}
