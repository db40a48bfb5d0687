package chunkers

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
)

// reassemble undoes the overlap between consecutive chunks.
func reassemble(chunks []string, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 {
			b.WriteString(c)
			continue
		}
		b.WriteString(string([]rune(c)[overlap:]))
	}
	return b.String()
}

func TestTextChunker_ShortDocumentIsOneChunk(t *testing.T) {
	chunker := NewTextChunker()
	content := "A short document.\n\nWith two paragraphs."

	chunks, err := chunker.ChunkDocument(content, interfaces.ChunkOptions{MaxSize: 1000, OverlapSize: 100})
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != content {
		t.Errorf("Expected the content as a single chunk, got %q", chunks)
	}
}

func TestTextChunker_UnbrokenTextCount(t *testing.T) {
	chunker := NewTextChunker()
	content := strings.Repeat("x", 10000)

	chunks, err := chunker.ChunkDocument(content, interfaces.ChunkOptions{MaxSize: 1000, OverlapSize: 100})
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	if len(chunks) != 11 {
		t.Fatalf("Expected 11 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if utf8.RuneCountInString(c) > 1000 {
			t.Errorf("Chunk %d exceeds max size: %d", i, utf8.RuneCountInString(c))
		}
	}
	if reassemble(chunks, 100) != content {
		t.Error("Expected chunks to reassemble into the original text")
	}
}

func TestTextChunker_PrefersBoundaries(t *testing.T) {
	chunker := NewTextChunker()

	tests := []struct {
		name        string
		content     string
		opts        interfaces.ChunkOptions
		firstChunk  string
		description string
	}{
		{
			name:        "paragraph break",
			content:     "First sentence. Still first paragraph.\n\nSecond paragraph runs on and on and on.",
			opts:        interfaces.ChunkOptions{MaxSize: 60, OverlapSize: 5},
			firstChunk:  "First sentence. Still first paragraph.\n\n",
			description: "should cut after the paragraph break",
		},
		{
			name:        "sentence end",
			content:     "One sentence here. Another sentence follows it and keeps going for a while",
			opts:        interfaces.ChunkOptions{MaxSize: 36, OverlapSize: 0},
			firstChunk:  "One sentence here. ",
			description: "should cut after the sentence end",
		},
		{
			name:        "word boundary",
			content:     "alpha beta gamma delta epsilon zeta eta theta iota kappa",
			opts:        interfaces.ChunkOptions{MaxSize: 20, OverlapSize: 2},
			firstChunk:  "alpha beta gamma ",
			description: "should cut after whitespace",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := chunker.ChunkDocument(tt.content, tt.opts)
			if err != nil {
				t.Fatalf("ChunkDocument failed: %v", err)
			}
			if chunks[0] != tt.firstChunk {
				t.Errorf("%s: expected first chunk %q, got %q", tt.description, tt.firstChunk, chunks[0])
			}
			if reassemble(chunks, tt.opts.OverlapSize) != tt.content {
				t.Errorf("%s: chunks do not reassemble: %q", tt.description, chunks)
			}
		})
	}
}

func TestTextChunker_RoundTripProse(t *testing.T) {
	chunker := NewTextChunker()
	paragraph := "Retrieval systems split documents into chunks. Each chunk is embedded! " +
		"Does overlap help? It keeps context across boundaries.\n"
	content := strings.Repeat(paragraph+"\n", 40) + "Ünïcödé tail — with multibyte runes."

	for _, opts := range []interfaces.ChunkOptions{
		{MaxSize: 200, OverlapSize: 0},
		{MaxSize: 200, OverlapSize: 50},
		{MaxSize: 333, OverlapSize: 150},
		{MaxSize: 50, OverlapSize: 49},
	} {
		chunks, err := chunker.ChunkDocument(content, opts)
		if err != nil {
			t.Fatalf("ChunkDocument(%+v) failed: %v", opts, err)
		}
		for i, c := range chunks {
			n := utf8.RuneCountInString(c)
			if n == 0 || n > opts.MaxSize {
				t.Fatalf("Chunk %d has invalid size %d for %+v", i, n, opts)
			}
			if i > 0 && n <= opts.OverlapSize {
				t.Fatalf("Chunk %d is not longer than the overlap for %+v", i, opts)
			}
		}
		if reassemble(chunks, opts.OverlapSize) != content {
			t.Errorf("Round trip failed for %+v", opts)
		}
	}
}

func TestTextChunker_Errors(t *testing.T) {
	chunker := NewTextChunker()

	tests := []struct {
		name        string
		content     string
		opts        interfaces.ChunkOptions
		expectedErr error
	}{
		{"empty", "", interfaces.ChunkOptions{MaxSize: 10}, ErrContentEmpty},
		{"whitespace only", " \n\t ", interfaces.ChunkOptions{MaxSize: 10}, ErrContentEmpty},
		{"zero max", "text", interfaces.ChunkOptions{MaxSize: 0}, ErrInvalidMaxSize},
		{"overlap equals max", "text", interfaces.ChunkOptions{MaxSize: 10, OverlapSize: 10}, ErrInvalidOverlap},
		{"negative overlap", "text", interfaces.ChunkOptions{MaxSize: 10, OverlapSize: -1}, ErrInvalidOverlap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := chunker.ChunkDocument(tt.content, tt.opts)
			if !errors.Is(err, tt.expectedErr) {
				t.Errorf("Expected %v, got %v", tt.expectedErr, err)
			}
		})
	}
}
