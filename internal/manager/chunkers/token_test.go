package chunkers

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
)

func TestNewTokenChunker(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
		expected string
	}{
		{"default", "", "cl100k_base"},
		{"explicit", "p50k_base", "p50k_base"},
		{"case insensitive", "R50K_BASE", "r50k_base"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunker, err := NewTokenChunker(tt.encoding)
			if err != nil {
				t.Fatalf("Failed to create token chunker: %v", err)
			}
			if chunker.GetChunkingStrategy() != "token" {
				t.Errorf("Expected strategy 'token', got %s", chunker.GetChunkingStrategy())
			}
			if chunker.Encoding() != tt.expected {
				t.Errorf("Expected encoding %s, got %s", tt.expected, chunker.Encoding())
			}
		})
	}
}

func TestTokenChunker_ChunkDocument(t *testing.T) {
	chunker, err := NewTokenChunker("")
	if err != nil {
		t.Fatalf("Failed to create token chunker: %v", err)
	}

	longContent := strings.Repeat("This is a sentence about retrieval. ", 50)

	tests := []struct {
		name        string
		content     string
		opts        interfaces.ChunkOptions
		minChunks   int
		maxChunks   int
		description string
	}{
		{
			name:        "fits in one chunk",
			content:     "Short content",
			opts:        interfaces.ChunkOptions{MaxSize: 1000, OverlapSize: 10},
			minChunks:   1,
			maxChunks:   1,
			description: "should return content as a single chunk",
		},
		{
			name:        "no overlap",
			content:     longContent,
			opts:        interfaces.ChunkOptions{MaxSize: 50, OverlapSize: 0},
			minChunks:   3,
			maxChunks:   20,
			description: "should split long content",
		},
		{
			name:        "with overlap",
			content:     longContent,
			opts:        interfaces.ChunkOptions{MaxSize: 50, OverlapSize: 10},
			minChunks:   4,
			maxChunks:   30,
			description: "should produce more chunks when overlapping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := chunker.ChunkDocument(tt.content, tt.opts)
			if err != nil {
				t.Fatalf("Unexpected error for test %s: %v", tt.description, err)
			}
			if len(chunks) < tt.minChunks || len(chunks) > tt.maxChunks {
				t.Errorf("%s: expected %d-%d chunks, got %d", tt.description, tt.minChunks, tt.maxChunks, len(chunks))
			}
			for i, chunk := range chunks {
				if chunk == "" {
					t.Errorf("Chunk %d is empty", i)
				}
				count, err := chunker.CountTokens(chunk)
				if err != nil {
					t.Fatalf("CountTokens failed: %v", err)
				}
				// Re-encoding a decoded window can merge tokens differently
				// at its edges, never by more than a couple.
				if count > tt.opts.MaxSize+2 {
					t.Errorf("Chunk %d has %d tokens, max %d", i, count, tt.opts.MaxSize)
				}
			}
		})
	}
}

func TestTokenChunker_NoOverlapRoundTrip(t *testing.T) {
	chunker, err := NewTokenChunker("")
	if err != nil {
		t.Fatalf("Failed to create token chunker: %v", err)
	}

	content := strings.Repeat("Plain ASCII prose keeps token boundaries stable. ", 30)
	chunks, err := chunker.ChunkDocument(content, interfaces.ChunkOptions{MaxSize: 40})
	if err != nil {
		t.Fatalf("ChunkDocument failed: %v", err)
	}
	if strings.Join(chunks, "") != content {
		t.Error("Expected non-overlapping token chunks to concatenate to the input")
	}
}

func TestTokenChunker_MultibyteContent(t *testing.T) {
	chunker, err := NewTokenChunker("")
	if err != nil {
		t.Fatalf("Failed to create token chunker: %v", err)
	}

	content := strings.Repeat("数据检索增强生成😀🚀 ", 40)

	tests := []struct {
		name        string
		opts        interfaces.ChunkOptions
		description string
	}{
		{
			name:        "no overlap",
			opts:        interfaces.ChunkOptions{MaxSize: 7},
			description: "windows should tile the content exactly",
		},
		{
			name:        "with overlap",
			opts:        interfaces.ChunkOptions{MaxSize: 7, OverlapSize: 2},
			description: "overlapping windows should stay valid UTF-8 slices of the content",
		},
		{
			name:        "single token windows",
			opts:        interfaces.ChunkOptions{MaxSize: 1},
			description: "runes spanning several tokens should land whole in one chunk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := chunker.ChunkDocument(content, tt.opts)
			if err != nil {
				t.Fatalf("Unexpected error for test %s: %v", tt.description, err)
			}
			if len(chunks) < 2 {
				t.Fatalf("%s: expected several chunks, got %d", tt.description, len(chunks))
			}

			pos := 0
			for i, chunk := range chunks {
				if !utf8.ValidString(chunk) {
					t.Errorf("%s: chunk %d is not valid UTF-8: %q", tt.description, i, chunk)
				}
				if strings.ContainsRune(chunk, utf8.RuneError) {
					t.Errorf("%s: chunk %d contains a replacement rune", tt.description, i)
				}
				idx := strings.Index(content[pos:], chunk)
				if idx < 0 {
					t.Fatalf("%s: chunk %d is not a slice of the content after offset %d", tt.description, i, pos)
				}
				pos += idx
			}
			if !strings.HasPrefix(content, chunks[0]) {
				t.Errorf("%s: first chunk should start the content", tt.description)
			}
			if !strings.HasSuffix(content, chunks[len(chunks)-1]) {
				t.Errorf("%s: last chunk should end the content", tt.description)
			}
			if tt.opts.OverlapSize == 0 && strings.Join(chunks, "") != content {
				t.Errorf("%s: chunks should concatenate to the content", tt.description)
			}
		})
	}
}

func TestTokenChunker_Errors(t *testing.T) {
	chunker, err := NewTokenChunker("")
	if err != nil {
		t.Fatalf("Failed to create token chunker: %v", err)
	}

	tests := []struct {
		name        string
		content     string
		opts        interfaces.ChunkOptions
		expectedErr error
	}{
		{"empty content", "", interfaces.ChunkOptions{MaxSize: 10}, ErrContentEmpty},
		{"whitespace only", "   \n\t  \r\n  ", interfaces.ChunkOptions{MaxSize: 10}, ErrContentEmpty},
		{"zero max tokens", "Some content", interfaces.ChunkOptions{MaxSize: 0}, ErrInvalidMaxSize},
		{"overlap too large", "Some content", interfaces.ChunkOptions{MaxSize: 5, OverlapSize: 5}, ErrInvalidOverlap},
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

func BenchmarkTokenChunker_LongContent(b *testing.B) {
	chunker, err := NewTokenChunker("")
	if err != nil {
		b.Fatalf("Failed to create token chunker: %v", err)
	}
	content := strings.Repeat("This is a longer piece of content for benchmarking. ", 200)
	opts := interfaces.ChunkOptions{MaxSize: 100, OverlapSize: 20}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = chunker.ChunkDocument(content, opts)
	}
}

func BenchmarkTextChunker_LongContent(b *testing.B) {
	chunker := NewTextChunker()
	content := strings.Repeat("This is a longer piece of content for benchmarking. ", 200)
	opts := interfaces.ChunkOptions{MaxSize: 1000, OverlapSize: 100}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = chunker.ChunkDocument(content, opts)
	}
}
