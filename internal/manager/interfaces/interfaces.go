package interfaces

import (
	"context"
	"time"
)

// FetchResult is the raw payload retrieved for a URL.
type FetchResult struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
}

// TransformResult is the plain text extracted from a fetched payload.
type TransformResult struct {
	Title       string
	Content     string
	ContentType string
}

// ContextChunk is a retrieved chunk handed to a Generator. Number is the
// 1-based marker the answer uses to cite it.
type ContextChunk struct {
	Number    int
	ChunkID   string
	Title     string
	SourceURL string
	Text      string
}

// ChunkOptions bounds the chunks a Chunker emits.
type ChunkOptions struct {
	MaxSize     int
	OverlapSize int
}

// Fetcher defines the interface for retrieving raw content for a URL.
type Fetcher interface {
	// Fetch retrieves the bytes behind sourceURL
	Fetch(ctx context.Context, sourceURL string) (*FetchResult, error)

	// ValidateSource checks if the source URL can be fetched by this fetcher
	ValidateSource(sourceURL string) error
}

// Transformer defines the interface for turning fetched bytes into plain text.
type Transformer interface {
	// Transform extracts a title and plain text content from body
	Transform(ctx context.Context, sourceURL string, body []byte, contentType string) (*TransformResult, error)

	// GetSourceType returns the type of content this transformer handles
	GetSourceType() string

	// CanTransform checks if this transformer can handle the given content type
	CanTransform(contentType string) bool
}

// Chunker defines the interface for breaking documents into chunks.
type Chunker interface {
	// ChunkDocument splits content into ordered, non-empty chunks
	ChunkDocument(content string, opts ChunkOptions) ([]string, error)

	// GetChunkingStrategy returns the strategy name used by this chunker
	GetChunkingStrategy() string
}

// Embedder defines the interface for generating vector embeddings.
type Embedder interface {
	// GenerateEmbedding creates a vector embedding for the given content
	GenerateEmbedding(ctx context.Context, content string) ([]float32, error)

	// GenerateEmbeddings creates one vector per input, in input order
	GenerateEmbeddings(ctx context.Context, contents []string) ([][]float32, error)

	// GetModelName returns the name of the embedding model
	GetModelName() string

	// GetDimension returns the dimension of the embedding vectors
	GetDimension() int

	// GetMaxBatchSize returns how many inputs one GenerateEmbeddings call accepts
	GetMaxBatchSize() int
}

// Generator produces an answer for a prompt from retrieved context.
type Generator interface {
	// Generate answers prompt using only contextChunks, citing them as [n]
	Generate(ctx context.Context, prompt string, contextChunks []ContextChunk) (string, error)

	// GetModelName returns the name of the generation model
	GetModelName() string
}

// ProcessingOptions contains configuration for the ingestion pipeline.
type ProcessingOptions struct {
	ChunkStrategy       string
	MaxChunkSize        int
	OverlapSize         int
	EmbedBatchSize      int
	EmbedConcurrency    int
	RetryAttempts       int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	FetchTimeout        time.Duration
	EmbedTimeout        time.Duration
	PersistTimeout      time.Duration
}

// RetrievalOptions contains configuration for the retrieval engine.
type RetrievalOptions struct {
	TopK           int
	Overfetch      int
	MaxPromptChars int
	SnippetChars   int
	EmbedTimeout   time.Duration
}
