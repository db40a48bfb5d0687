package embedders

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
)

func TestNewTogetherAIEmbedder(t *testing.T) {
	tests := []struct {
		name        string
		model       string
		apiKey      string
		expectError error
		expectedDim int
		expectedMax int
		description string
	}{
		{
			name:        "m2-bert 8k",
			model:       "togethercomputer/m2-bert-80M-8k-retrieval",
			apiKey:      "test-api-key",
			expectedDim: 768,
			expectedMax: 8192,
			description: "should create embedder for the 8k retrieval model",
		},
		{
			name:        "bge base",
			model:       "BAAI/bge-base-en-v1.5",
			apiKey:      "test-api-key",
			expectedDim: 768,
			expectedMax: 512,
			description: "should create embedder for bge-base",
		},
		{
			name:        "unsupported model",
			model:       "text-embedding-3-small",
			apiKey:      "test-api-key",
			expectError: ErrUnsupportedModel,
			description: "OpenAI models are not served here",
		},
		{
			name:        "missing api key",
			model:       "togethercomputer/m2-bert-80M-8k-retrieval",
			expectError: ErrAPIKeyNotSet,
			description: "should return error when API key is missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TOGETHER_API_KEY", tt.apiKey)

			embedder, err := NewTogetherAIEmbedder(tt.model)
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("%s: expected %v, got %v", tt.description, tt.expectError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.description, err)
			}
			if embedder.GetDimension() != tt.expectedDim {
				t.Errorf("expected dimension %d, got %d", tt.expectedDim, embedder.GetDimension())
			}
			if embedder.GetMaxTokens() != tt.expectedMax {
				t.Errorf("expected max tokens %d, got %d", tt.expectedMax, embedder.GetMaxTokens())
			}
		})
	}
}

func TestTogetherAIEmbedder_GenerateEmbeddings(t *testing.T) {
	t.Setenv("TOGETHER_API_KEY", "test-api-key")
	server := embeddingServer(t, 768, http.StatusOK)

	embedder, err := NewTogetherAIEmbedderWithClient("togethercomputer/m2-bert-80M-8k-retrieval",
		server.Client(), server.URL)
	if err != nil {
		t.Fatalf("failed to create embedder: %v", err)
	}

	vectors, err := embedder.GenerateEmbeddings(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 || vectors[1][0] != 1 {
		t.Errorf("unexpected vectors: %d returned", len(vectors))
	}
}

func TestTogetherAIEmbedder_ServerError(t *testing.T) {
	t.Setenv("TOGETHER_API_KEY", "test-api-key")
	server := embeddingServer(t, 768, http.StatusServiceUnavailable)

	embedder, err := NewTogetherAIEmbedderWithClient("togethercomputer/m2-bert-80M-8k-retrieval",
		server.Client(), server.URL)
	if err != nil {
		t.Fatalf("failed to create embedder: %v", err)
	}

	_, err = embedder.GenerateEmbedding(context.Background(), "text")
	if !errors.Is(err, ErrAPIRequestFailed) || !errors.Is(err, interfaces.ErrEmbedding) {
		t.Fatalf("expected wrapped ErrAPIRequestFailed, got %v", err)
	}
	if interfaces.IsPermanent(err) {
		t.Error("503 should be retryable")
	}
}
