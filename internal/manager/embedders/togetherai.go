package embedders

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/rs/zerolog"
)

const togetherAIMaxBatchSize = 128

// TogetherAIEmbedder implements embedding using Together AI's API.
type TogetherAIEmbedder struct {
	client    apiClient
	model     string
	dimension int
	maxTokens int
	logger    zerolog.Logger
}

var _ interfaces.Embedder = (*TogetherAIEmbedder)(nil)

// TogetherAIEmbeddingRequest represents the request structure for Together AI embeddings API.
type TogetherAIEmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// TogetherAIEmbeddingResponse represents the response structure from Together AI embeddings API.
type TogetherAIEmbeddingResponse struct {
	Data   []embeddingData `json:"data"`
	Model  string          `json:"model"`
	Object string          `json:"object"`
}

// NewTogetherAIEmbedder creates a new Together AI embedder.
func NewTogetherAIEmbedder(model string) (*TogetherAIEmbedder, error) {
	return NewTogetherAIEmbedderWithClient(model, nil, "")
}

// NewTogetherAIEmbedderWithClient creates a new Together AI embedder with custom HTTP client and API URL.
func NewTogetherAIEmbedderWithClient(
	model string,
	httpClient *http.Client,
	apiURL string,
) (*TogetherAIEmbedder, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)
	apiKey := os.Getenv("TOGETHER_API_KEY")
	if strings.EqualFold(apiKey, "") {
		logger.Error().Msg("TOGETHER_API_KEY env variable not set")
		return nil, ErrAPIKeyNotSet
	}

	// Set dimension and max tokens based on model
	var dimension, maxTokens int
	switch model {
	case "togethercomputer/m2-bert-80M-8k-retrieval":
		dimension = 768
		maxTokens = 8192
	case "togethercomputer/m2-bert-80M-32k-retrieval":
		dimension = 768
		maxTokens = 32768
	case "BAAI/bge-base-en-v1.5":
		dimension = 768
		maxTokens = 512
	default:
		logger.Error().Str("model", model).Err(ErrUnsupportedModel).Msg("unsupported model")
		return nil, ErrUnsupportedModel
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	if apiURL == "" {
		apiURL = "https://api.together.xyz/v1/embeddings"
	}

	return &TogetherAIEmbedder{
		client: apiClient{
			apiKey:     apiKey,
			apiURL:     apiURL,
			httpClient: httpClient,
			logger:     logger,
		},
		model:     model,
		dimension: dimension,
		maxTokens: maxTokens,
		logger:    logger,
	}, nil
}

// GenerateEmbedding creates a vector embedding for the given content.
func (t *TogetherAIEmbedder) GenerateEmbedding(ctx context.Context, content string) ([]float32, error) {
	vectors, err := t.GenerateEmbeddings(ctx, []string{content})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateEmbeddings embeds contents in one request, preserving order.
func (t *TogetherAIEmbedder) GenerateEmbeddings(ctx context.Context, contents []string) ([][]float32, error) {
	inputs, err := cleanInputs(contents)
	if err != nil {
		t.logger.Warn().Err(err).Msg("invalid embedding input")
		return nil, interfaces.Permanent(fmt.Errorf("%w: %w", interfaces.ErrEmbedding, err))
	}
	if len(inputs) > togetherAIMaxBatchSize {
		return nil, interfaces.Permanent(fmt.Errorf("%w: %w", interfaces.ErrEmbedding, ErrBatchTooLarge))
	}

	request := TogetherAIEmbeddingRequest{
		Input: inputs,
		Model: t.model,
	}

	var response TogetherAIEmbeddingResponse
	if err := t.client.post(ctx, request, &response); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrEmbedding, err)
	}

	vectors, err := orderEmbeddings(response.Data, len(inputs), t.dimension)
	if err != nil {
		t.logger.Error().Err(err).Str("model", t.model).Msg("invalid embedding response")
		return nil, fmt.Errorf("%w: %w", interfaces.ErrEmbedding, err)
	}

	t.logger.Debug().Str("model", t.model).Int("inputs", len(inputs)).Msg("Generated embeddings")
	return vectors, nil
}

// GetModelName returns the name of the embedding model.
func (t *TogetherAIEmbedder) GetModelName() string {
	return t.model
}

// GetDimension returns the dimension of the embedding vectors.
func (t *TogetherAIEmbedder) GetDimension() int {
	return t.dimension
}

// GetMaxTokens returns the maximum number of tokens this embedder can handle.
func (t *TogetherAIEmbedder) GetMaxTokens() int {
	return t.maxTokens
}

// GetMaxBatchSize returns how many inputs one request may carry.
func (t *TogetherAIEmbedder) GetMaxBatchSize() int {
	return togetherAIMaxBatchSize
}
