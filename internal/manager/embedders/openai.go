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

// OpenAI accepts up to 2048 inputs per embeddings request.
const openAIMaxBatchSize = 2048

// OpenAIEmbedder implements embedding using OpenAI's API.
type OpenAIEmbedder struct {
	client    apiClient
	model     string
	dimension int
	maxTokens int
	logger    zerolog.Logger
}

var _ interfaces.Embedder = (*OpenAIEmbedder)(nil)

// OpenAIEmbeddingRequest represents the request structure for OpenAI embeddings API.
type OpenAIEmbeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

// OpenAIEmbeddingResponse represents the response structure from OpenAI embeddings API.
type OpenAIEmbeddingResponse struct {
	Data   []embeddingData `json:"data"`
	Model  string          `json:"model"`
	Object string          `json:"object"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(model string) (*OpenAIEmbedder, error) {
	return NewOpenAIEmbedderWithClient(model, nil, "")
}

// NewOpenAIEmbedderWithClient creates a new OpenAI embedder with custom HTTP client and API URL.
func NewOpenAIEmbedderWithClient(model string, httpClient *http.Client, apiURL string) (*OpenAIEmbedder, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)
	apiKey := os.Getenv("OPENAI_API_KEY")
	if strings.EqualFold(apiKey, "") {
		logger.Error().Msg("OPENAI_API_KEY env variable not set")
		return nil, ErrAPIKeyNotSet
	}

	// Set dimension and max tokens based on model
	var dimension, maxTokens int
	switch model {
	case "text-embedding-3-small":
		dimension = 1536
		maxTokens = 8191
	case "text-embedding-3-large":
		dimension = 3072
		maxTokens = 8191
	case "text-embedding-ada-002":
		dimension = 1536
		maxTokens = 8191
	default:
		logger.Error().Str("model", model).Err(ErrUnsupportedModel).Msg("unsupported model")
		return nil, ErrUnsupportedModel
	}

	// Use provided HTTP client or create default one
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	// Use provided API URL or default one
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1/embeddings"
	}

	return &OpenAIEmbedder{
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
func (o *OpenAIEmbedder) GenerateEmbedding(ctx context.Context, content string) ([]float32, error) {
	vectors, err := o.GenerateEmbeddings(ctx, []string{content})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateEmbeddings embeds contents in one request, preserving order.
func (o *OpenAIEmbedder) GenerateEmbeddings(ctx context.Context, contents []string) ([][]float32, error) {
	inputs, err := cleanInputs(contents)
	if err != nil {
		o.logger.Warn().Err(err).Msg("invalid embedding input")
		return nil, interfaces.Permanent(fmt.Errorf("%w: %w", interfaces.ErrEmbedding, err))
	}
	if len(inputs) > openAIMaxBatchSize {
		return nil, interfaces.Permanent(fmt.Errorf("%w: %w", interfaces.ErrEmbedding, ErrBatchTooLarge))
	}

	request := OpenAIEmbeddingRequest{
		Input:          inputs,
		Model:          o.model,
		EncodingFormat: "float",
	}

	var response OpenAIEmbeddingResponse
	if err := o.client.post(ctx, request, &response); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrEmbedding, err)
	}

	vectors, err := orderEmbeddings(response.Data, len(inputs), o.dimension)
	if err != nil {
		o.logger.Error().Err(err).Str("model", o.model).Msg("invalid embedding response")
		return nil, fmt.Errorf("%w: %w", interfaces.ErrEmbedding, err)
	}

	o.logger.Debug().Str("model", o.model).Int("inputs", len(inputs)).
		Int("tokens_used", response.Usage.TotalTokens).Msg("Generated embeddings")
	return vectors, nil
}

// GetModelName returns the name of the embedding model.
func (o *OpenAIEmbedder) GetModelName() string {
	return o.model
}

// GetDimension returns the dimension of the embedding vectors.
func (o *OpenAIEmbedder) GetDimension() int {
	return o.dimension
}

// GetMaxTokens returns the maximum number of tokens this embedder can handle.
func (o *OpenAIEmbedder) GetMaxTokens() int {
	return o.maxTokens
}

// GetMaxBatchSize returns how many inputs one request may carry.
func (o *OpenAIEmbedder) GetMaxBatchSize() int {
	return openAIMaxBatchSize
}
