package embedders

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/code-sleuth/ike-rag/internal/config"
	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
)

// New builds the embedder cfg selects. An empty BaseURL keeps the
// provider's default endpoint.
func New(cfg config.EmbedderConfig) (interfaces.Embedder, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "hash":
		if cfg.Dimension < 0 {
			return nil, ErrInvalidDimension
		}
		return NewHashEmbedder(cfg.Dimension), nil
	case "openai":
		model := cfg.Model
		if model == "" {
			model = "text-embedding-3-small"
		}
		return NewOpenAIEmbedderWithClient(model, &http.Client{Timeout: timeout}, cfg.BaseURL)
	case "together", "togetherai":
		model := cfg.Model
		if model == "" {
			model = "togethercomputer/m2-bert-80M-8k-retrieval"
		}
		return NewTogetherAIEmbedderWithClient(model, &http.Client{Timeout: timeout}, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEmbedder, cfg.Type)
	}
}
