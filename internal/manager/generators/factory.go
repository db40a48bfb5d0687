package generators

import (
	"fmt"
	"strings"

	"github.com/code-sleuth/ike-rag/internal/config"
	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
)

// New builds the generator cfg selects.
func New(cfg config.GeneratorConfig) (interfaces.Generator, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "extractive":
		return NewExtractiveGenerator(0), nil
	case "openai":
		return NewOpenAIGenerator(cfg.Model, cfg.BaseURL, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGenerator, cfg.Type)
	}
}
