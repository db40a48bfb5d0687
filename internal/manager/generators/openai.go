// Package generators produces answers from numbered context chunks. Answers
// cite the chunks they draw on with [n] markers.
package generators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/rs/zerolog"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultTimeout       = 120 * time.Second
)

const systemPrompt = `Answer the question using only the numbered context below.
Cite every statement with the number of the context entry it comes from, written as [n].
If the context does not contain the answer, say so.`

// OpenAIGenerator answers through the chat completions API.
type OpenAIGenerator struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	logger  zerolog.Logger
}

var _ interfaces.Generator = (*OpenAIGenerator)(nil)

type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []chatCompletionMsg `json:"messages"`
	Temperature float64             `json:"temperature"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIGenerator creates a generator reading OPENAI_API_KEY. Empty
// model and baseURL select gpt-4o-mini on api.openai.com; httpClient may be
// nil.
func NewOpenAIGenerator(model, baseURL string, httpClient *http.Client) (*OpenAIGenerator, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		logger.Error().Msg("OPENAI_API_KEY env variable not set")
		return nil, ErrAPIKeyNotSet
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &OpenAIGenerator{
		client:  httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		logger:  logger,
	}, nil
}

func (g *OpenAIGenerator) SetLogger(logger zerolog.Logger) {
	g.logger = logger
}

// Generate sends the context as a numbered list followed by the prompt.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, contextChunks []interfaces.ContextChunk) (string, error) {
	if len(contextChunks) == 0 {
		return "", ErrNoContext
	}

	reqBody := chatCompletionRequest{
		Model: g.model,
		Messages: []chatCompletionMsg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: FormatContext(contextChunks) + "\nQuestion: " + prompt},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %w", ErrGenerationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions",
		bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %w", ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Error().Err(err).Str("model", g.model).Msg("Failed to send completion request")
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			g.logger.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrGenerationFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		g.logger.Error().Int("status_code", resp.StatusCode).Str("model", g.model).Msg("Completion request failed")
		return "", fmt.Errorf("%w: %w: status %d", ErrGenerationFailed, ErrAPIRequestFailed, resp.StatusCode)
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrGenerationFailed, err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("%w: %w: %s", ErrGenerationFailed, ErrAPIRequestFailed, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, ErrNoChoices)
	}

	g.logger.Debug().Str("model", g.model).Int("tokens_used", chatResp.Usage.TotalTokens).Msg("Generated answer")
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

func (g *OpenAIGenerator) GetModelName() string {
	return g.model
}

// FormatContext renders chunks as "[n] title (url)" headers followed by the
// chunk text.
func FormatContext(contextChunks []interfaces.ContextChunk) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for _, c := range contextChunks {
		fmt.Fprintf(&b, "[%d] %s", c.Number, c.Title)
		if c.SourceURL != "" {
			fmt.Fprintf(&b, " (%s)", c.SourceURL)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(c.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}
