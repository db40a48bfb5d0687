package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"

	"github.com/rs/zerolog"
)

var timeout = 30 * time.Second

// embeddingData is one item of an OpenAI-compatible embeddings response.
type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
	Object    string    `json:"object"`
}

// apiClient posts to an OpenAI-compatible /embeddings endpoint. OpenAI and
// Together AI share the wire format.
type apiClient struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// post sends request and decodes the response into out. Non-2xx responses
// wrap ErrAPIRequestFailed; client errors other than 408 and 429 are
// marked permanent.
func (c *apiClient) post(ctx context.Context, request, out any) error {
	requestBody, err := json.Marshal(request)
	if err != nil {
		c.logger.Err(err).Msg("failed to marshal request")
		return interfaces.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(requestBody))
	if err != nil {
		c.logger.Err(err).Msg("failed to create request")
		return interfaces.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Err(err).Msg("failed to make request")
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error().Int("status_code", resp.StatusCode).Msg("API request failed")
		err := fmt.Errorf("%w: status %d", ErrAPIRequestFailed, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return interfaces.Permanent(err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Err(err).Msg("failed to decode response")
		return err
	}
	return nil
}

// orderEmbeddings returns the vectors of data in input order, checking that
// every input got exactly one vector of the expected dimension.
func orderEmbeddings(data []embeddingData, inputs, dimension int) ([][]float32, error) {
	if len(data) == 0 {
		return nil, ErrNoEmbeddingData
	}
	if len(data) != inputs {
		return nil, fmt.Errorf("%w: %d inputs, %d vectors", ErrResponseMismatch, inputs, len(data))
	}
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, inputs)
	for i, d := range data {
		if d.Index != i {
			return nil, fmt.Errorf("%w: missing index %d", ErrResponseMismatch, i)
		}
		if dimension > 0 && len(d.Embedding) != dimension {
			return nil, fmt.Errorf("%w: expected dimension %d, got %d",
				ErrResponseMismatch, dimension, len(d.Embedding))
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// cleanInputs applies the newline folding the embedding APIs recommend and
// rejects empty inputs.
func cleanInputs(contents []string) ([]string, error) {
	if len(contents) == 0 {
		return nil, ErrContentEmpty
	}
	out := make([]string, len(contents))
	for i, content := range contents {
		cleanContent := strings.TrimSpace(strings.ReplaceAll(content, "\n", " "))
		if cleanContent == "" {
			return nil, fmt.Errorf("%w: input %d", ErrContentEmpty, i)
		}
		out[i] = cleanContent
	}
	return out, nil
}
