package generators

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/code-sleuth/ike-rag/internal/config"
	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
)

var testContext = []interfaces.ContextChunk{
	{
		Number:    1,
		ChunkID:   "c1",
		Title:     "Queue",
		SourceURL: "https://example.com/queue",
		Text:      "Workers claim pending jobs with a compare and swap. Claimed jobs move to processing.",
	},
	{
		Number:    2,
		ChunkID:   "c2",
		Title:     "Bananas",
		SourceURL: "https://example.com/fruit",
		Text:      "Bananas ripen faster next to apples.",
	},
}

func TestExtractiveGenerator_Generate(t *testing.T) {
	tests := []struct {
		name         string
		prompt       string
		maxSentences int
		wantContains []string
		description  string
	}{
		{
			name:         "best sentence cited",
			prompt:       "How do workers claim jobs?",
			maxSentences: 1,
			wantContains: []string{"compare and swap", "[1]"},
			description:  "the sentence sharing the prompt terms wins and cites its chunk",
		},
		{
			name:         "other chunk cited",
			prompt:       "what makes bananas ripen",
			maxSentences: 1,
			wantContains: []string{"Bananas ripen", "[2]"},
			description:  "markers follow the chunk number",
		},
		{
			name:         "several sentences",
			prompt:       "jobs",
			maxSentences: 3,
			wantContains: []string{"[1]", "[2]"},
			description:  "all sentences fit when the limit allows",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewExtractiveGenerator(tt.maxSentences)
			answer, err := g.Generate(context.Background(), tt.prompt, testContext)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.description, err)
			}
			for _, want := range tt.wantContains {
				if !strings.Contains(answer, want) {
					t.Errorf("%s: answer %q missing %q", tt.description, answer, want)
				}
			}
		})
	}
}

func TestExtractiveGenerator_Deterministic(t *testing.T) {
	g := NewExtractiveGenerator(0)
	first, err := g.Generate(context.Background(), "claim", testContext)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := g.Generate(context.Background(), "claim", testContext)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again != first {
			t.Fatalf("answers differ: %q vs %q", first, again)
		}
	}
}

func TestExtractiveGenerator_NoContext(t *testing.T) {
	g := NewExtractiveGenerator(0)
	if _, err := g.Generate(context.Background(), "anything", nil); !errors.Is(err, ErrNoContext) {
		t.Errorf("expected ErrNoContext, got %v", err)
	}
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-api-key")

	tests := []struct {
		name        string
		status      int
		body        string
		want        string
		expectError error
		description string
	}{
		{
			name:        "answer returned",
			status:      http.StatusOK,
			body:        `{"choices":[{"message":{"content":" Jobs are claimed by CAS [1]. "}}]}`,
			want:        "Jobs are claimed by CAS [1].",
			description: "content is trimmed and returned",
		},
		{
			name:        "server error",
			status:      http.StatusInternalServerError,
			body:        `{}`,
			expectError: ErrAPIRequestFailed,
			description: "non-200 fails",
		},
		{
			name:        "api error body",
			status:      http.StatusOK,
			body:        `{"error":{"message":"quota"}}`,
			expectError: ErrAPIRequestFailed,
			description: "an error object fails",
		},
		{
			name:        "no choices",
			status:      http.StatusOK,
			body:        `{"choices":[]}`,
			expectError: ErrNoChoices,
			description: "an empty choice list fails",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/chat/completions" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				var req chatCompletionRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("failed to decode request: %v", err)
				}
				if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "[2] Bananas") {
					t.Errorf("numbered context missing from request: %+v", req.Messages)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			g, err := NewOpenAIGenerator("", server.URL+"/", server.Client())
			if err != nil {
				t.Fatalf("failed to create generator: %v", err)
			}
			answer, err := g.Generate(context.Background(), "how are jobs claimed?", testContext)
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) || !errors.Is(err, ErrGenerationFailed) {
					t.Fatalf("%s: expected %v, got %v", tt.description, tt.expectError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.description, err)
			}
			if answer != tt.want {
				t.Errorf("expected %q, got %q", tt.want, answer)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	g, err := New(config.GeneratorConfig{Type: "extractive"})
	if err != nil || g.GetModelName() != "extractive" {
		t.Fatalf("expected extractive generator, got %v, %v", g, err)
	}
	if _, err := New(config.GeneratorConfig{Type: "openai"}); !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected ErrAPIKeyNotSet, got %v", err)
	}
	if _, err := New(config.GeneratorConfig{Type: "llama"}); !errors.Is(err, ErrUnknownGenerator) {
		t.Errorf("expected ErrUnknownGenerator, got %v", err)
	}
}
