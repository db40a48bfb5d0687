package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/code-sleuth/ike-rag/internal/manager/generators"
	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/internal/manager/models"
	"github.com/code-sleuth/ike-rag/internal/manager/repository"
	"github.com/code-sleuth/ike-rag/internal/manager/testutil"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetrievalOptions() *interfaces.RetrievalOptions {
	return &interfaces.RetrievalOptions{
		TopK:           3,
		Overfetch:      2,
		MaxPromptChars: 200,
		SnippetChars:   40,
		EmbedTimeout:   time.Second,
	}
}

func newEngine(h *harness, generator interfaces.Generator) *RetrievalEngine {
	engine := NewRetrievalEngine(h.embedder, generator, h.docs, h.chats, testRetrievalOptions())
	engine.SetMetrics(h.metrics)
	return engine
}

// seedDoc writes a RawDoc and its chunks for sourceURL straight to the
// store, bypassing the pipeline.
func seedDoc(t *testing.T, h *harness, docID, sourceURL string, createdAt time.Time, texts ...string) []string {
	t.Helper()
	ctx := context.Background()
	var ids []string
	for i, text := range texts {
		vec, err := h.embedder.GenerateEmbedding(ctx, text)
		require.NoError(t, err)
		chunk := &models.DocChunk{
			ChunkID:    docID + "-" + string(rune('a'+i)),
			DocID:      docID,
			ChunkIndex: i,
			Text:       text,
			Embedding:  vec,
			CreatedAt:  createdAt,
		}
		require.NoError(t, h.docs.CreateChunk(ctx, chunk))
		ids = append(ids, chunk.ChunkID)
	}
	require.NoError(t, h.docs.CreateRawDoc(ctx, &models.RawDoc{
		DocID:      docID,
		JobID:      "job-" + docID,
		SourceURL:  sourceURL,
		Title:      "Title " + docID,
		ChunkCount: len(texts),
		CreatedAt:  createdAt,
	}))
	return ids
}

func TestRetrieval_InvalidPrompts(t *testing.T) {
	h := newHarness(t, nil)
	engine := newEngine(h, &testutil.FakeGenerator{Fixed: "unused"})

	tests := []struct {
		name        string
		prompt      string
		wantErr     error
		description string
	}{
		{
			name:        "empty",
			prompt:      "",
			wantErr:     interfaces.ErrNoContent,
			description: "an empty prompt has nothing to answer",
		},
		{
			name:        "whitespace",
			prompt:      " \t\n",
			wantErr:     interfaces.ErrNoContent,
			description: "a blank prompt is empty",
		},
		{
			name:        "too long",
			prompt:      strings.Repeat("why ", 51),
			wantErr:     interfaces.ErrInvalidInput,
			description: "prompts over the limit are rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Ask(context.Background(), tt.prompt, "s1")
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.wantErr, tt.description)
		})
	}
	assert.Zero(t, h.embedder.Calls(), "invalid prompts are never embedded")
	assert.Zero(t, h.count(t, repository.CollectionChatInteraction))
}

func TestRetrieval_EmptyCorpus(t *testing.T) {
	h := newHarness(t, nil)
	generator := &testutil.FakeGenerator{Fixed: "unused"}
	engine := newEngine(h, generator)

	_, err := engine.Ask(context.Background(), "What is this about?", "s1")
	assert.ErrorIs(t, err, interfaces.ErrNoContent)
	assert.Nil(t, generator.LastContext(), "the generator is not called without context")
	assert.Equal(t, 1.0, promtestutil.ToFloat64(h.metrics.AskTotal.WithLabelValues("no_content")))
}

func TestRetrieval_EmbeddingFailure(t *testing.T) {
	h := newHarness(t, nil)
	seedDoc(t, h, "d1", docURL, time.Now().UTC(), "some text")
	h.embedder.AlwaysFail = true
	engine := newEngine(h, &testutil.FakeGenerator{Fixed: "unused"})

	_, err := engine.Ask(context.Background(), "question", "s1")
	assert.ErrorIs(t, err, interfaces.ErrEmbedding)
	assert.Zero(t, h.count(t, repository.CollectionChatInteraction), "failed asks are not recorded")
	assert.Equal(t, 1.0, promtestutil.ToFloat64(h.metrics.AskTotal.WithLabelValues("embedding_error")))
}

func TestRetrieval_FootnotesInSourceAreNotCitations(t *testing.T) {
	h := newHarness(t, nil)
	now := time.Now().UTC()
	goIDs := seedDoc(t, h, "docgo", "https://example.com/go", now,
		"Go was released by Google in 2009 [2]. Go is compiled[12].")
	seedDoc(t, h, "docfruit", "https://example.com/fruit", now.Add(time.Second),
		"Bananas are yellow. Apples are red.")

	t.Run("extractive", func(t *testing.T) {
		engine := newEngine(h, generators.NewExtractiveGenerator(1))

		result, err := engine.Ask(context.Background(), "When was Go released by Google?", "s1")
		require.NoError(t, err)
		assert.Equal(t, []string{goIDs[0]}, result.Citations)
		assert.Contains(t, result.Answer, "Go was released by Google in 2009.")
	})

	t.Run("context", func(t *testing.T) {
		generator := &testutil.FakeGenerator{Fixed: "No markers here."}
		engine := newEngine(h, generator)

		_, err := engine.Ask(context.Background(), "When was Go released by Google?", "s2")
		require.NoError(t, err)
		for _, c := range generator.LastContext() {
			assert.NotRegexp(t, `\[\d+\]`, c.Text)
		}
	})
}

func TestRetrieval_GeneratorFailure(t *testing.T) {
	h := newHarness(t, nil)
	seedDoc(t, h, "d1", docURL, time.Now().UTC(), "some text")
	errDown := errors.New("model unavailable")
	engine := newEngine(h, &testutil.FakeGenerator{Err: errDown})

	_, err := engine.Ask(context.Background(), "question", "s1")
	assert.ErrorIs(t, err, errDown)
	assert.Zero(t, h.count(t, repository.CollectionChatInteraction))
}

func TestRetrieval_AnswersFromIngestedDocument(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.Serve(docURL, testutil.FakePage{Body: "# Guide\n\nThis guide is about retrieval augmented generation."})
	_, err := h.ingest(t, docURL)
	require.NoError(t, err)
	_, chunks := h.liveChunks(t, docURL)
	require.Len(t, chunks, 1)

	generator := &testutil.FakeGenerator{Fixed: "It is about retrieval augmented generation [1]."}
	engine := newEngine(h, generator)

	result, err := engine.Ask(context.Background(), "What is this about?", "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", result.SessionID)
	assert.Equal(t, generator.Fixed, result.Answer)
	assert.Equal(t, []string{chunks[0].ChunkID}, result.Citations)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, docURL, result.Sources[0].SourceURL)
	assert.Equal(t, "Guide", result.Sources[0].Title)
	assert.LessOrEqual(t, len([]rune(result.Sources[0].Snippet)), 41)

	got := generator.LastContext()
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Number)
	assert.Equal(t, chunks[0].ChunkID, got[0].ChunkID)

	chat, err := h.chats.Get(context.Background(), result.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "What is this about?", chat.Prompt)
	assert.Equal(t, result.Citations, chat.Citations)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(h.metrics.AskTotal.WithLabelValues("answered")))
}

func TestRetrieval_Citations(t *testing.T) {
	tests := []struct {
		name        string
		answer      func(chunks []interfaces.ContextChunk) string
		want        func(chunks []interfaces.ContextChunk) []string
		description string
	}{
		{
			name:   "order of first reference, deduplicated",
			answer: func([]interfaces.ContextChunk) string { return "B [3]. A [1]. B again [3]." },
			want: func(c []interfaces.ContextChunk) []string {
				return []string{c[2].ChunkID, c[0].ChunkID}
			},
			description: "each chunk is cited once, in the order the answer refers to it",
		},
		{
			name:   "no markers",
			answer: func([]interfaces.ContextChunk) string { return "An answer without markers." },
			want: func(c []interfaces.ContextChunk) []string {
				return []string{c[0].ChunkID, c[1].ChunkID, c[2].ChunkID}
			},
			description: "every context chunk is cited in rank order",
		},
		{
			name:   "out of range markers",
			answer: func([]interfaces.ContextChunk) string { return "See [0], [7] and [2]." },
			want: func(c []interfaces.ContextChunk) []string {
				return []string{c[1].ChunkID}
			},
			description: "markers outside the context are ignored",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			now := time.Now().UTC()
			seedDoc(t, h, "d1", "https://example.com/1", now, "alpha apples orchard", "beta bananas plantation")
			seedDoc(t, h, "d2", "https://example.com/2", now, "gamma grapes vineyard", "delta dates palms")

			generator := &testutil.FakeGenerator{
				Answer: func(_ string, chunks []interfaces.ContextChunk) string { return tt.answer(chunks) },
			}
			engine := newEngine(h, generator)

			result, err := engine.Ask(context.Background(), "apples bananas grapes", "")
			require.NoError(t, err)
			ctxChunks := generator.LastContext()
			require.Len(t, ctxChunks, 3)
			assert.Equal(t, tt.want(ctxChunks), result.Citations, tt.description)
			assert.NotEmpty(t, result.SessionID, "an empty session id starts a new session")

			given := make(map[string]bool)
			for _, c := range ctxChunks {
				given[c.ChunkID] = true
			}
			for _, id := range result.Citations {
				assert.True(t, given[id], "citations only name chunks given to the generator")
			}
		})
	}
}

func TestRetrieval_SkipsStaleAndInFlightChunks(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	text := "kubernetes operators reconcile state"

	// Superseded version of the same URL.
	seedDoc(t, h, "old", docURL, now.Add(-time.Hour), text, text)
	// Chunks whose RawDoc has not been written yet.
	vec, err := h.embedder.GenerateEmbedding(ctx, text)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.docs.CreateChunk(ctx, &models.DocChunk{
			ChunkID:    "inflight-" + string(rune('a'+i)),
			DocID:      "inflight",
			ChunkIndex: i,
			Text:       text,
			Embedding:  vec,
			CreatedAt:  now,
		}))
	}
	live := seedDoc(t, h, "new", docURL, now, "unrelated words about cooking pasta")

	generator := &testutil.FakeGenerator{Fixed: "answer [1]"}
	engine := NewRetrievalEngine(h.embedder, generator, h.docs, h.chats, &interfaces.RetrievalOptions{
		TopK:      1,
		Overfetch: 1,
	})

	result, err := engine.Ask(ctx, text, "s1")
	require.NoError(t, err)
	assert.Equal(t, live, result.Citations, "only the live document is searched")
	ctxChunks := generator.LastContext()
	require.Len(t, ctxChunks, 1)
	assert.Equal(t, "Title new", ctxChunks[0].Title)
}

func TestRetrieval_History(t *testing.T) {
	h := newHarness(t, nil)
	seedDoc(t, h, "d1", docURL, time.Now().UTC(), "session history text")
	engine := newEngine(h, &testutil.FakeGenerator{Fixed: "ok [1]"})

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	engine.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for _, prompt := range []string{"first question", "second question", "third question"} {
		_, err := engine.Ask(context.Background(), prompt, "session-a")
		require.NoError(t, err)
	}
	_, err := engine.Ask(context.Background(), "other session", "session-b")
	require.NoError(t, err)

	history, err := engine.History(context.Background(), "session-a")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, want := range []string{"first question", "second question", "third question"} {
		assert.Equal(t, want, history[i].Prompt)
		assert.Equal(t, "session-a", history[i].UserSessionID)
	}

	empty, err := engine.History(context.Background(), "session-c")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = engine.History(context.Background(), " ")
	assert.ErrorIs(t, err, interfaces.ErrInvalidInput)
}

func TestCitedChunks(t *testing.T) {
	tests := []struct {
		name        string
		answer      string
		n           int
		want        []int
		description string
	}{
		{name: "single", answer: "yes [1]", n: 1, want: []int{0}, description: "one marker"},
		{name: "ordered", answer: "[2] then [1]", n: 2, want: []int{1, 0}, description: "first reference order"},
		{name: "duplicates", answer: "[1][1][2][1]", n: 2, want: []int{0, 1}, description: "deduplicated"},
		{name: "none", answer: "plain", n: 3, want: []int{0, 1, 2}, description: "all chunks when unmarked"},
		{name: "all invalid", answer: "[0] [4]", n: 3, want: []int{0, 1, 2}, description: "invalid markers count as none"},
		{name: "not a number", answer: "[a] [1.5] [2]", n: 2, want: []int{1}, description: "only integer markers"},
		{name: "no chunks", answer: "[1]", n: 0, want: []int{}, description: "nothing to cite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CitedChunks(tt.answer, tt.n), tt.description)
		})
	}
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", snippet("a\n b\t\tc", 10))
	assert.Equal(t, "abc…", snippet("abcdef", 3))
	assert.Equal(t, "abcdef", snippet("abcdef", 0))
}

func TestStripMarkers(t *testing.T) {
	assert.Equal(t, "Released in 2009.", stripMarkers("Released in 2009 [2]."))
	assert.Equal(t, "See notes and more.", stripMarkers("See notes[1][23] and more."))
	assert.Equal(t, "Keep [a] and [ 1 ].", stripMarkers("Keep [a] and [ 1 ]."))
}
