package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/internal/manager/models"
	"github.com/code-sleuth/ike-rag/internal/manager/repository"
	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	citationMarker = regexp.MustCompile(`\[(\d+)\]`)
	// Bracketed numbers already in source text, such as footnotes.
	sourceMarker = regexp.MustCompile(`[ \t]*\[\d+\]`)
)

// AskResult is the answer to one prompt.
type AskResult struct {
	ChatID    string            `json:"chatId"`
	SessionID string            `json:"sessionId"`
	Answer    string            `json:"answer"`
	Citations []string          `json:"citations"`
	Sources   []models.Citation `json:"sources"`
	AskedAt   time.Time         `json:"askedAt"`
}

// RetrievalEngine answers prompts from the live chunks in the store and
// records each interaction.
type RetrievalEngine struct {
	embedder  interfaces.Embedder
	generator interfaces.Generator
	docs      *repository.DocumentRepository
	chats     *repository.ChatRepository
	options   *interfaces.RetrievalOptions
	metrics   *Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRetrievalEngine creates an engine. embedder must be the one used for
// ingestion; vectors from different models are not comparable.
func NewRetrievalEngine(
	embedder interfaces.Embedder,
	generator interfaces.Generator,
	docs *repository.DocumentRepository,
	chats *repository.ChatRepository,
	options *interfaces.RetrievalOptions,
) *RetrievalEngine {
	return &RetrievalEngine{
		embedder:  embedder,
		generator: generator,
		docs:      docs,
		chats:     chats,
		options:   options,
		logger:    util.NewLogger(zerolog.ErrorLevel),
		now:       time.Now,
	}
}

func (e *RetrievalEngine) SetLogger(logger zerolog.Logger) {
	e.logger = logger
}

func (e *RetrievalEngine) SetMetrics(metrics *Metrics) {
	e.metrics = metrics
}

// Ask answers prompt. It returns ErrNoContent for a blank prompt or when no
// live chunk exists, and never returns citations for chunks that were not
// handed to the generator. An empty sessionID starts a new session.
func (e *RetrievalEngine) Ask(ctx context.Context, prompt, sessionID string) (*AskResult, error) {
	start := time.Now()
	result, err := e.ask(ctx, prompt, sessionID)
	if e.metrics != nil {
		e.metrics.AskDuration.Observe(time.Since(start).Seconds())
		e.metrics.AskTotal.WithLabelValues(askOutcome(err)).Inc()
		if err == nil {
			e.metrics.CitationsGiven.Observe(float64(len(result.Citations)))
		}
	}
	return result, err
}

func (e *RetrievalEngine) ask(ctx context.Context, prompt, sessionID string) (*AskResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", interfaces.ErrNoContent)
	}
	if e.options.MaxPromptChars > 0 && utf8.RuneCountInString(prompt) > e.options.MaxPromptChars {
		return nil, fmt.Errorf("%w: prompt longer than %d characters", interfaces.ErrInvalidInput, e.options.MaxPromptChars)
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	query, err := e.embedQuery(ctx, prompt)
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to embed prompt")
		return nil, err
	}

	chunks, docs, err := e.liveNeighbors(ctx, query)
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to query chunks")
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no documents ingested", interfaces.ErrNoContent)
	}

	contextChunks := make([]interfaces.ContextChunk, len(chunks))
	for i, chunk := range chunks {
		doc := docs[chunk.DocID]
		contextChunks[i] = interfaces.ContextChunk{
			Number:    i + 1,
			ChunkID:   chunk.ChunkID,
			Title:     doc.Title,
			SourceURL: doc.SourceURL,
			Text:      stripMarkers(chunk.Text),
		}
	}

	answer, err := e.generator.Generate(ctx, prompt, contextChunks)
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", sessionID).Str("model", e.generator.GetModelName()).
			Msg("Failed to generate answer")
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	cited := CitedChunks(answer, len(chunks))
	citations := make([]string, len(cited))
	sources := make([]models.Citation, len(cited))
	for i, idx := range cited {
		chunk := chunks[idx]
		doc := docs[chunk.DocID]
		citations[i] = chunk.ChunkID
		sources[i] = models.Citation{
			ChunkID:    chunk.ChunkID,
			DocID:      chunk.DocID,
			SourceURL:  doc.SourceURL,
			Title:      doc.Title,
			ChunkIndex: chunk.ChunkIndex,
			Snippet:    snippet(chunk.Text, e.options.SnippetChars),
		}
	}

	chat := &models.ChatInteraction{
		ChatID:        uuid.New().String(),
		UserSessionID: sessionID,
		Prompt:        prompt,
		Answer:        answer,
		Citations:     citations,
		AskedAt:       e.now().UTC(),
	}
	if err := e.chats.Create(ctx, chat); err != nil {
		e.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to record chat interaction")
		return nil, fmt.Errorf("%w: %w", interfaces.ErrPersistence, err)
	}

	return &AskResult{
		ChatID:    chat.ChatID,
		SessionID: sessionID,
		Answer:    answer,
		Citations: citations,
		Sources:   sources,
		AskedAt:   chat.AskedAt,
	}, nil
}

// History returns a session's interactions in the order they were asked.
func (e *RetrievalEngine) History(ctx context.Context, sessionID string) ([]models.ChatInteraction, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: empty session id", interfaces.ErrInvalidInput)
	}
	return e.chats.ListBySession(ctx, sessionID)
}

func (e *RetrievalEngine) embedQuery(ctx context.Context, prompt string) ([]float32, error) {
	if e.options.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.options.EmbedTimeout)
		defer cancel()
	}

	query, err := e.embedder.GenerateEmbedding(ctx, prompt)
	if err != nil {
		if !errors.Is(err, interfaces.ErrEmbedding) {
			err = fmt.Errorf("%w: %w", interfaces.ErrEmbedding, err)
		}
		return nil, err
	}
	if len(query) != e.embedder.GetDimension() {
		return nil, fmt.Errorf("%w: %w: got %d, want %d",
			interfaces.ErrEmbedding, ErrWrongDimension, len(query), e.embedder.GetDimension())
	}
	return query, nil
}

// liveNeighbors returns the TopK nearest chunks that belong to a live
// document, with those documents keyed by id. It over-fetches and widens
// the search while stale chunks crowd out live ones.
func (e *RetrievalEngine) liveNeighbors(
	ctx context.Context,
	query []float32,
) ([]models.DocChunk, map[string]*models.RawDoc, error) {
	topK := max(e.options.TopK, 1)
	k := topK * max(e.options.Overfetch, 1)

	docs := make(map[string]*models.RawDoc)
	liveByURL := make(map[string]string)
	isLive := func(docID string) (bool, error) {
		if doc, ok := docs[docID]; ok {
			return doc != nil, nil
		}
		doc, err := e.docs.GetRawDoc(ctx, docID)
		if errors.Is(err, repository.ErrDocumentNotFound) {
			// Chunks of a document still being written, or of one being
			// rolled back.
			docs[docID] = nil
			return false, nil
		}
		if err != nil {
			return false, err
		}
		liveID, ok := liveByURL[doc.SourceURL]
		if !ok {
			live, err := e.docs.LiveBySourceURL(ctx, doc.SourceURL)
			if errors.Is(err, repository.ErrDocumentNotFound) {
				docs[docID] = nil
				return false, nil
			}
			if err != nil {
				return false, err
			}
			liveID = live.DocID
			liveByURL[doc.SourceURL] = liveID
		}
		if liveID != docID {
			docs[docID] = nil
			return false, nil
		}
		docs[docID] = doc
		return true, nil
	}

	for {
		candidates, err := e.docs.NearestChunks(ctx, query, k)
		if err != nil {
			return nil, nil, err
		}

		var out []models.DocChunk
		for _, c := range candidates {
			live, err := isLive(c.Chunk.DocID)
			if err != nil {
				return nil, nil, err
			}
			if live {
				out = append(out, *c.Chunk)
				if len(out) == topK {
					break
				}
			}
		}

		if len(out) == topK || len(candidates) < k {
			result := make(map[string]*models.RawDoc, len(docs))
			for id, doc := range docs {
				if doc != nil {
					result[id] = doc
				}
			}
			return out, result, nil
		}
		k *= 2
	}
}

// CitedChunks returns the 0-based positions of the context chunks an
// answer cites with [n] markers, in order of first reference. Markers
// outside 1..n are ignored. An answer with no valid marker cites every
// chunk in rank order.
func CitedChunks(answer string, n int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, m := range citationMarker.FindAllStringSubmatch(answer, -1) {
		num, err := strconv.Atoi(m[1])
		if err != nil || num < 1 || num > n || seen[num] {
			continue
		}
		seen[num] = true
		out = append(out, num-1)
	}
	if len(out) == 0 {
		out = make([]int, n)
		for i := range out {
			out[i] = i
		}
	}
	return out
}

// stripMarkers removes [n] sequences from context text, so a generator that
// quotes its context cannot cite a chunk through someone else's footnote.
func stripMarkers(text string) string {
	return sourceMarker.ReplaceAllString(text, "")
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

func askOutcome(err error) string {
	switch {
	case err == nil:
		return "answered"
	case errors.Is(err, interfaces.ErrNoContent):
		return "no_content"
	case errors.Is(err, interfaces.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, interfaces.ErrEmbedding):
		return "embedding_error"
	default:
		return "error"
	}
}
