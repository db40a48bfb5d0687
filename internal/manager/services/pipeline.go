package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/internal/manager/models"
	"github.com/code-sleuth/ike-rag/internal/manager/repository"
	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	stageFetch   = "fetch"
	stageChunk   = "chunk"
	stageEmbed   = "embed"
	stagePersist = "persist"
)

var (
	// Registration errors.
	ErrTransformerAlreadyRegistered = errors.New("transformer already registered for source type")
	ErrChunkerAlreadyRegistered     = errors.New("chunker already registered for strategy")

	// Processing errors.
	ErrNoTransformerCanHandle = errors.New("no transformer can handle content type")
	ErrNoChunkerRegistered    = errors.New("no chunker registered for strategy")
	ErrNoChunks               = errors.New("chunker produced no chunks")
	ErrWrongDimension         = errors.New("embedding has unexpected dimension")
)

// TokenCounter reports the token count stored with each chunk.
type TokenCounter interface {
	CountTokens(text string) (int, error)
}

// IngestionPipeline turns one claimed IngestJob into a RawDoc and its
// DocChunks: fetch, parse, chunk, embed, persist.
//
// Re-ingesting a URL replaces the earlier document. New chunks are written
// before the new RawDoc; since the live document of a URL is its newest
// RawDoc, readers switch to the new chunk set the moment the RawDoc lands.
// Superseded documents are deleted afterwards.
type IngestionPipeline struct {
	fetcher      interfaces.Fetcher
	transformers []interfaces.Transformer
	chunkers     map[string]interfaces.Chunker
	embedder     interfaces.Embedder
	tokenCounter TokenCounter
	jobs         *repository.JobRepository
	docs         *repository.DocumentRepository
	options      *interfaces.ProcessingOptions
	metrics      *Metrics
	logger       zerolog.Logger
	now          func() time.Time
	mu           sync.RWMutex
}

// NewIngestionPipeline creates a pipeline with no transformers or chunkers
// registered.
func NewIngestionPipeline(
	fetcher interfaces.Fetcher,
	embedder interfaces.Embedder,
	jobs *repository.JobRepository,
	docs *repository.DocumentRepository,
	options *interfaces.ProcessingOptions,
) *IngestionPipeline {
	return &IngestionPipeline{
		fetcher:  fetcher,
		chunkers: make(map[string]interfaces.Chunker),
		embedder: embedder,
		jobs:     jobs,
		docs:     docs,
		options:  options,
		logger:   util.NewLogger(zerolog.ErrorLevel),
		now:      time.Now,
	}
}

func (p *IngestionPipeline) SetLogger(logger zerolog.Logger) {
	p.logger = logger
}

func (p *IngestionPipeline) SetMetrics(metrics *Metrics) {
	p.metrics = metrics
}

func (p *IngestionPipeline) SetTokenCounter(counter TokenCounter) {
	p.tokenCounter = counter
}

// RegisterTransformer adds a transformer. Transformers are consulted in
// registration order, so specialised ones go first.
func (p *IngestionPipeline) RegisterTransformer(transformer interfaces.Transformer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sourceType := transformer.GetSourceType()
	for _, t := range p.transformers {
		if t.GetSourceType() == sourceType {
			p.logger.Error().Str("source_type", sourceType).Msg("Transformer already registered")
			return ErrTransformerAlreadyRegistered
		}
	}

	p.transformers = append(p.transformers, transformer)
	p.logger.Info().Str("source_type", sourceType).Msg("Registered transformer")
	return nil
}

// RegisterChunker adds a chunker under its strategy name.
func (p *IngestionPipeline) RegisterChunker(chunker interfaces.Chunker) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	strategy := chunker.GetChunkingStrategy()
	if _, exists := p.chunkers[strategy]; exists {
		p.logger.Error().Str("strategy", strategy).Msg("Chunker already registered")
		return ErrChunkerAlreadyRegistered
	}

	p.chunkers[strategy] = chunker
	p.logger.Info().Str("strategy", strategy).Msg("Registered chunker")
	return nil
}

// Run processes a job that is already processing. The job ends completed,
// or failed with the stage error as its message; the returned error is
// the same stage error. cancelled is polled before each stage.
func (p *IngestionPipeline) Run(ctx context.Context, job *models.IngestJob, cancelled func() bool) error {
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	logger := p.logger.With().Str("job_id", job.JobID).Str("url", job.URL).Logger()

	doc, err := p.process(ctx, job, cancelled, logger)
	final := context.WithoutCancel(ctx)
	if err != nil {
		message := err.Error()
		if errors.Is(err, interfaces.ErrCancelled) {
			message = interfaces.ErrCancelled.Error()
		}
		logger.Error().Err(err).Msg("Ingest job failed")
		if _, ferr := p.jobs.Fail(final, job.JobID, models.JobStatusProcessing, message); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to mark job failed")
		}
		p.finished(models.JobStatusFailed)
		return err
	}

	if _, err := p.jobs.Complete(final, job.JobID); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job completed")
		return fmt.Errorf("%w: %w", interfaces.ErrPersistence, err)
	}
	p.finished(models.JobStatusCompleted)
	logger.Info().Str("doc_id", doc.DocID).Int("chunk_count", doc.ChunkCount).Msg("Ingest job completed")
	return nil
}

func (p *IngestionPipeline) process(
	ctx context.Context,
	job *models.IngestJob,
	cancelled func() bool,
	logger zerolog.Logger,
) (*models.RawDoc, error) {
	if cancelled() {
		return nil, interfaces.ErrCancelled
	}
	start := time.Now()
	parsed, fetched, err := p.fetchAndParse(ctx, job.URL, logger)
	p.observe(stageFetch, start)
	if err != nil {
		return nil, err
	}

	if cancelled() {
		return nil, interfaces.ErrCancelled
	}
	start = time.Now()
	texts, err := p.chunk(parsed.Content)
	p.observe(stageChunk, start)
	if err != nil {
		return nil, err
	}
	logger.Debug().Int("chunk_count", len(texts)).Msg("Chunked document")

	if cancelled() {
		return nil, interfaces.ErrCancelled
	}
	start = time.Now()
	vectors, err := p.embed(ctx, texts, logger)
	p.observe(stageEmbed, start)
	if err != nil {
		return nil, err
	}

	if cancelled() {
		return nil, interfaces.ErrCancelled
	}
	start = time.Now()
	doc, err := p.persist(ctx, job, parsed, fetched, texts, vectors, logger)
	p.observe(stagePersist, start)
	return doc, err
}

// fetchAndParse retries fetch and parse together: a truncated or garbled
// body is as likely to be fixed by fetching again as a network error.
func (p *IngestionPipeline) fetchAndParse(
	ctx context.Context,
	sourceURL string,
	logger zerolog.Logger,
) (*interfaces.TransformResult, *interfaces.FetchResult, error) {
	var (
		parsed  *interfaces.TransformResult
		fetched *interfaces.FetchResult
	)

	policy := p.retryPolicy(stageFetch, p.options.FetchTimeout, logger)
	err := policy.do(ctx, func(ctx context.Context) error {
		result, err := p.fetcher.Fetch(ctx, sourceURL)
		if err != nil {
			return err
		}

		transformer, err := p.transformerFor(result.ContentType)
		if err != nil {
			return err
		}
		transformed, err := transformer.Transform(ctx, sourceURL, result.Body, result.ContentType)
		if err != nil {
			if !errors.Is(err, interfaces.ErrParse) {
				err = fmt.Errorf("%w: %w", interfaces.ErrParse, err)
			}
			return err
		}
		if strings.TrimSpace(transformed.Content) == "" {
			return fmt.Errorf("%w: no text content", interfaces.ErrParse)
		}

		parsed, fetched = transformed, result
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return parsed, fetched, nil
}

func (p *IngestionPipeline) transformerFor(contentType string) (interfaces.Transformer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, t := range p.transformers {
		if t.CanTransform(contentType) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %w %q", interfaces.ErrParse, ErrNoTransformerCanHandle, contentType)
}

func (p *IngestionPipeline) chunk(content string) ([]string, error) {
	p.mu.RLock()
	chunker, exists := p.chunkers[p.options.ChunkStrategy]
	p.mu.RUnlock()

	if !exists {
		p.logger.Error().Str("strategy", p.options.ChunkStrategy).Msg("No chunker registered for strategy")
		return nil, fmt.Errorf("%w: %q", ErrNoChunkerRegistered, p.options.ChunkStrategy)
	}

	texts, err := chunker.ChunkDocument(content, interfaces.ChunkOptions{
		MaxSize:     p.options.MaxChunkSize,
		OverlapSize: p.options.OverlapSize,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrParse, err)
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrParse, ErrNoChunks)
	}
	return texts, nil
}

// embed sends texts in batches, at most EmbedConcurrency at a time. The
// first failing batch cancels the rest.
func (p *IngestionPipeline) embed(ctx context.Context, texts []string, logger zerolog.Logger) ([][]float32, error) {
	batchSize := max(p.options.EmbedBatchSize, 1)
	if limit := p.embedder.GetMaxBatchSize(); limit > 0 && batchSize > limit {
		batchSize = limit
	}
	dimension := p.embedder.GetDimension()
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.options.EmbedConcurrency, 1))

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch := texts[start:end]
		offset := start

		g.Go(func() error {
			policy := p.retryPolicy(stageEmbed, p.options.EmbedTimeout, logger)
			return policy.do(gctx, func(ctx context.Context) error {
				out, err := p.embedder.GenerateEmbeddings(ctx, batch)
				if err != nil {
					if !errors.Is(err, interfaces.ErrEmbedding) {
						err = fmt.Errorf("%w: %w", interfaces.ErrEmbedding, err)
					}
					return err
				}
				if len(out) != len(batch) {
					return interfaces.Permanent(fmt.Errorf("%w: %d vectors for %d inputs",
						interfaces.ErrEmbedding, len(out), len(batch)))
				}
				for i, vec := range out {
					if len(vec) != dimension {
						return interfaces.Permanent(fmt.Errorf("%w: %w: got %d, want %d",
							interfaces.ErrEmbedding, ErrWrongDimension, len(vec), dimension))
					}
					vectors[offset+i] = vec
				}
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// persist writes chunks, then the RawDoc, then removes superseded
// documents. A failure before the RawDoc is written deletes whatever this
// run wrote.
func (p *IngestionPipeline) persist(
	ctx context.Context,
	job *models.IngestJob,
	parsed *interfaces.TransformResult,
	fetched *interfaces.FetchResult,
	texts []string,
	vectors [][]float32,
	logger zerolog.Logger,
) (*models.RawDoc, error) {
	persistCtx, cancel := context.WithTimeout(ctx, p.options.PersistTimeout)
	defer cancel()

	createdAt, err := p.nextCreatedAt(persistCtx, job.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrPersistence, err)
	}

	contentType := parsed.ContentType
	if contentType == "" {
		contentType = fetched.ContentType
	}
	doc := &models.RawDoc{
		DocID:       uuid.New().String(),
		JobID:       job.JobID,
		SourceURL:   job.URL,
		Title:       parsed.Title,
		ContentType: contentType,
		ChunkCount:  len(texts),
		CreatedAt:   createdAt,
	}

	written := make([]string, 0, len(texts))
	for i, text := range texts {
		chunk := &models.DocChunk{
			ChunkID:    uuid.New().String(),
			DocID:      doc.DocID,
			ChunkIndex: i,
			Text:       text,
			TokenCount: p.countTokens(text),
			Embedding:  vectors[i],
			CreatedAt:  createdAt,
		}
		if err := p.docs.CreateChunk(persistCtx, chunk); err != nil {
			logger.Error().Err(err).Int("chunk_index", i).Msg("Failed to persist chunk")
			p.rollback(ctx, written, "", logger)
			return nil, fmt.Errorf("%w: write chunk %d: %w", interfaces.ErrPersistence, i, err)
		}
		written = append(written, chunk.ChunkID)
	}

	if err := p.docs.CreateRawDoc(persistCtx, doc); err != nil {
		logger.Error().Err(err).Str("doc_id", doc.DocID).Msg("Failed to persist raw doc")
		p.rollback(ctx, written, doc.DocID, logger)
		return nil, fmt.Errorf("%w: write raw doc: %w", interfaces.ErrPersistence, err)
	}
	if p.metrics != nil {
		p.metrics.ChunksStored.Add(float64(len(written)))
	}

	p.removeSuperseded(persistCtx, job.URL, logger)
	return doc, nil
}

// nextCreatedAt returns a timestamp later than every existing document for
// sourceURL, so the new document becomes live even under clock skew.
func (p *IngestionPipeline) nextCreatedAt(ctx context.Context, sourceURL string) (time.Time, error) {
	createdAt := p.now().UTC()
	existing, err := p.docs.FindBySourceURL(ctx, sourceURL)
	if err != nil {
		return time.Time{}, err
	}
	for _, doc := range existing {
		if !createdAt.After(doc.CreatedAt) {
			createdAt = doc.CreatedAt.Add(time.Microsecond)
		}
	}
	return createdAt, nil
}

// removeSuperseded deletes every document for sourceURL except the live
// one. Failures only leave unreachable data behind, so they are logged.
func (p *IngestionPipeline) removeSuperseded(ctx context.Context, sourceURL string, logger zerolog.Logger) {
	docs, err := p.docs.FindBySourceURL(ctx, sourceURL)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to list superseded documents")
		return
	}
	for i := 0; i < len(docs)-1; i++ {
		if err := p.docs.DeleteDocument(ctx, docs[i].DocID); err != nil {
			logger.Warn().Err(err).Str("doc_id", docs[i].DocID).Msg("Failed to delete superseded document")
			continue
		}
		logger.Debug().Str("doc_id", docs[i].DocID).Msg("Deleted superseded document")
	}
}

// rollback runs on a context detached from cancellation so a cancelled run
// still cleans up.
func (p *IngestionPipeline) rollback(ctx context.Context, chunkIDs []string, docID string, logger zerolog.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.options.PersistTimeout)
	defer cancel()

	if docID != "" {
		if err := p.docs.DeleteRawDoc(cleanupCtx, docID); err != nil {
			logger.Error().Err(err).Str("doc_id", docID).Msg("Failed to roll back raw doc")
		}
	}
	for _, id := range chunkIDs {
		if err := p.docs.DeleteChunk(cleanupCtx, id); err != nil {
			logger.Error().Err(err).Str("chunk_id", id).Msg("Failed to roll back chunk")
		}
	}
}

func (p *IngestionPipeline) countTokens(text string) int {
	if p.tokenCounter == nil {
		return 0
	}
	n, err := p.tokenCounter.CountTokens(text)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to count tokens")
		return 0
	}
	return n
}

func (p *IngestionPipeline) retryPolicy(stage string, timeout time.Duration, logger zerolog.Logger) retryPolicy {
	return retryPolicy{
		attempts:       p.options.RetryAttempts,
		initialBackoff: p.options.RetryInitialBackoff,
		maxBackoff:     p.options.RetryMaxBackoff,
		timeout:        timeout,
		onRetry: func(err error, wait time.Duration) {
			logger.Warn().Err(err).Str("stage", stage).Dur("wait", wait).Msg("Retrying stage")
			if p.metrics != nil {
				p.metrics.StageRetries.WithLabelValues(stage).Inc()
			}
		},
	}
}

func (p *IngestionPipeline) observe(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (p *IngestionPipeline) finished(status models.JobStatus) {
	if p.metrics != nil {
		p.metrics.JobsFinished.WithLabelValues(string(status)).Inc()
	}
}
