package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/code-sleuth/ike-rag/internal/manager/chunkers"
	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/internal/manager/models"
	"github.com/code-sleuth/ike-rag/internal/manager/repository"
	"github.com/code-sleuth/ike-rag/internal/manager/testutil"
	"github.com/code-sleuth/ike-rag/internal/manager/transformers"
	"github.com/code-sleuth/ike-rag/internal/manager/vectorstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testDimension = 32

var errInjected = errors.New("injected store failure")

type harness struct {
	store    vectorstore.Store
	jobs     *repository.JobRepository
	docs     *repository.DocumentRepository
	chats    *repository.ChatRepository
	fetcher  *testutil.FakeFetcher
	embedder *testutil.FakeEmbedder
	options  *interfaces.ProcessingOptions
	pipeline *IngestionPipeline
	metrics  *Metrics
}

func testProcessingOptions() *interfaces.ProcessingOptions {
	return &interfaces.ProcessingOptions{
		ChunkStrategy:       "text",
		MaxChunkSize:        1000,
		OverlapSize:         100,
		EmbedBatchSize:      4,
		EmbedConcurrency:    2,
		RetryAttempts:       3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     5 * time.Millisecond,
		FetchTimeout:        time.Second,
		EmbedTimeout:        time.Second,
		PersistTimeout:      5 * time.Second,
	}
}

func newHarness(t *testing.T, store vectorstore.Store) *harness {
	t.Helper()
	if store == nil {
		store = testutil.SetupTestStore(t)
	}

	h := &harness{
		store:    store,
		jobs:     repository.NewJobRepository(store),
		docs:     repository.NewDocumentRepository(store),
		chats:    repository.NewChatRepository(store),
		fetcher:  testutil.NewFakeFetcher(),
		embedder: testutil.NewFakeEmbedder(testDimension),
		options:  testProcessingOptions(),
		metrics:  NewMetrics(),
	}
	h.pipeline = NewIngestionPipeline(h.fetcher, h.embedder, h.jobs, h.docs, h.options)
	h.pipeline.SetMetrics(h.metrics)
	require.NoError(t, h.pipeline.RegisterTransformer(transformers.NewHTMLTransformer()))
	require.NoError(t, h.pipeline.RegisterTransformer(transformers.NewTextTransformer()))
	require.NoError(t, h.pipeline.RegisterChunker(chunkers.NewTextChunker()))
	return h
}

// claimedJob persists a pending job for sourceURL and claims it.
func (h *harness) claimedJob(t *testing.T, sourceURL string) *models.IngestJob {
	t.Helper()
	ctx := context.Background()
	job := &models.IngestJob{
		JobID:    uuid.New().String(),
		URL:      sourceURL,
		Status:   models.JobStatusPending,
		QueuedAt: time.Now().UTC(),
	}
	require.NoError(t, h.jobs.Create(ctx, job))
	claimed, ok, err := h.jobs.Claim(ctx, job.JobID)
	require.NoError(t, err)
	require.True(t, ok)
	return claimed
}

// ingest runs the pipeline for a new job on sourceURL and returns the
// finished job.
func (h *harness) ingest(t *testing.T, sourceURL string) (*models.IngestJob, error) {
	t.Helper()
	job := h.claimedJob(t, sourceURL)
	runErr := h.pipeline.Run(context.Background(), job, nil)
	finished, err := h.jobs.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	return finished, runErr
}

func (h *harness) liveChunks(t *testing.T, sourceURL string) (*models.RawDoc, []models.DocChunk) {
	t.Helper()
	ctx := context.Background()
	doc, err := h.docs.LiveBySourceURL(ctx, sourceURL)
	require.NoError(t, err)
	chunks, err := h.docs.ChunksByDoc(ctx, doc.DocID)
	require.NoError(t, err)
	return doc, chunks
}

func (h *harness) count(t *testing.T, collection string) int {
	t.Helper()
	n, err := h.store.Count(context.Background(), collection)
	require.NoError(t, err)
	return n
}

// failingStore fails Upsert for one collection after allowing a number of
// successful writes to it.
type failingStore struct {
	vectorstore.Store
	collection string
	allow      int
}

func (s *failingStore) Upsert(ctx context.Context, collection string, rec vectorstore.Record) error {
	if collection == s.collection {
		if s.allow <= 0 {
			return errInjected
		}
		s.allow--
	}
	return s.Store.Upsert(ctx, collection, rec)
}
