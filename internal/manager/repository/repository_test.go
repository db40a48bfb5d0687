package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/internal/manager/models"
	"github.com/code-sleuth/ike-rag/internal/manager/testutil"
	"github.com/code-sleuth/ike-rag/internal/manager/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newJob(id string, offset time.Duration) *models.IngestJob {
	return &models.IngestJob{
		JobID:    id,
		URL:      "https://example.com/" + id,
		Status:   models.JobStatusPending,
		QueuedAt: base.Add(offset),
	}
}

func TestJobRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testutil.SetupTestStore(t))
	repo.now = func() time.Time { return base.Add(time.Hour) }

	require.NoError(t, repo.Create(ctx, newJob("job-1", 0)))

	job, ok, err := repo.Claim(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusProcessing, job.Status)

	_, ok, err = repo.Claim(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok, "a processing job cannot be claimed again")

	job, err = repo.Complete(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.True(t, job.CompletedAt.Equal(base.Add(time.Hour)))
	assert.Nil(t, job.ErrorMessage)

	_, err = repo.Fail(ctx, "job-1", models.JobStatusProcessing, "late failure")
	assert.ErrorIs(t, err, ErrStaleStatus, "terminal jobs never transition again")

	stored, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.True(t, stored.QueuedAt.Equal(base))
}

func TestJobRepository_FailPending(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(vectorstore.NewMemoryStore())

	require.NoError(t, repo.Create(ctx, newJob("job-1", 0)))

	job, err := repo.Fail(ctx, "job-1", models.JobStatusPending, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "cancelled", *job.ErrorMessage)

	_, ok, err := repo.Claim(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok, "a failed job cannot be claimed")
}

func TestJobRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(vectorstore.NewMemoryStore())

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)

	_, _, err = repo.Claim(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
}

func TestJobRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(testutil.SetupTestStore(t))

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newJob(fmt.Sprintf("job-%d", i), time.Duration(i)*time.Second)))
	}
	_, ok, err := repo.Claim(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	jobs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "job-2", jobs[0].JobID, "most recently queued first")

	pending, err := repo.ListByStatus(ctx, models.JobStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "job-0", pending[0].JobID)
	assert.Equal(t, "job-2", pending[1].JobID)
}

func TestDocumentRepository_LiveDocument(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(testutil.SetupTestStore(t))
	const url = "https://example.com/page"

	_, err := repo.LiveBySourceURL(ctx, url)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	older := &models.RawDoc{DocID: "doc-old", JobID: "j1", SourceURL: url, Title: "v1", CreatedAt: base}
	newer := &models.RawDoc{DocID: "doc-new", JobID: "j2", SourceURL: url, Title: "v2", CreatedAt: base.Add(time.Minute)}
	other := &models.RawDoc{DocID: "doc-other", JobID: "j3", SourceURL: "https://other.example", CreatedAt: base.Add(time.Second)}

	require.NoError(t, repo.CreateRawDoc(ctx, newer))
	require.NoError(t, repo.CreateRawDoc(ctx, older))
	require.NoError(t, repo.CreateRawDoc(ctx, other))

	live, err := repo.LiveBySourceURL(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "doc-new", live.DocID)

	all, err := repo.FindBySourceURL(ctx, url)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "doc-old", all[0].DocID)

	listed, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2, "one live document per source URL")
	assert.Equal(t, "doc-new", listed[0].DocID)
	assert.Equal(t, "doc-other", listed[1].DocID)
}

func TestDocumentRepository_Chunks(t *testing.T) {
	ctx := context.Background()
	database := testutil.SetupTestDB(t)
	repo := NewDocumentRepository(vectorstore.NewSQLStore(database.DB))

	doc := &models.RawDoc{DocID: "doc-1", SourceURL: "https://example.com", CreatedAt: base, ChunkCount: 3}
	require.NoError(t, repo.CreateRawDoc(ctx, doc))

	vectors := [][]float32{{1, 0}, {0, 1}, {1, 1}}
	for i := len(vectors) - 1; i >= 0; i-- {
		require.NoError(t, repo.CreateChunk(ctx, &models.DocChunk{
			ChunkID:    fmt.Sprintf("chunk-%d", i),
			DocID:      "doc-1",
			ChunkIndex: i,
			Text:       fmt.Sprintf("text %d", i),
			Embedding:  vectors[i],
			CreatedAt:  base.Add(time.Millisecond),
		}))
	}

	chunks, err := repo.ChunksByDoc(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Equal(t, vectors[i], chunk.Embedding)
	}

	hits, err := repo.NearestChunks(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "chunk-1", hits[0].Chunk.ChunkID)
	assert.InDelta(t, 0, hits[0].Distance, 1e-6)

	_, err = repo.GetChunk(ctx, "missing")
	assert.ErrorIs(t, err, ErrChunkNotFound)

	require.NoError(t, repo.DeleteDocument(ctx, "doc-1"))
	assert.Equal(t, 0, testutil.GetRecordCount(t, database, CollectionDocChunk))
	assert.False(t, testutil.RecordExists(t, database, CollectionRawDoc, "doc-1"))

	_, err = repo.GetRawDoc(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestChatRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewChatRepository(testutil.SetupTestStore(t))

	chats := []*models.ChatInteraction{
		{ChatID: "c2", UserSessionID: "s1", Prompt: "second", Citations: []string{"chunk-1"}, AskedAt: base.Add(time.Second)},
		{ChatID: "c1", UserSessionID: "s1", Prompt: "first", Citations: []string{}, AskedAt: base},
		{ChatID: "c3", UserSessionID: "s2", Prompt: "other", Citations: []string{}, AskedAt: base},
	}
	for _, c := range chats {
		require.NoError(t, repo.Create(ctx, c))
	}

	session, err := repo.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, session, 2)
	assert.Equal(t, "first", session[0].Prompt)
	assert.Equal(t, []string{"chunk-1"}, session[1].Citations)

	got, err := repo.Get(ctx, "c3")
	require.NoError(t, err)
	assert.Equal(t, "s2", got.UserSessionID)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrChatNotFound)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestJobRepository_ConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	stores := map[string]vectorstore.Store{
		"memory": vectorstore.NewMemoryStore(),
		"sqlite": testutil.SetupTestStore(t),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			repo := NewJobRepository(store)
			require.NoError(t, repo.Create(ctx, newJob("contended", 0)))

			const workers = 8
			var (
				wg      sync.WaitGroup
				claimed atomic.Int32
				errs    atomic.Int32
			)
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, ok, err := repo.Claim(ctx, "contended")
					if err != nil {
						errs.Add(1)
						return
					}
					if ok {
						claimed.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Zero(t, errs.Load())
			assert.Equal(t, int32(1), claimed.Load(), "exactly one worker claims a pending job")

			job, err := repo.Get(ctx, "contended")
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusProcessing, job.Status)
		})
	}
}
