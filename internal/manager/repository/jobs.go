package repository

import (
	"context"
	"sort"
	"time"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/internal/manager/models"
	"github.com/code-sleuth/ike-rag/internal/manager/vectorstore"
	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/rs/zerolog"
)

// JobRepository persists IngestJobs. Every status change after creation goes
// through CompareAndSwap on the status field, so a transition only happens
// from the state the caller observed.
type JobRepository struct {
	store  vectorstore.Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewJobRepository(store vectorstore.Store) *JobRepository {
	return &JobRepository{
		store:  store,
		logger: util.NewLogger(zerolog.ErrorLevel),
		now:    time.Now,
	}
}

// WithLogger replaces the repository logger.
func (r *JobRepository) WithLogger(logger zerolog.Logger) *JobRepository {
	r.logger = logger
	return r
}

func (r *JobRepository) Create(ctx context.Context, job *models.IngestJob) error {
	rec, err := vectorstore.NewRecord(job.JobID, job, nil, job.QueuedAt)
	if err != nil {
		return err
	}
	if err := r.store.Upsert(ctx, CollectionIngestJob, rec); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to create job")
		return err
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, jobID string) (*models.IngestJob, error) {
	rec, err := r.store.Get(ctx, CollectionIngestJob, jobID)
	if err != nil {
		return nil, notFound(err, interfaces.ErrJobNotFound, jobID)
	}
	var job models.IngestJob
	if err := rec.Decode(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Claim moves a pending job to processing. It reports false when another
// worker claimed the job first or the job is no longer pending.
func (r *JobRepository) Claim(ctx context.Context, jobID string) (*models.IngestJob, bool, error) {
	job, err := r.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if job.Status != models.JobStatusPending {
		return job, false, nil
	}
	job.Status = models.JobStatusProcessing

	ok, err := r.swap(ctx, job, models.JobStatusPending)
	if err != nil {
		return nil, false, err
	}
	return job, ok, nil
}

// Complete moves a processing job to completed.
func (r *JobRepository) Complete(ctx context.Context, jobID string) (*models.IngestJob, error) {
	return r.finish(ctx, jobID, models.JobStatusProcessing, models.JobStatusCompleted, "")
}

// Fail moves a job in status from to failed with message.
func (r *JobRepository) Fail(
	ctx context.Context,
	jobID string,
	from models.JobStatus,
	message string,
) (*models.IngestJob, error) {
	return r.finish(ctx, jobID, from, models.JobStatusFailed, message)
}

func (r *JobRepository) ListByStatus(ctx context.Context, status models.JobStatus) ([]models.IngestJob, error) {
	recs, err := r.store.FindByField(ctx, CollectionIngestJob, "status", string(status))
	if err != nil {
		r.logger.Error().Err(err).Str("status", string(status)).Msg("Failed to list jobs")
		return nil, err
	}
	return decodeAll[models.IngestJob](recs)
}

// List returns every job, most recently queued first.
func (r *JobRepository) List(ctx context.Context) ([]models.IngestJob, error) {
	recs, err := r.store.List(ctx, CollectionIngestJob)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list jobs")
		return nil, err
	}
	jobs, err := decodeAll[models.IngestJob](recs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].QueuedAt.After(jobs[j].QueuedAt)
	})
	return jobs, nil
}

func (r *JobRepository) finish(
	ctx context.Context,
	jobID string,
	from, to models.JobStatus,
	message string,
) (*models.IngestJob, error) {
	job, err := r.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != from {
		return job, ErrStaleStatus
	}

	completedAt := r.now().UTC()
	job.Status = to
	job.CompletedAt = &completedAt
	job.ErrorMessage = nil
	if message != "" {
		job.ErrorMessage = &message
	}

	ok, err := r.swap(ctx, job, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		return job, ErrStaleStatus
	}
	return job, nil
}

func (r *JobRepository) swap(ctx context.Context, job *models.IngestJob, expected models.JobStatus) (bool, error) {
	rec, err := vectorstore.NewRecord(job.JobID, job, nil, job.QueuedAt)
	if err != nil {
		return false, err
	}
	ok, err := r.store.CompareAndSwap(ctx, CollectionIngestJob, job.JobID, "status", string(expected), rec)
	if err != nil {
		r.logger.Error().Err(err).
			Str("job_id", job.JobID).
			Str("from", string(expected)).
			Str("to", string(job.Status)).
			Msg("Failed to update job status")
		return false, err
	}
	return ok, nil
}
