package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/internal/manager/models"
	"github.com/code-sleuth/ike-rag/internal/manager/repository"
	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrQueueStarted   = errors.New("job queue already started")
	ErrJobFinished    = errors.New("job already finished")
	ErrInvalidWorkers = errors.New("worker count must be positive")
	ErrInvalidBacklog = errors.New("backlog must be positive")
)

// Runner processes one claimed job. IngestionPipeline is the production
// runner.
type Runner interface {
	Run(ctx context.Context, job *models.IngestJob, cancelled func() bool) error
}

// JobQueue accepts ingest submissions and runs them on a fixed pool of
// workers.
//
// The backlog bounds how many submitted jobs may wait for a worker; a full
// backlog rejects submissions with ErrBusy instead of blocking. Job state
// lives in the store, and a worker only runs a job after claiming it with a
// pending to processing compare-and-swap, so a job queued twice still runs
// once.
type JobQueue struct {
	jobs     *repository.JobRepository
	runner   Runner
	validate func(string) error
	workers  int
	slots    chan struct{}
	queue    chan string
	metrics  *Metrics
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	started bool
	closed  bool
	stop    chan struct{}
	runCtx  context.Context
	abort   context.CancelFunc
	wg      sync.WaitGroup

	cancelMu sync.Mutex
	cancels  map[string]*atomic.Bool
}

// NewJobQueue creates a queue with workers workers and room for backlog
// waiting jobs.
func NewJobQueue(jobs *repository.JobRepository, runner Runner, workers, backlog int) (*JobQueue, error) {
	if workers <= 0 {
		return nil, ErrInvalidWorkers
	}
	if backlog <= 0 {
		return nil, ErrInvalidBacklog
	}
	return &JobQueue{
		jobs:    jobs,
		runner:  runner,
		workers: workers,
		slots:   make(chan struct{}, backlog),
		queue:   make(chan string, backlog),
		logger:  util.NewLogger(zerolog.ErrorLevel),
		now:     time.Now,
		stop:    make(chan struct{}),
		cancels: make(map[string]*atomic.Bool),
	}, nil
}

func (q *JobQueue) SetLogger(logger zerolog.Logger) {
	q.logger = logger
}

func (q *JobQueue) SetMetrics(metrics *Metrics) {
	q.metrics = metrics
}

// SetValidator adds a URL check run on submission after the built-in one,
// typically the fetcher's ValidateSource.
func (q *JobQueue) SetValidator(validate func(string) error) {
	q.validate = validate
}

// Start launches the workers and re-enqueues jobs left pending by an
// earlier process, as far as the backlog allows.
func (q *JobQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return ErrQueueStarted
	}
	if q.closed {
		q.mu.Unlock()
		return interfaces.ErrQueueClosed
	}
	q.started = true
	q.runCtx, q.abort = context.WithCancel(context.WithoutCancel(ctx))
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info().Int("workers", q.workers).Int("backlog", cap(q.slots)).Msg("Job queue started")

	pending, err := q.jobs.ListByStatus(ctx, models.JobStatusPending)
	if err != nil {
		q.logger.Error().Err(err).Msg("Failed to list pending jobs")
		return err
	}
	for i, job := range pending {
		if err := q.enqueue(job.JobID); err != nil {
			q.logger.Warn().Err(err).Int("left_pending", len(pending)-i).Msg("Backlog full while recovering pending jobs")
			break
		}
	}
	if len(pending) > 0 {
		q.logger.Info().Int("count", len(pending)).Msg("Recovered pending jobs")
	}
	return nil
}

// Submit validates sourceURL, persists a pending job and queues it. It
// returns without waiting for the job to run.
func (q *JobQueue) Submit(ctx context.Context, sourceURL string) (*models.IngestJob, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if err := q.validateURL(sourceURL); err != nil {
		q.rejected("invalid")
		return nil, fmt.Errorf("%w: %w", interfaces.ErrInvalidInput, err)
	}

	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		q.rejected("closed")
		return nil, interfaces.ErrQueueClosed
	}

	if !q.reserve() {
		q.rejected("busy")
		return nil, interfaces.ErrBusy
	}

	job := &models.IngestJob{
		JobID:    uuid.New().String(),
		URL:      sourceURL,
		Status:   models.JobStatusPending,
		QueuedAt: q.now().UTC(),
	}
	if err := q.jobs.Create(ctx, job); err != nil {
		q.release()
		q.logger.Error().Err(err).Str("url", sourceURL).Msg("Failed to persist job")
		return nil, fmt.Errorf("%w: %w", interfaces.ErrPersistence, err)
	}

	if err := q.push(job.JobID); err != nil {
		// The job stays pending in the store and is recovered on the next Start.
		q.release()
		return nil, err
	}
	if q.metrics != nil {
		q.metrics.JobsSubmitted.Inc()
	}
	q.logger.Info().Str("job_id", job.JobID).Str("url", sourceURL).Msg("Job queued")
	return job, nil
}

// Cancel asks for jobID to stop. A pending job fails immediately; a
// processing job fails at its next stage boundary.
func (q *JobQueue) Cancel(ctx context.Context, jobID string) error {
	job, err := q.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrJobFinished
	}

	q.flag(jobID).Store(true)
	if job.Status == models.JobStatusPending {
		_, err := q.jobs.Fail(ctx, jobID, models.JobStatusPending, interfaces.ErrCancelled.Error())
		switch {
		case err == nil:
			q.clearFlag(jobID)
			q.finished(models.JobStatusFailed)
			q.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
			return nil
		case errors.Is(err, repository.ErrStaleStatus):
			// Claimed meanwhile; the pipeline sees the flag.
		default:
			q.clearFlag(jobID)
			return err
		}
	}

	// The worker may have finished and dropped its flag between the lookup
	// and the store above; nothing would clear the new one.
	current, err := q.jobs.Get(ctx, jobID)
	if err != nil || current.Status.IsTerminal() {
		q.clearFlag(jobID)
	}
	if err != nil {
		return err
	}
	q.logger.Info().Str("job_id", jobID).Msg("Job cancellation requested")
	return nil
}

func (q *JobQueue) Get(ctx context.Context, jobID string) (*models.IngestJob, error) {
	return q.jobs.Get(ctx, jobID)
}

// List returns jobs in status, or every job when status is empty.
func (q *JobQueue) List(ctx context.Context, status models.JobStatus) ([]models.IngestJob, error) {
	if status == "" {
		return q.jobs.List(ctx)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", interfaces.ErrInvalidInput, status)
	}
	return q.jobs.ListByStatus(ctx, status)
}

// Drain stops accepting submissions and waits until the workers have run
// every queued job.
func (q *JobQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}
	return q.wait(ctx)
}

// Stop stops accepting submissions, asks running jobs to cancel and waits
// for the workers to exit. Queued jobs stay pending for the next Start. If
// ctx expires first, running jobs are aborted.
func (q *JobQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	select {
	case <-q.stop:
	default:
		close(q.stop)
	}
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	q.cancelMu.Lock()
	for _, f := range q.cancels {
		f.Store(true)
	}
	q.cancelMu.Unlock()

	err := q.wait(ctx)
	q.abort()
	return err
}

func (q *JobQueue) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *JobQueue) worker(id int) {
	defer q.wg.Done()
	logger := q.logger.With().Int("worker", id).Logger()

	for {
		select {
		case <-q.stop:
			return
		default:
		}

		select {
		case <-q.stop:
			return
		case jobID, ok := <-q.queue:
			if !ok {
				return
			}
			q.release()
			select {
			case <-q.stop:
				// Left pending in the store for the next Start.
				return
			default:
			}
			q.process(jobID, logger)
		}
	}
}

// process claims and runs one job. A panic in the runner fails the job and
// leaves the worker running.
func (q *JobQueue) process(jobID string, logger zerolog.Logger) {
	ctx := q.runCtx
	logger = logger.With().Str("job_id", jobID).Logger()

	job, claimed, err := q.jobs.Claim(ctx, jobID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to claim job")
		return
	}
	if !claimed {
		logger.Debug().Str("status", string(job.Status)).Msg("Job not claimable, skipping")
		q.clearFlag(jobID)
		return
	}

	if q.metrics != nil {
		q.metrics.JobsInFlight.Inc()
		defer q.metrics.JobsInFlight.Dec()
	}

	flag := q.flag(jobID)
	defer q.clearFlag(jobID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Job panicked")
			message := fmt.Sprintf("internal error: %v", r)
			if _, err := q.jobs.Fail(context.WithoutCancel(ctx), jobID, models.JobStatusProcessing, message); err != nil {
				logger.Error().Err(err).Msg("Failed to mark panicked job failed")
			}
			q.finished(models.JobStatusFailed)
		}
	}()

	logger.Info().Str("url", job.URL).Msg("Processing job")
	if err := q.runner.Run(ctx, job, flag.Load); err != nil {
		logger.Debug().Err(err).Msg("Job finished with error")
	}
}

func (q *JobQueue) validateURL(sourceURL string) error {
	if sourceURL == "" {
		return fmt.Errorf("%w: empty URL", interfaces.ErrInvalidURL)
	}
	u, err := url.Parse(sourceURL)
	if err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", interfaces.ErrInvalidURL)
	}
	if q.validate != nil {
		if err := q.validate(sourceURL); err != nil {
			if !errors.Is(err, interfaces.ErrInvalidURL) {
				err = fmt.Errorf("%w: %w", interfaces.ErrInvalidURL, err)
			}
			return err
		}
	}
	return nil
}

// enqueue queues an existing job id, used for recovery.
func (q *JobQueue) enqueue(jobID string) error {
	if !q.reserve() {
		return interfaces.ErrBusy
	}
	if err := q.push(jobID); err != nil {
		q.release()
		return err
	}
	return nil
}

// push sends on the queue channel. The caller holds a backlog slot, so
// the buffered send never blocks.
func (q *JobQueue) push(jobID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return interfaces.ErrQueueClosed
	}
	q.queue <- jobID
	return nil
}

func (q *JobQueue) reserve() bool {
	select {
	case q.slots <- struct{}{}:
		if q.metrics != nil {
			q.metrics.Backlog.Inc()
		}
		return true
	default:
		return false
	}
}

func (q *JobQueue) release() {
	<-q.slots
	if q.metrics != nil {
		q.metrics.Backlog.Dec()
	}
}

func (q *JobQueue) flag(jobID string) *atomic.Bool {
	q.cancelMu.Lock()
	defer q.cancelMu.Unlock()
	f, ok := q.cancels[jobID]
	if !ok {
		f = &atomic.Bool{}
		q.cancels[jobID] = f
	}
	return f
}

func (q *JobQueue) clearFlag(jobID string) {
	q.cancelMu.Lock()
	delete(q.cancels, jobID)
	q.cancelMu.Unlock()
}

func (q *JobQueue) rejected(reason string) {
	if q.metrics != nil {
		q.metrics.JobsRejected.WithLabelValues(reason).Inc()
	}
}

func (q *JobQueue) finished(status models.JobStatus) {
	if q.metrics != nil {
		q.metrics.JobsFinished.WithLabelValues(string(status)).Inc()
	}
}
