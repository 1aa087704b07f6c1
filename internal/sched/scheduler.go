package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/stablewatch/internal/models"
	"github.com/your-org/stablewatch/internal/queue"
	"github.com/your-org/stablewatch/internal/storage"
)

// Scheduler accepts chunk and reprocess submissions, dedupes them on the
// job table, and hands them to the work queue. It never runs pipeline
// code itself; workers consume the queue.
type Scheduler struct {
	db       *storage.PostgresStore
	producer *queue.Producer
}

func New(db *storage.PostgresStore, producer *queue.Producer) *Scheduler {
	return &Scheduler{db: db, producer: producer}
}

// Submit validates a chunk job, records it, and enqueues it. Returns
// the job id immediately; processing happens in a worker. At most one
// job per chunk_id is in flight: duplicates get ErrJobInFlight, a full
// queue gets ErrCapacityExceeded.
func (s *Scheduler) Submit(ctx context.Context, job models.ChunkJob) (uuid.UUID, error) {
	if err := job.Validate(); err != nil {
		return uuid.Nil, err
	}

	row := &models.Job{
		ChunkID:  job.ChunkID,
		StreamID: job.StreamID,
		BarnID:   job.BarnID,
		Kind:     models.JobKindProcess,
	}
	if err := s.db.CreateJob(ctx, row); err != nil {
		return uuid.Nil, err
	}
	job.JobID = row.ID

	if err := s.producer.PublishChunkJob(ctx, job); err != nil {
		// The queue rejected the job; close the row so the chunk can be
		// resubmitted.
		_ = s.db.UpdateJobProgress(ctx, row.ID, models.JobStatusFailed, 0, "submit", err.Error())
		return uuid.Nil, err
	}

	slog.Info("chunk job submitted", "job_id", row.ID, "chunk_id", job.ChunkID, "stream_id", job.StreamID)
	return row.ID, nil
}

// SubmitReprocess records a correction batch and enqueues a reprocess
// job referencing it. The batch must already be validated against the
// correction shape; frame bounds are checked by the worker against the
// chunk record.
func (s *Scheduler) SubmitReprocess(ctx context.Context, chunkID string, corrections []models.Correction) (uuid.UUID, error) {
	if chunkID == "" {
		return uuid.Nil, models.ErrInvalidJob
	}
	for i := range corrections {
		corrections[i].ChunkID = chunkID
		if err := corrections[i].Validate(); err != nil {
			return uuid.Nil, err
		}
	}

	prior, err := s.db.LatestJobForChunk(ctx, chunkID)
	if err != nil {
		return uuid.Nil, err
	}
	if prior == nil {
		return uuid.Nil, fmt.Errorf("%w: chunk %s has no processed record", models.ErrInputNotFound, chunkID)
	}

	row := &models.Job{
		ChunkID:  chunkID,
		StreamID: prior.StreamID,
		BarnID:   prior.BarnID,
		Kind:     models.JobKindReprocess,
	}
	if err := s.db.CreateJob(ctx, row); err != nil {
		return uuid.Nil, err
	}

	if err := s.db.CreateCorrections(ctx, corrections); err != nil {
		_ = s.db.UpdateJobProgress(ctx, row.ID, models.JobStatusFailed, 0, "submit", err.Error())
		return uuid.Nil, err
	}

	ids := make([]uuid.UUID, len(corrections))
	for i, c := range corrections {
		ids[i] = c.ID
	}

	job := models.ReprocessJob{JobID: row.ID, ChunkID: chunkID, CorrectionIDs: ids}
	if err := s.producer.PublishReprocessJob(ctx, job); err != nil {
		_ = s.db.UpdateJobProgress(ctx, row.ID, models.JobStatusFailed, 0, "submit", err.Error())
		return uuid.Nil, err
	}

	slog.Info("reprocess job submitted", "job_id", row.ID, "chunk_id", chunkID, "corrections", len(ids))
	return row.ID, nil
}

// Cancel broadcasts a cancel command. The worker holding the job reacts
// at its next suspension point; queued jobs are cancelled when fetched.
func (s *Scheduler) Cancel(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.db.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job %s", models.ErrInputNotFound, jobID)
	}
	if job.Status.Terminal() {
		return nil
	}

	if err := s.producer.PublishCancel(jobID.String()); err != nil {
		return fmt.Errorf("publish cancel: %w", err)
	}

	// Pending jobs flip immediately; running ones are finalized by the
	// worker's terminal event.
	if job.Status == models.JobStatusPending {
		return s.db.UpdateJobProgress(ctx, jobID, models.JobStatusCancelled, job.Progress, "cancelled", "")
	}
	return nil
}

// Status reports the queryable job state.
func (s *Scheduler) Status(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.db.GetJob(ctx, jobID)
}

// Progress is the publication callback handed to pipeline workers.
type Progress func(status models.JobStatus, percent int, step string, errMsg string)

// NewProgress builds a Progress that publishes events and lets the API
// side update the job row. Event publishing is best effort.
func NewProgress(producer *queue.Producer, jobID uuid.UUID, chunkID string) Progress {
	return func(status models.JobStatus, percent int, step string, errMsg string) {
		ev := models.ProgressEvent{
			JobID:     jobID,
			ChunkID:   chunkID,
			Status:    status,
			Progress:  percent,
			Step:      step,
			Error:     errMsg,
			Timestamp: time.Now().UTC(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := producer.PublishEvent(ctx, ev); err != nil {
			slog.Warn("publish progress event", "job_id", jobID, "error", err)
		}
	}
}
