package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/stablewatch/internal/config"
	"github.com/your-org/stablewatch/internal/models"
)

// PostgresStore holds job lifecycle rows and correction batches. The
// warm identity tier shares the same database through its own store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool exposes the underlying pool so the warm registry can share it.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// --- Jobs ---

// CreateJob inserts a pending job row. A chunk with a non-terminal job
// already present is rejected with ErrJobInFlight; the row is the
// dedupe authority for Submit.
func (s *PostgresStore) CreateJob(ctx context.Context, j *models.Job) error {
	var inFlight bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM chunk_jobs
		   WHERE chunk_id = $1 AND status IN ('pending', 'running')
		 )`, j.ChunkID,
	).Scan(&inFlight)
	if err != nil {
		return fmt.Errorf("check in-flight job: %w", err)
	}
	if inFlight {
		return fmt.Errorf("%w: %s", models.ErrJobInFlight, j.ChunkID)
	}

	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Status = models.JobStatusPending
	err = s.pool.QueryRow(ctx,
		`INSERT INTO chunk_jobs (id, chunk_id, stream_id, barn_id, kind, status, progress, step)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, 'queued') RETURNING created_at, updated_at`,
		j.ID, j.ChunkID, j.StreamID, j.BarnID, j.Kind, j.Status,
	).Scan(&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j := &models.Job{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, chunk_id, stream_id, barn_id, kind, status, progress, step,
		        COALESCE(error, ''), created_at, updated_at
		 FROM chunk_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.ChunkID, &j.StreamID, &j.BarnID, &j.Kind, &j.Status,
		&j.Progress, &j.Step, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// LatestJobForChunk returns the most recent job row for a chunk, or nil.
func (s *PostgresStore) LatestJobForChunk(ctx context.Context, chunkID string) (*models.Job, error) {
	j := &models.Job{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, chunk_id, stream_id, barn_id, kind, status, progress, step,
		        COALESCE(error, ''), created_at, updated_at
		 FROM chunk_jobs WHERE chunk_id = $1
		 ORDER BY created_at DESC LIMIT 1`, chunkID,
	).Scan(&j.ID, &j.ChunkID, &j.StreamID, &j.BarnID, &j.Kind, &j.Status,
		&j.Progress, &j.Step, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("latest job for chunk: %w", err)
	}
	return j, nil
}

// UpdateJobProgress records a progress event. Terminal rows are left
// untouched so late events cannot resurrect a finished job.
func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, status models.JobStatus, progress int, step, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE chunk_jobs
		 SET status = $2, progress = $3, step = $4, error = NULLIF($5, ''), updated_at = now()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		id, status, progress, step, errMsg)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// --- Corrections ---

// CreateCorrections persists a validated batch atomically.
func (s *PostgresStore) CreateCorrections(ctx context.Context, batch []models.Correction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin corrections: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range batch {
		c := &batch[i]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.Status = models.CorrectionPending
		err := tx.QueryRow(ctx,
			`INSERT INTO corrections (id, chunk_id, frame_index, detection_index,
			                          correction_type, original_horse_id,
			                          corrected_horse_id, corrected_horse_name, status)
			 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
			 RETURNING created_at`,
			c.ID, c.ChunkID, c.FrameIndex, c.DetectionIndex, c.Type,
			c.OriginalHorseID, c.CorrectedHorseID, c.CorrectedHorseName, c.Status,
		).Scan(&c.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert correction: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetCorrections loads a batch by id, preserving submission order.
func (s *PostgresStore) GetCorrections(ctx context.Context, ids []uuid.UUID) ([]models.Correction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chunk_id, frame_index, detection_index, correction_type,
		        original_horse_id, COALESCE(corrected_horse_id, ''),
		        COALESCE(corrected_horse_name, ''), status, created_at, applied_at
		 FROM corrections WHERE id = ANY($1)
		 ORDER BY created_at ASC`, ids)
	if err != nil {
		return nil, fmt.Errorf("get corrections: %w", err)
	}
	defer rows.Close()

	var out []models.Correction
	for rows.Next() {
		var c models.Correction
		if err := rows.Scan(&c.ID, &c.ChunkID, &c.FrameIndex, &c.DetectionIndex,
			&c.Type, &c.OriginalHorseID, &c.CorrectedHorseID, &c.CorrectedHorseName,
			&c.Status, &c.CreatedAt, &c.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkCorrectionsApplied flips a batch to applied once the reprocessor
// has committed all outputs.
func (s *PostgresStore) MarkCorrectionsApplied(ctx context.Context, ids []uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE corrections SET status = 'applied', applied_at = $2 WHERE id = ANY($1)`,
		ids, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark corrections applied: %w", err)
	}
	return nil
}
