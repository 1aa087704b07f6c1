package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/stablewatch/internal/config"
	"github.com/your-org/stablewatch/internal/models"
)

// warmBlendNew is the one-shot weight given to fresh features when a
// chunk's tracker state is folded into the warm tier. Deliberately
// different from the tracker's per-frame EMA.
const (
	warmBlendNew float32 = 0.7
	warmBlendOld float32 = 0.3
)

// WarmStore is the durable identity tier backed by Postgres+pgvector.
// Entries never expire; stale ones are flipped to archived.
type WarmStore struct {
	pool *pgxpool.Pool
}

func NewWarmStore(cfg config.DatabaseConfig) (*WarmStore, error) {
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
	return &WarmStore{pool: pool}, nil
}

// NewWarmStoreFromPool shares an existing pool; API and worker reuse the
// job store's connection.
func NewWarmStoreFromPool(pool *pgxpool.Pool) *WarmStore {
	return &WarmStore{pool: pool}
}

func (s *WarmStore) Close() { s.pool.Close() }

func (s *WarmStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// ActiveByBarn returns all active identities for a barn, officials
// pinned first, then oldest-first so long-lived identities keep their
// low display labels across workers.
func (s *WarmStore) ActiveByBarn(ctx context.Context, barnID string) ([]models.Horse, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tracking_id, stream_id, barn_id, COALESCE(name, ''), color_hex,
		        first_detected, last_seen, total_detections, feature_vector,
		        track_confidence, status, is_official
		 FROM horses
		 WHERE barn_id = $1 AND status = 'active'
		 ORDER BY is_official DESC, first_detected ASC`, barnID)
	if err != nil {
		return nil, fmt.Errorf("query barn horses: %w", err)
	}
	defer rows.Close()

	var horses []models.Horse
	for rows.Next() {
		var h models.Horse
		var vec pgvector.Vector
		if err := rows.Scan(&h.ID, &h.TrackingID, &h.StreamID, &h.BarnID, &h.Name,
			&h.ColorHex, &h.FirstDetected, &h.LastSeen, &h.TotalDetections,
			&vec, &h.TrackConfidence, &h.Status, &h.IsOfficial); err != nil {
			return nil, fmt.Errorf("scan horse: %w", err)
		}
		h.Features = vec.Slice()
		horses = append(horses, h)
	}
	return horses, rows.Err()
}

// ListByBarn returns every identity for a barn regardless of status.
func (s *WarmStore) ListByBarn(ctx context.Context, barnID string) ([]models.Horse, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tracking_id, stream_id, barn_id, COALESCE(name, ''), color_hex,
		        first_detected, last_seen, total_detections, track_confidence,
		        status, is_official
		 FROM horses WHERE barn_id = $1
		 ORDER BY is_official DESC, first_detected ASC`, barnID)
	if err != nil {
		return nil, fmt.Errorf("list barn horses: %w", err)
	}
	defer rows.Close()

	var horses []models.Horse
	for rows.Next() {
		var h models.Horse
		if err := rows.Scan(&h.ID, &h.TrackingID, &h.StreamID, &h.BarnID, &h.Name,
			&h.ColorHex, &h.FirstDetected, &h.LastSeen, &h.TotalDetections,
			&h.TrackConfidence, &h.Status, &h.IsOfficial); err != nil {
			return nil, fmt.Errorf("scan horse: %w", err)
		}
		horses = append(horses, h)
	}
	return horses, rows.Err()
}

// Get returns one identity by tracking id, or nil if absent.
func (s *WarmStore) Get(ctx context.Context, trackingID string) (*models.Horse, error) {
	h := &models.Horse{}
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT id, tracking_id, stream_id, barn_id, COALESCE(name, ''), color_hex,
		        first_detected, last_seen, total_detections, feature_vector,
		        track_confidence, status, is_official
		 FROM horses WHERE tracking_id = $1`, trackingID,
	).Scan(&h.ID, &h.TrackingID, &h.StreamID, &h.BarnID, &h.Name, &h.ColorHex,
		&h.FirstDetected, &h.LastSeen, &h.TotalDetections, &vec,
		&h.TrackConfidence, &h.Status, &h.IsOfficial)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get horse: %w", err)
	}
	h.Features = vec.Slice()
	return h, nil
}

// Upsert folds one chunk-end registry entry into the warm tier. Name and
// is_official are preserved from the existing row; features blend
// one-shot 0.7·new + 0.3·old and renormalize.
func (s *WarmStore) Upsert(ctx context.Context, e models.RegistryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing pgvector.Vector
	var name string
	var isOfficial bool
	found := true
	err = tx.QueryRow(ctx,
		`SELECT feature_vector, COALESCE(name, ''), is_official FROM horses WHERE tracking_id = $1 FOR UPDATE`,
		e.ID,
	).Scan(&existing, &name, &isOfficial)
	if err != nil {
		if err != pgx.ErrNoRows {
			return fmt.Errorf("lock horse %s: %w", e.ID, err)
		}
		found = false
	}

	lastSeen := time.Unix(int64(e.LastUpdatedTime), 0).UTC()

	if !found {
		name = e.Name
		isOfficial = e.IsOfficial
		features := make([]float32, len(e.Features))
		copy(features, e.Features)
		models.NormalizeVector(features)

		_, err = tx.Exec(ctx,
			`INSERT INTO horses (id, tracking_id, stream_id, barn_id, name, color_hex,
			                     first_detected, last_seen, total_detections, feature_vector,
			                     metadata, track_confidence, status, is_official)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $7, $8, $9, '{}', $10, 'active', $11)`,
			uuid.New(), e.ID, e.StreamID, e.BarnID, name, e.ColorHex,
			lastSeen, e.TotalDetections, pgvector.NewVector(features),
			e.TrackingConfidence, isOfficial)
		if err != nil {
			return fmt.Errorf("insert horse %s: %w", e.ID, err)
		}
		return tx.Commit(ctx)
	}

	blended := models.BlendVectors(e.Features, existing.Slice(), warmBlendNew, warmBlendOld)
	_, err = tx.Exec(ctx,
		`UPDATE horses
		 SET stream_id = $2, last_seen = $3, total_detections = $4,
		     feature_vector = $5, track_confidence = $6, status = 'active'
		 WHERE tracking_id = $1`,
		e.ID, e.StreamID, lastSeen, e.TotalDetections,
		pgvector.NewVector(blended), e.TrackingConfidence)
	if err != nil {
		return fmt.Errorf("update horse %s: %w", e.ID, err)
	}
	return tx.Commit(ctx)
}

// CreateGuest mints a correction-created identity. The tracking id is
// stream-scoped with a short uuid suffix; guests are never official.
func (s *WarmStore) CreateGuest(ctx context.Context, streamID, barnID, name, colorHex string, features []float32) (string, error) {
	trackingID := fmt.Sprintf("%s_guest_%s", streamID, uuid.New().String()[:8])
	now := time.Now().UTC()

	var vec pgvector.Vector
	if len(features) > 0 {
		f := make([]float32, len(features))
		copy(f, features)
		models.NormalizeVector(f)
		vec = pgvector.NewVector(f)
	} else {
		vec = pgvector.NewVector(make([]float32, models.EmbeddingDim))
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO horses (id, tracking_id, stream_id, barn_id, name, color_hex,
		                     first_detected, last_seen, total_detections, feature_vector,
		                     metadata, track_confidence, status, is_official)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 0, $8, '{}', 0, 'active', false)`,
		uuid.New(), trackingID, streamID, barnID, name, colorHex, now, vec)
	if err != nil {
		return "", fmt.Errorf("create guest %q: %w", name, err)
	}
	return trackingID, nil
}

// UpdateFeatures blends re-extracted features into an identity and, when
// thumbnail is non-nil, replaces the stored crop. Both writes share one
// transaction.
func (s *WarmStore) UpdateFeatures(ctx context.Context, trackingID string, features []float32, thumbnail []byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin feature update: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing pgvector.Vector
	err = tx.QueryRow(ctx,
		`SELECT feature_vector FROM horses WHERE tracking_id = $1 FOR UPDATE`, trackingID,
	).Scan(&existing)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("%w: horse %s", models.ErrInputNotFound, trackingID)
		}
		return fmt.Errorf("lock horse %s: %w", trackingID, err)
	}

	blended := models.BlendVectors(features, existing.Slice(), warmBlendNew, warmBlendOld)
	_, err = tx.Exec(ctx,
		`UPDATE horses SET feature_vector = $2, last_seen = $3 WHERE tracking_id = $1`,
		trackingID, pgvector.NewVector(blended), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update features %s: %w", trackingID, err)
	}

	if thumbnail != nil {
		_, err = tx.Exec(ctx,
			`UPDATE horses SET avatar_thumbnail = $2 WHERE tracking_id = $1`,
			trackingID, thumbnail)
		if err != nil {
			return fmt.Errorf("update thumbnail %s: %w", trackingID, err)
		}
	}

	return tx.Commit(ctx)
}

// SearchSimilar finds the closest identities to an embedding within a
// barn using pgvector cosine distance.
func (s *WarmStore) SearchSimilar(ctx context.Context, barnID string, embedding []float32, threshold float64, limit int) ([]SimilarMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.pool.Query(ctx,
		`SELECT tracking_id, COALESCE(name, ''), 1 - (feature_vector <=> $1) AS score
		 FROM horses
		 WHERE barn_id = $2 AND status = 'active'
		   AND 1 - (feature_vector <=> $1) >= $3
		 ORDER BY feature_vector <=> $1
		 LIMIT $4`, vec, barnID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search horses: %w", err)
	}
	defer rows.Close()

	var matches []SimilarMatch
	for rows.Next() {
		var m SimilarMatch
		if err := rows.Scan(&m.TrackingID, &m.Name, &m.Score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

type SimilarMatch struct {
	TrackingID string  `json:"tracking_id"`
	Name       string  `json:"name"`
	Score      float32 `json:"score"`
}

// AssignName sets a user-provided name and flips the identity official.
func (s *WarmStore) AssignName(ctx context.Context, trackingID, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE horses SET name = $2, is_official = true WHERE tracking_id = $1`,
		trackingID, name)
	if err != nil {
		return fmt.Errorf("assign name %s: %w", trackingID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: horse %s", models.ErrInputNotFound, trackingID)
	}
	return nil
}

// GetThumbnail returns the stored avatar crop, or nil when unset.
func (s *WarmStore) GetThumbnail(ctx context.Context, trackingID string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT avatar_thumbnail FROM horses WHERE tracking_id = $1`, trackingID,
	).Scan(&data)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: horse %s", models.ErrInputNotFound, trackingID)
		}
		return nil, fmt.Errorf("get thumbnail %s: %w", trackingID, err)
	}
	return data, nil
}

// ArchiveStale marks identities unseen past the retention window.
func (s *WarmStore) ArchiveStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE horses SET status = 'archived' WHERE status = 'active' AND last_seen < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive stale horses: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
