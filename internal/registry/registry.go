package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/your-org/stablewatch/internal/models"
)

// Registry is the two-tier identity store. Warm is authoritative for
// identity (name, is_official); hot is a short-horizon cache that wins
// for volatile fields. Loss of hot is non-fatal; loss of warm degrades
// a load to whatever hot still holds for the current stream.
type Registry struct {
	hot  *HotStore
	warm *WarmStore
}

func New(hot *HotStore, warm *WarmStore) *Registry {
	return &Registry{hot: hot, warm: warm}
}

// LoadBarn assembles the identity seed map for a chunk worker: all
// active warm identities of the barn, shadowed by fresher hot entries
// from every stream the barn has produced.
func (r *Registry) LoadBarn(ctx context.Context, barnID, streamID string) (map[string]models.RegistryEntry, error) {
	out := make(map[string]models.RegistryEntry)
	streams := map[string]bool{streamID: true}

	horses, err := r.warm.ActiveByBarn(ctx, barnID)
	if err != nil {
		slog.Error("warm registry unavailable, continuing stream-scoped",
			"barn_id", barnID, "error", err)
	} else {
		for _, h := range horses {
			out[h.TrackingID] = entryFromHorse(h)
			if h.StreamID != "" {
				streams[h.StreamID] = true
			}
		}
	}

	for sid := range streams {
		hotEntries, err := r.hot.Scan(ctx, sid)
		if err != nil {
			slog.Warn("hot registry scan failed, using warm only",
				"stream_id", sid, "error", err)
			continue
		}
		for id, hotE := range hotEntries {
			if warmE, ok := out[id]; ok {
				out[id] = mergeEntries(warmE, hotE)
			} else {
				out[id] = hotE
			}
		}
	}

	return out, nil
}

// SaveBarn writes the chunk-end tracker snapshot to both tiers. Hot
// writes are best effort; the first warm failure aborts with
// ErrRegistryUnavailable wrapped by the store.
func (r *Registry) SaveBarn(ctx context.Context, barnID string, entries map[string]models.RegistryEntry) error {
	var firstErr error
	for _, e := range entries {
		if err := r.hot.Put(ctx, e); err != nil {
			slog.Warn("hot registry put failed", "track_id", e.ID, "error", err)
		}
		if err := r.warm.Upsert(ctx, e); err != nil {
			slog.Error("warm registry upsert failed", "track_id", e.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ExpireHot purges a stream's expired hot entries.
func (r *Registry) ExpireHot(ctx context.Context, streamID string) (int, error) {
	return r.hot.Expire(ctx, streamID)
}

// Cleanup sweeps hot entries staler than the cutoff and archives warm
// identities past the retention window.
func (r *Registry) Cleanup(ctx context.Context, hotCutoff, warmCutoff time.Time) error {
	if n, err := r.hot.Cleanup(ctx, hotCutoff); err != nil {
		slog.Warn("hot cleanup failed", "error", err)
	} else if n > 0 {
		slog.Info("hot cleanup", "removed", n)
	}

	n, err := r.warm.ArchiveStale(ctx, warmCutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("warm retention sweep", "archived", n)
	}
	return nil
}

func (r *Registry) Warm() *WarmStore { return r.warm }

// mergeEntries resolves a same-id conflict between tiers: hot wins for
// volatile tracking state, warm wins for identity provenance.
func mergeEntries(warm, hot models.RegistryEntry) models.RegistryEntry {
	merged := hot
	merged.Name = warm.Name
	merged.IsOfficial = warm.IsOfficial
	if merged.ColorHex == "" {
		merged.ColorHex = warm.ColorHex
	}
	if len(merged.Features) == 0 {
		merged.Features = warm.Features
	}
	return merged
}

// entryFromHorse converts a warm row into the seed-map representation.
func entryFromHorse(h models.Horse) models.RegistryEntry {
	features := make([]float32, len(h.Features))
	copy(features, h.Features)

	return models.RegistryEntry{
		ID:                 h.TrackingID,
		StreamID:           h.StreamID,
		BarnID:             h.BarnID,
		Name:               h.Name,
		IsOfficial:         h.IsOfficial,
		ColorHex:           h.ColorHex,
		LastUpdatedTime:    float64(h.LastSeen.Unix()),
		Confidence:         h.TrackConfidence,
		Features:           features,
		TotalDetections:    h.TotalDetections,
		TrackingConfidence: h.TrackConfidence,
	}
}
