package chunk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/your-org/stablewatch/internal/models"
)

// Layout is the on-disk shape of one chunk under the storage root:
//
//	<root>/<barn_id>/<stream_id>/<chunk_id>.mp4          raw chunk
//	<root>/<barn_id>/<stream_id>/<chunk_id>.json         chunk record
//	<root>/<barn_id>/<stream_id>/<chunk_id>_overlay.mp4  rendered video
type Layout struct {
	Root     string
	BarnID   string
	StreamID string
	ChunkID  string
}

func (l Layout) RawVideoPath() string {
	return filepath.Join(l.Root, l.BarnID, l.StreamID, l.ChunkID+".mp4")
}

func (l Layout) RecordPath() string {
	return filepath.Join(l.Root, l.BarnID, l.StreamID, l.ChunkID+".json")
}

func (l Layout) OverlayVideoPath() string {
	return filepath.Join(l.Root, l.BarnID, l.StreamID, l.ChunkID+"_overlay.mp4")
}

// ResolveLayout finds an already-processed chunk under the storage root
// by its record JSON and confirms the raw video sits beside it.
func ResolveLayout(root, chunkID string) (Layout, error) {
	pattern := filepath.Join(root, "*", "*", chunkID+".json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return Layout{}, fmt.Errorf("glob chunk record: %w", err)
	}
	if len(matches) == 0 {
		return Layout{}, fmt.Errorf("%w: record for chunk %s under %s", models.ErrInputNotFound, chunkID, root)
	}

	recordPath := matches[0]
	streamDir := filepath.Dir(recordPath)
	barnDir := filepath.Dir(streamDir)

	l := Layout{
		Root:     root,
		BarnID:   filepath.Base(barnDir),
		StreamID: filepath.Base(streamDir),
		ChunkID:  chunkID,
	}

	if _, err := os.Stat(l.RawVideoPath()); err != nil {
		return Layout{}, fmt.Errorf("%w: raw video for chunk %s", models.ErrInputNotFound, chunkID)
	}
	return l, nil
}

// ReadRecord parses a chunk record JSON from disk.
func ReadRecord(path string) (*models.ChunkRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	var rec models.ChunkRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse record %s: %w", path, err)
	}
	return &rec, nil
}

// WriteRecordAtomic marshals the record next to its target and renames
// into place so readers never observe a half-written file.
func WriteRecordAtomic(rec *models.ChunkRecord, path string) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}
