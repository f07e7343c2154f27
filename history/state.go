// Package history holds the archive-state description a catch-up run
// converges the live bucket list to.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tazeemc/stellar-core/core"
)

// LevelBuckets is one level's target pair of bucket hashes, hex
// encoded. Snap is the older generation, Curr the younger.
type LevelBuckets struct {
	Curr string `json:"curr"`
	Snap string `json:"snap"`
}

// ArchiveState describes a historical snapshot of the bucket list: one
// (curr, snap) hash pair per level, finest level first. It is the
// immutable input to a single catch-up run.
type ArchiveState struct {
	Version        int            `json:"version"`
	CurrentLedger  uint32         `json:"currentLedger"`
	CurrentBuckets []LevelBuckets `json:"currentBuckets"`
}

// NumLevels returns the number of levels the state describes.
func (s *ArchiveState) NumLevels() int {
	return len(s.CurrentBuckets)
}

// Validate checks the state against the expected level count and that
// every hash decodes.
func (s *ArchiveState) Validate(numLevels int) error {
	if len(s.CurrentBuckets) != numLevels {
		return fmt.Errorf("archive state has %d levels, want %d", len(s.CurrentBuckets), numLevels)
	}
	for i, lb := range s.CurrentBuckets {
		if _, err := core.HashFromHex(lb.Curr); err != nil {
			return fmt.Errorf("level %d curr: %w", i, err)
		}
		if _, err := core.HashFromHex(lb.Snap); err != nil {
			return fmt.Errorf("level %d snap: %w", i, err)
		}
	}
	return nil
}

// Level returns the target pair for one level index.
func (s *ArchiveState) Level(i int) LevelBuckets {
	return s.CurrentBuckets[i]
}

// EmptyState returns an archive state describing numLevels empty
// levels (every hash the zero hash).
func EmptyState(numLevels int) ArchiveState {
	zero := core.ZeroHash.Hex()
	buckets := make([]LevelBuckets, numLevels)
	for i := range buckets {
		buckets[i] = LevelBuckets{Curr: zero, Snap: zero}
	}
	return ArchiveState{Version: 1, CurrentBuckets: buckets}
}

// Load reads an archive state document from a JSON file.
func Load(path string) (ArchiveState, error) {
	var s ArchiveState
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("failed to read archive state %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse archive state %s: %w", path, err)
	}
	return s, nil
}

// Save atomically writes the archive state to a JSON file using the
// write-and-rename strategy.
func (s *ArchiveState) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode archive state: %w", err)
	}

	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp archive state file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write archive state: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync archive state: %w", err)
	}
	// Close before the rename; required on Windows.
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp archive state file: %w", err)
	}
	if err := os.Rename(tempPath, filepath.Clean(path)); err != nil {
		return fmt.Errorf("failed to rename archive state into place: %w", err)
	}
	return nil
}
