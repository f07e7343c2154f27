package bucket

import (
	"fmt"
	"sync"

	"github.com/tazeemc/stellar-core/history"
)

// DefaultNumLevels is the number of levels a bucket list carries unless
// configured otherwise.
const DefaultNumLevels = 11

// BucketList is a fixed-length ordered sequence of bucket levels,
// index 0 finest and most recent, the highest index coarsest. The head
// archive state is the last atomically installed consistent state;
// per-level mutations during a catch-up run are not reflected in the
// head until InstallHead.
type BucketList struct {
	mu     sync.RWMutex
	levels []*BucketLevel
	head   history.ArchiveState
}

// NewBucketList creates a bucket list with numLevels empty levels.
func NewBucketList(numLevels int) (*BucketList, error) {
	if numLevels <= 0 {
		return nil, fmt.Errorf("invalid level count %d", numLevels)
	}
	bl := &BucketList{
		levels: make([]*BucketLevel, numLevels),
		head:   history.EmptyState(numLevels),
	}
	for i := range bl.levels {
		bl.levels[i] = newBucketLevel(i)
	}
	return bl, nil
}

// NumLevels returns the fixed level count.
func (bl *BucketList) NumLevels() int {
	return len(bl.levels)
}

// GetLevel returns the level at index i.
func (bl *BucketList) GetLevel(i int) *BucketLevel {
	return bl.levels[i]
}

// InstallHead publishes the given archive state as the list's new
// authoritative head. This is the single commit point at which a
// completed catch-up becomes visible as a consistent state.
func (bl *BucketList) InstallHead(state history.ArchiveState) error {
	if err := state.Validate(len(bl.levels)); err != nil {
		return fmt.Errorf("refusing to install head: %w", err)
	}
	bl.mu.Lock()
	defer bl.mu.Unlock()
	bl.head = state
	return nil
}

// Head returns the last installed consistent state.
func (bl *BucketList) Head() history.ArchiveState {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	return bl.head
}
