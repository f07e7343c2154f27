package bucket

import (
	"sync"

	"github.com/tazeemc/stellar-core/core"
)

// BucketLevel holds one level's two bucket generations: curr (younger)
// and snap (older). Both references are always non-nil; absence is
// represented by the empty bucket.
type BucketLevel struct {
	mu    sync.RWMutex
	index int
	curr  *Bucket
	snap  *Bucket
}

func newBucketLevel(index int) *BucketLevel {
	return &BucketLevel{
		index: index,
		curr:  NewBucket(),
		snap:  NewBucket(),
	}
}

// Index returns the level's position in the list (0 = finest).
func (l *BucketLevel) Index() int {
	return l.index
}

// Curr returns the younger-generation bucket.
func (l *BucketLevel) Curr() *Bucket {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.curr
}

// Snap returns the older-generation bucket.
func (l *BucketLevel) Snap() *Bucket {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

// CurrHash returns the hash of the younger-generation bucket.
func (l *BucketLevel) CurrHash() core.BucketHash {
	return l.Curr().Hash()
}

// SnapHash returns the hash of the older-generation bucket.
func (l *BucketLevel) SnapHash() core.BucketHash {
	return l.Snap().Hash()
}

// SetCurr replaces the younger-generation bucket.
func (l *BucketLevel) SetCurr(b *Bucket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.curr = b
}

// SetSnap replaces the older-generation bucket.
func (l *BucketLevel) SetSnap(b *Bucket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap = b
}
