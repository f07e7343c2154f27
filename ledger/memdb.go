package ledger

import (
	"bytes"
	"context"
	"sync"

	"github.com/INLOpen/skiplist"
	"github.com/tazeemc/stellar-core/core"
)

// memValue is the stored record for a key. Deletions are kept as
// tombstoned records rather than removed nodes so that re-applying a
// bucket that deletes an absent key stays a no-op.
type memValue struct {
	value     []byte
	tombstone bool
}

// MemDB is an in-memory ledger database backed by a skip list. It is
// safe for concurrent use; ApplyBatch takes the write lock once per
// batch.
type MemDB struct {
	mu   sync.RWMutex
	data *skiplist.SkipList[[]byte, *memValue]
	live int
}

var _ DB = (*MemDB)(nil)

func keyComparator(a, b []byte) int {
	return bytes.Compare(a, b)
}

// NewMemDB creates an empty in-memory ledger database.
func NewMemDB() *MemDB {
	return &MemDB{
		data: skiplist.NewWithComparator[[]byte, *memValue](keyComparator),
	}
}

// ApplyBatch applies one bounded batch of entries. Later entries in the
// batch win over earlier ones for the same key, matching bucket order.
func (db *MemDB) ApplyBatch(ctx context.Context, entries []core.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, e := range entries {
		newVal := &memValue{tombstone: e.Tombstone}
		if !e.Tombstone {
			newVal.value = append([]byte(nil), e.Value...)
		}
		key := append([]byte(nil), e.Key...)

		// Insert updates duplicate keys in place, so the prior record
		// must be read before the insert to track the live transition.
		wasLive := false
		if node, ok := db.data.Seek(key); ok && bytes.Equal(node.Key(), key) {
			wasLive = !node.Value().tombstone
		}
		db.data.Insert(key, newVal)

		if !newVal.tombstone && !wasLive {
			db.live++
		} else if newVal.tombstone && wasLive {
			db.live--
		}
	}
	return nil
}

// Get returns the live value for a key.
func (db *MemDB) Get(key []byte) ([]byte, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	node, ok := db.data.Seek(key)
	if !ok || !bytes.Equal(node.Key(), key) {
		return nil, false
	}
	v := node.Value()
	if v.tombstone {
		return nil, false
	}
	return v.value, true
}

// Has reports whether a live entry exists for key.
func (db *MemDB) Has(key []byte) bool {
	_, found := db.Get(key)
	return found
}

// Len returns the number of live keys.
func (db *MemDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.live
}
