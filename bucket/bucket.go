// Package bucket implements the content-addressed bucket list: the
// multi-level merge structure a catch-up run reconstructs.
package bucket

import (
	"crypto/sha256"
	"sort"

	"github.com/tazeemc/stellar-core/core"
)

// Bucket is an immutable, sorted, content-addressed collection of
// ledger entries. Replacing a bucket always means binding a different
// Bucket value, never editing one.
type Bucket struct {
	entries []core.Entry
	hash    core.BucketHash
}

// NewBucket returns the canonical empty bucket. Its hash is the
// reserved all-zero hash.
func NewBucket() *Bucket {
	return &Bucket{}
}

// NewBucketFromEntries builds a bucket from a set of entries. Entries
// are sorted by key; when a key appears more than once the last
// occurrence wins. The content hash is computed over the canonical
// binary encoding.
func NewBucketFromEntries(entries []core.Entry) *Bucket {
	if len(entries) == 0 {
		return NewBucket()
	}

	deduped := make([]core.Entry, 0, len(entries))
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		if idx, ok := seen[string(e.Key)]; ok {
			deduped[idx] = e.Clone()
			continue
		}
		seen[string(e.Key)] = len(deduped)
		deduped = append(deduped, e.Clone())
	}
	sort.Slice(deduped, func(i, j int) bool {
		return string(deduped[i].Key) < string(deduped[j].Key)
	})

	b := &Bucket{entries: deduped}
	b.hash = sha256.Sum256(encodeEntries(deduped))
	return b
}

// Hash returns the bucket's content hash.
func (b *Bucket) Hash() core.BucketHash {
	return b.hash
}

// IsEmpty reports whether the bucket holds no entries.
func (b *Bucket) IsEmpty() bool {
	return len(b.entries) == 0
}

// Len returns the number of entries.
func (b *Bucket) Len() int {
	return len(b.entries)
}

// EntryAt returns the entry at index i in key order.
func (b *Bucket) EntryAt(i int) core.Entry {
	return b.entries[i]
}

// Entries returns the bucket's entries in key order. The returned
// slice is shared; callers must not mutate it.
func (b *Bucket) Entries() []core.Entry {
	return b.entries
}
