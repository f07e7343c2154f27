// Package ledger defines the database surface that bucket application
// writes into during catch-up.
package ledger

import (
	"context"

	"github.com/tazeemc/stellar-core/core"
)

// Batcher is the narrow write surface the bucket applicator needs: it
// applies one bounded batch of entries. Tombstone entries delete their
// key; applying the same batch twice is idempotent.
type Batcher interface {
	ApplyBatch(ctx context.Context, entries []core.Entry) error
}

// DB is the full ledger database surface.
type DB interface {
	Batcher
	// Get returns the live value for a key.
	Get(key []byte) (value []byte, found bool)
	// Has reports whether a live (non-deleted) entry exists for key.
	Has(key []byte) bool
	// Len returns the number of live keys.
	Len() int
}
