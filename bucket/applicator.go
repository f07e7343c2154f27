package bucket

import (
	"context"
	"fmt"

	"github.com/tazeemc/stellar-core/ledger"
)

// DefaultChunkSize is the number of entries an Applicator applies per
// Advance call unless configured otherwise. How many entries make one
// chunk is a tuning knob of the applicator, not of the engine driving
// it.
const DefaultChunkSize = 64

// ApplicatorOptions configures an Applicator.
type ApplicatorOptions struct {
	// ChunkSize bounds the entries applied per Advance call.
	// Zero means DefaultChunkSize.
	ChunkSize int
}

// Applicator is a resumable cursor that applies one bucket's entries
// into the ledger database in bounded chunks. The caller drives it:
// while HasWork reports true, each Advance applies at most one chunk
// and returns.
type Applicator struct {
	db        ledger.Batcher
	bucket    *Bucket
	pos       int
	chunkSize int
}

// NewApplicator creates an applicator for the given bucket.
func NewApplicator(db ledger.Batcher, b *Bucket, opts ApplicatorOptions) *Applicator {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &Applicator{db: db, bucket: b, chunkSize: chunk}
}

// HasWork reports whether unconsumed entries remain.
func (a *Applicator) HasWork() bool {
	return a.pos < a.bucket.Len()
}

// Advance applies the next chunk of entries. Calling Advance on an
// exhausted applicator is a no-op.
func (a *Applicator) Advance(ctx context.Context) error {
	if !a.HasWork() {
		return nil
	}
	end := a.pos + a.chunkSize
	if end > a.bucket.Len() {
		end = a.bucket.Len()
	}
	if err := a.db.ApplyBatch(ctx, a.bucket.Entries()[a.pos:end]); err != nil {
		return fmt.Errorf("failed to apply bucket %s entries [%d,%d): %w",
			a.bucket.Hash(), a.pos, end, err)
	}
	a.pos = end
	return nil
}

// Progress returns how many entries have been applied and the total.
func (a *Applicator) Progress() (applied, total int) {
	return a.pos, a.bucket.Len()
}
