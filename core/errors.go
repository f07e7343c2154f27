package core

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreClosed is returned by bucket store operations after Close.
	ErrStoreClosed = errors.New("bucket store is closed")
	// ErrCorruptBucket is returned when a stored bucket file fails
	// checksum or format validation.
	ErrCorruptBucket = errors.New("bucket file is corrupt")
	// ErrEmptyBucket is returned when the empty bucket is passed to an
	// operation that only accepts content-bearing buckets.
	ErrEmptyBucket = errors.New("empty bucket has no stored representation")
)

// MissingBucketError reports that a target state references a bucket
// hash absent from both the supplied pool and the persistent store.
// This is a data-integrity failure of the catch-up input and is never
// retried.
type MissingBucketError struct {
	Hash string
}

func (e *MissingBucketError) Error() string {
	return fmt.Sprintf("bucket %s not found in pool or store", e.Hash)
}

// IsMissingBucket checks if an error is a MissingBucketError.
func IsMissingBucket(err error) bool {
	var missing *MissingBucketError
	return errors.As(err, &missing)
}
