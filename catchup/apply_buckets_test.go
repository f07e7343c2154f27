package catchup

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazeemc/stellar-core/bucket"
	"github.com/tazeemc/stellar-core/core"
	"github.com/tazeemc/stellar-core/history"
	"github.com/tazeemc/stellar-core/ledger"
	"github.com/tazeemc/stellar-core/work"
)

// mapSource is an in-memory BucketSource standing in for the
// persistent store.
type mapSource struct {
	data    map[core.BucketHash]*bucket.Bucket
	lookups int
}

func newMapSource(buckets ...*bucket.Bucket) *mapSource {
	s := &mapSource{data: make(map[core.BucketHash]*bucket.Bucket)}
	for _, b := range buckets {
		s.data[b.Hash()] = b
	}
	return s
}

func (s *mapSource) Lookup(_ context.Context, h core.BucketHash) (*bucket.Bucket, bool, error) {
	s.lookups++
	if h.IsZero() {
		return nil, false, core.ErrEmptyBucket
	}
	b, ok := s.data[h]
	return b, ok, nil
}

// makeBucket builds a bucket with n entries under a distinguishing
// prefix so different prefixes give different content hashes.
func makeBucket(prefix string, n int) *bucket.Bucket {
	entries := make([]core.Entry, n)
	for i := range entries {
		entries[i] = core.Entry{
			Key:   []byte(fmt.Sprintf("%s-key-%04d", prefix, i)),
			Value: []byte(fmt.Sprintf("%s-val-%04d", prefix, i)),
		}
	}
	return bucket.NewBucketFromEntries(entries)
}

// liveState reads the list's current per-level hashes into an archive
// state document.
func liveState(list *bucket.BucketList) history.ArchiveState {
	s := history.EmptyState(list.NumLevels())
	for i := 0; i < list.NumLevels(); i++ {
		level := list.GetLevel(i)
		s.CurrentBuckets[i].Curr = level.CurrHash().Hex()
		s.CurrentBuckets[i].Snap = level.SnapHash().Hex()
	}
	return s
}

// drive runs the engine's hooks the way the external driver would,
// asserting no hook fails, until the run reports success.
func drive(t *testing.T, w *ApplyBucketsWork) {
	t.Helper()
	ctx := context.Background()
	w.OnReset()
	for {
		require.NoError(t, w.OnStart(ctx))
		for {
			require.NoError(t, w.OnStep(ctx))
			state, err := w.OnEvaluate(ctx)
			require.NoError(t, err)
			switch state {
			case work.StateRunning:
				continue
			case work.StatePending:
			case work.StateSuccess:
				return
			default:
				t.Fatalf("unexpected state %v", state)
			}
			break
		}
	}
}

func assertListMatches(t *testing.T, list *bucket.BucketList, target history.ArchiveState) {
	t.Helper()
	for i := 0; i < list.NumLevels(); i++ {
		level := list.GetLevel(i)
		assert.Equal(t, target.Level(i).Curr, level.CurrHash().Hex(), "level %d curr", i)
		assert.Equal(t, target.Level(i).Snap, level.SnapHash().Hex(), "level %d snap", i)
	}
}

func TestApplyBuckets_NoOpIdempotence(t *testing.T) {
	// Scenario A: live state already equals the target at every level.
	list, err := bucket.NewBucketList(3)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		list.GetLevel(i).SetCurr(makeBucket(fmt.Sprintf("c%d", i), 5))
		list.GetLevel(i).SetSnap(makeBucket(fmt.Sprintf("s%d", i), 5))
	}
	target := liveState(list)
	target.CurrentLedger = 42

	db := ledger.NewMemDB()
	w, err := NewApplyBucketsWork(list, db, newMapSource(), nil, target, ApplyBucketsOptions{})
	require.NoError(t, err)
	drive(t, w)

	assert.Equal(t, int64(0), w.Metrics().BucketApplyStart.Value(), "no started events")
	assert.Equal(t, int64(0), w.Metrics().BucketApplySuccess.Value(), "no succeeded events")
	assert.Equal(t, 0, db.Len(), "nothing applied")
	assert.Equal(t, target, list.Head(), "head (re)installed to the target state")
	assertListMatches(t, list, target)
}

func TestApplyBuckets_CascadeFromCoarsestMismatch(t *testing.T) {
	// Scenario B: only the coarsest level's curr differs, yet the
	// cascade forces full replacement of every finer level.
	list, err := bucket.NewBucketList(3)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		list.GetLevel(i).SetCurr(makeBucket(fmt.Sprintf("c%d", i), 4))
		list.GetLevel(i).SetSnap(makeBucket(fmt.Sprintf("s%d", i), 4))
	}
	target := liveState(list)
	newCoarseCurr := makeBucket("c2-new", 8)
	target.CurrentBuckets[2].Curr = newCoarseCurr.Hash().Hex()

	// Every target bucket must be resolvable: the cascade re-resolves
	// finer-level buckets even though their live hashes match.
	source := newMapSource(newCoarseCurr)
	for i := 0; i < 2; i++ {
		source.data[list.GetLevel(i).CurrHash()] = list.GetLevel(i).Curr()
		source.data[list.GetLevel(i).SnapHash()] = list.GetLevel(i).Snap()
	}

	db := ledger.NewMemDB()
	w, err := NewApplyBucketsWork(list, db, source, nil, target, ApplyBucketsOptions{ChunkSize: 3})
	require.NoError(t, err)
	drive(t, w)

	// Level 2 curr, plus both of levels 1 and 0: 5 replacements, not 1.
	assert.Equal(t, int64(5), w.Metrics().BucketApplyStart.Value())
	assert.Equal(t, int64(5), w.Metrics().BucketApplySuccess.Value())
	assertListMatches(t, list, target)
	assert.Equal(t, target, list.Head())
	assert.True(t, db.Has([]byte("c2-new-key-0000")), "new coarse bucket applied to ledger")
}

func TestApplyBuckets_ZeroHashSentinel(t *testing.T) {
	// Scenario C: a zero target snap hash resolves to the empty bucket
	// without any pool or store lookup.
	list, err := bucket.NewBucketList(2)
	require.NoError(t, err)
	oldSnap := makeBucket("old-snap", 3)
	list.GetLevel(1).SetSnap(oldSnap)

	target := liveState(list)
	target.CurrentBuckets[1].Snap = core.ZeroHash.Hex()

	source := newMapSource()
	db := ledger.NewMemDB()
	w, err := NewApplyBucketsWork(list, db, source, nil, target, ApplyBucketsOptions{})
	require.NoError(t, err)
	drive(t, w)

	assert.Zero(t, source.lookups, "zero hash never consults the store")
	assert.True(t, list.GetLevel(1).SnapHash().IsZero(), "snap replaced by the empty bucket")
	assertListMatches(t, list, target)
	// Replacement still counts: level 1 snap plus cascaded level 1
	// curr and level 0 pair.
	assert.Equal(t, int64(4), w.Metrics().BucketApplySuccess.Value())
}

func TestApplyBuckets_MissingBucketFatal(t *testing.T) {
	// Scenario D: a target hash absent from pool and store aborts the
	// run before any further commit, with a typed, permanent error.
	list, err := bucket.NewBucketList(3)
	require.NoError(t, err)

	coarse := makeBucket("coarse", 4)
	missing := makeBucket("never-stored", 4)
	target := history.EmptyState(3)
	target.CurrentBuckets[2].Curr = coarse.Hash().Hex()
	target.CurrentBuckets[1].Curr = missing.Hash().Hex()

	db := ledger.NewMemDB()
	w, err := NewApplyBucketsWork(list, db, newMapSource(coarse), nil, target, ApplyBucketsOptions{})
	require.NoError(t, err)

	ctx := context.Background()
	w.OnReset()

	// Level 2 applies fine.
	require.NoError(t, w.OnStart(ctx))
	for {
		require.NoError(t, w.OnStep(ctx))
		state, evalErr := w.OnEvaluate(ctx)
		require.NoError(t, evalErr)
		if state == work.StatePending {
			break
		}
		require.Equal(t, work.StateRunning, state)
	}
	assert.Equal(t, coarse.Hash(), list.GetLevel(2).CurrHash(), "level 2 committed")

	// Level 1 references the missing bucket.
	err = w.OnStart(ctx)
	require.Error(t, err)
	assert.True(t, core.IsMissingBucket(err), "typed missing-bucket error")
	assert.True(t, work.IsPermanent(err), "missing data is never retried")
	assert.Contains(t, err.Error(), missing.Hash().Hex())

	// The committed coarse level survives the abort; the head was
	// never installed.
	assert.Equal(t, coarse.Hash(), list.GetLevel(2).CurrHash())
	assert.Equal(t, history.EmptyState(3), list.Head())
}

func TestApplyBuckets_PoolPreferredOverStore(t *testing.T) {
	list, err := bucket.NewBucketList(1)
	require.NoError(t, err)
	b := makeBucket("pooled", 6)
	target := history.EmptyState(1)
	target.CurrentBuckets[0].Curr = b.Hash().Hex()

	source := newMapSource() // store does not have it
	pool := map[string]*bucket.Bucket{b.Hash().Hex(): b}

	w, err := NewApplyBucketsWork(list, ledger.NewMemDB(), source, pool, target, ApplyBucketsOptions{})
	require.NoError(t, err)
	drive(t, w)

	assert.Zero(t, source.lookups, "pool hit skips the store")
	assert.Equal(t, b.Hash(), list.GetLevel(0).CurrHash())
}

func TestApplyBuckets_SnapAppliedBeforeCurr(t *testing.T) {
	list, err := bucket.NewBucketList(1)
	require.NoError(t, err)
	snap := makeBucket("snap", 6)
	curr := makeBucket("curr", 6)
	target := history.EmptyState(1)
	target.CurrentBuckets[0].Snap = snap.Hash().Hex()
	target.CurrentBuckets[0].Curr = curr.Hash().Hex()

	db := ledger.NewMemDB()
	w, err := NewApplyBucketsWork(list, db, newMapSource(snap, curr), nil, target, ApplyBucketsOptions{ChunkSize: 2})
	require.NoError(t, err)

	ctx := context.Background()
	w.OnReset()
	require.NoError(t, w.OnStart(ctx))

	// First steps drain snap entirely before curr contributes.
	require.NoError(t, w.OnStep(ctx))
	assert.True(t, db.Has([]byte("snap-key-0000")))
	assert.False(t, db.Has([]byte("curr-key-0000")), "curr waits for snap")

	for i := 0; i < 2; i++ {
		require.NoError(t, w.OnStep(ctx))
	}
	assert.True(t, db.Has([]byte("snap-key-0005")), "snap fully applied")
	assert.False(t, db.Has([]byte("curr-key-0000")), "curr still untouched")

	require.NoError(t, w.OnStep(ctx))
	assert.True(t, db.Has([]byte("curr-key-0000")), "curr begins after snap exhausted")
}

func TestApplyBuckets_PerLevelCommitAtomicity(t *testing.T) {
	// Level bucket references change only at end-of-level, never
	// between steps.
	list, err := bucket.NewBucketList(1)
	require.NoError(t, err)
	snap := makeBucket("snap", 10)
	curr := makeBucket("curr", 10)
	target := history.EmptyState(1)
	target.CurrentBuckets[0].Snap = snap.Hash().Hex()
	target.CurrentBuckets[0].Curr = curr.Hash().Hex()

	w, err := NewApplyBucketsWork(list, ledger.NewMemDB(), newMapSource(snap, curr), nil, target, ApplyBucketsOptions{ChunkSize: 3})
	require.NoError(t, err)

	ctx := context.Background()
	w.OnReset()
	require.NoError(t, w.OnStart(ctx))
	for {
		require.NoError(t, w.OnStep(ctx))
		state, evalErr := w.OnEvaluate(ctx)
		require.NoError(t, evalErr)
		if state == work.StateRunning {
			// Mid-level: the live level still holds its old buckets.
			assert.True(t, list.GetLevel(0).SnapHash().IsZero())
			assert.True(t, list.GetLevel(0).CurrHash().IsZero())
			continue
		}
		require.Equal(t, work.StateSuccess, state)
		break
	}
	assert.Equal(t, snap.Hash(), list.GetLevel(0).SnapHash())
	assert.Equal(t, curr.Hash(), list.GetLevel(0).CurrHash())
}

func TestApplyBuckets_ResetMidRunIsSafe(t *testing.T) {
	list, err := bucket.NewBucketList(2)
	require.NoError(t, err)
	coarseCurr := makeBucket("coarse-curr", 9)
	fineCurr := makeBucket("fine-curr", 9)
	target := history.EmptyState(2)
	target.CurrentBuckets[1].Curr = coarseCurr.Hash().Hex()
	target.CurrentBuckets[0].Curr = fineCurr.Hash().Hex()

	db := ledger.NewMemDB()
	w, err := NewApplyBucketsWork(list, db, newMapSource(coarseCurr, fineCurr), nil, target, ApplyBucketsOptions{ChunkSize: 2})
	require.NoError(t, err)

	// Begin applying the coarse level, then reset mid-level.
	ctx := context.Background()
	w.OnReset()
	require.NoError(t, w.OnStart(ctx))
	require.NoError(t, w.OnStep(ctx))
	w.OnReset()
	assert.True(t, list.GetLevel(1).CurrHash().IsZero(), "uncommitted level untouched by reset")

	// A full re-run converges to the target despite the partial apply.
	drive(t, w)
	assertListMatches(t, list, target)
	assert.Equal(t, target, list.Head())
	assert.Equal(t, 18, db.Len(), "re-applied entries are idempotent")
}

func TestApplyBuckets_FinalStateEquivalence(t *testing.T) {
	list, err := bucket.NewBucketList(4)
	require.NoError(t, err)
	target := history.EmptyState(4)
	var all []*bucket.Bucket
	for i := 0; i < 4; i++ {
		c := makeBucket(fmt.Sprintf("tc%d", i), 3)
		s := makeBucket(fmt.Sprintf("ts%d", i), 3)
		target.CurrentBuckets[i] = history.LevelBuckets{Curr: c.Hash().Hex(), Snap: s.Hash().Hex()}
		all = append(all, c, s)
	}

	w, err := NewApplyBucketsWork(list, ledger.NewMemDB(), newMapSource(all...), nil, target, ApplyBucketsOptions{})
	require.NoError(t, err)
	drive(t, w)

	head := list.Head()
	for i := 0; i < 4; i++ {
		assert.Equal(t, target.Level(i), head.Level(i), "level %d", i)
	}
	assertListMatches(t, list, target)
	assert.Equal(t, int64(8), w.Metrics().BucketApplySuccess.Value())
}

func TestApplyBuckets_RunnerIntegration(t *testing.T) {
	// The engine under the real driver: a missing bucket raises
	// without retries and marks a single failure.
	list, err := bucket.NewBucketList(1)
	require.NoError(t, err)
	missing := makeBucket("missing", 2)
	target := history.EmptyState(1)
	target.CurrentBuckets[0].Curr = missing.Hash().Hex()

	w, err := NewApplyBucketsWork(list, ledger.NewMemDB(), newMapSource(), nil, target, ApplyBucketsOptions{})
	require.NoError(t, err)

	runner := work.NewRunner(work.RunnerOptions{MaxAttempts: 4})
	err = runner.Run(context.Background(), w)
	require.Error(t, err)
	assert.True(t, core.IsMissingBucket(err))
	assert.Equal(t, int64(1), w.Metrics().BucketApplyFailure.Value(), "raise only, no retries")
}

func TestApplyBuckets_RunnerSuccess(t *testing.T) {
	list, err := bucket.NewBucketList(2)
	require.NoError(t, err)
	c := makeBucket("runner-curr", 130)
	target := history.EmptyState(2)
	target.CurrentBuckets[1].Curr = c.Hash().Hex()

	db := ledger.NewMemDB()
	w, err := NewApplyBucketsWork(list, db, newMapSource(c), nil, target, ApplyBucketsOptions{})
	require.NoError(t, err)

	runner := work.NewRunner(work.RunnerOptions{})
	require.NoError(t, runner.Run(context.Background(), w))
	assert.Equal(t, target, list.Head())
	assert.Equal(t, 130, db.Len())
}

func TestApplyBuckets_InvalidStateRejected(t *testing.T) {
	list, err := bucket.NewBucketList(3)
	require.NoError(t, err)

	bad := history.EmptyState(3)
	bad.CurrentBuckets[0].Curr = strings.Repeat("zz", core.HashSize)
	_, err = NewApplyBucketsWork(list, ledger.NewMemDB(), newMapSource(), nil, bad, ApplyBucketsOptions{})
	assert.Error(t, err)

	wrongLevels := history.EmptyState(4)
	_, err = NewApplyBucketsWork(list, ledger.NewMemDB(), newMapSource(), nil, wrongLevels, ApplyBucketsOptions{})
	assert.Error(t, err)
}
