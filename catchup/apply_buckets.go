// Package catchup reconstructs the live bucket list to a target
// archive state: level by level from coarsest to finest, verifying
// buckets by content hash and applying their entries into the ledger
// database in bounded chunks.
package catchup

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tazeemc/stellar-core/bucket"
	"github.com/tazeemc/stellar-core/core"
	"github.com/tazeemc/stellar-core/history"
	"github.com/tazeemc/stellar-core/hooks"
	"github.com/tazeemc/stellar-core/ledger"
	"github.com/tazeemc/stellar-core/work"
)

// BucketSource resolves bucket hashes against persistent storage. A
// missing bucket is (nil, false, nil).
type BucketSource interface {
	Lookup(ctx context.Context, hash core.BucketHash) (*bucket.Bucket, bool, error)
}

// ApplyBucketsOptions configures an ApplyBucketsWork.
type ApplyBucketsOptions struct {
	// ChunkSize is passed through to the applicators it creates.
	ChunkSize      int
	Logger         *slog.Logger
	Hooks          hooks.HookManager
	Metrics        *Metrics
	TracerProvider trace.TracerProvider
}

// ApplyBucketsWork is the catch-up apply state machine. It implements
// work.Task: an external driver repeatedly invokes its hooks, and each
// step applies at most one bounded chunk of one bucket.
//
// Once any level requires replacing either of its buckets, the
// applying flag stays set for the remainder of the run, forcing every
// finer level to replace both buckets even when their live hashes
// already match the target: a coarse-level mismatch means the merge
// lineage below it cannot be trusted.
type ApplyBucketsWork struct {
	buckets    map[string]*bucket.Bucket
	applyState history.ArchiveState
	store      BucketSource
	db         ledger.DB
	list       *bucket.BucketList

	applying bool
	level    int

	snapBucket     *bucket.Bucket
	currBucket     *bucket.Bucket
	snapApplicator *bucket.Applicator
	currApplicator *bucket.Applicator

	chunkSize int
	logger    *slog.Logger
	hooks     hooks.HookManager
	metrics   *Metrics
	tracer    trace.Tracer
}

var _ work.Task = (*ApplyBucketsWork)(nil)

// NewApplyBucketsWork creates a catch-up apply over the given live
// list, ledger database and bucket sources. buckets is the pool of
// already-fetched or already-merged buckets for this run, keyed by hex
// hash; store is the fallback persistent lookup.
func NewApplyBucketsWork(
	list *bucket.BucketList,
	db ledger.DB,
	store BucketSource,
	buckets map[string]*bucket.Bucket,
	applyState history.ArchiveState,
	opts ApplyBucketsOptions,
) (*ApplyBucketsWork, error) {
	if err := applyState.Validate(list.NumLevels()); err != nil {
		return nil, fmt.Errorf("invalid apply state: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hookManager := opts.Hooks
	if hookManager == nil {
		hookManager = hooks.NewHookManager(nil)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	var tracer trace.Tracer
	if opts.TracerProvider != nil {
		tracer = opts.TracerProvider.Tracer("github.com/tazeemc/stellar-core/catchup")
	} else {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	w := &ApplyBucketsWork{
		buckets:    buckets,
		applyState: applyState,
		store:      store,
		db:         db,
		list:       list,
		chunkSize:  opts.ChunkSize,
		logger:     logger.With("component", "ApplyBucketsWork"),
		hooks:      hookManager,
		metrics:    metrics,
		tracer:     tracer,
	}
	w.OnReset()
	return w, nil
}

// Name implements work.Task.
func (w *ApplyBucketsWork) Name() string { return "apply-buckets" }

// Metrics returns the run's counters.
func (w *ApplyBucketsWork) Metrics() *Metrics { return w.metrics }

// OnReset returns the walk to the coarsest level and drops in-flight
// applicators. Already-committed levels are never touched; at worst
// the level that was in progress is re-applied, which is safe because
// bucket application is deterministic and idempotent.
func (w *ApplyBucketsWork) OnReset() {
	w.level = w.list.NumLevels() - 1
	w.applying = false
	w.snapBucket = nil
	w.currBucket = nil
	w.snapApplicator = nil
	w.currApplicator = nil
}

// getBucket resolves a target hash to a Bucket: the zero hash is the
// canonical empty bucket and never consults any source; otherwise the
// run's pool is checked before the persistent store. A hash found in
// neither is a fatal integrity failure, never retried.
func (w *ApplyBucketsWork) getBucket(ctx context.Context, hashHex string) (*bucket.Bucket, error) {
	hash, err := core.HashFromHex(hashHex)
	if err != nil {
		return nil, work.Permanent(err)
	}
	if hash.IsZero() {
		return bucket.NewBucket(), nil
	}
	if b, ok := w.buckets[hashHex]; ok {
		return b, nil
	}
	b, ok, err := w.store.Lookup(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("bucket store lookup failed: %w", err)
	}
	if !ok {
		return nil, work.Permanent(&core.MissingBucketError{Hash: hashHex})
	}
	return b, nil
}

// startApply resolves one target bucket and creates its applicator.
func (w *ApplyBucketsWork) startApply(ctx context.Context, kind, hashHex string) (*bucket.Bucket, *bucket.Applicator, error) {
	b, err := w.getBucket(ctx, hashHex)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving level %d %s: %w", w.level, kind, err)
	}
	event := hooks.NewPreBucketApplyEvent(hooks.BucketApplyPayload{
		Level: w.level, Kind: kind, HashHex: hashHex, Entries: b.Len(),
	})
	if err := w.hooks.Trigger(ctx, event); err != nil {
		return nil, nil, fmt.Errorf("bucket apply vetoed: %w", err)
	}
	a := bucket.NewApplicator(w.db, b, bucket.ApplicatorOptions{ChunkSize: w.chunkSize})
	w.logger.Debug("starting bucket apply",
		"level", w.level, "kind", kind, "hash", hashHex, "entries", b.Len())
	w.metrics.BucketApplyStart.Add(1)
	return b, a, nil
}

// OnStart compares the current level against its target pair and
// creates applicators for whatever must be replaced. Snap is checked
// before curr; the applying flag is sticky within the level and across
// all finer levels.
func (w *ApplyBucketsWork) OnStart(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "ApplyBucketsWork.OnStart",
		trace.WithAttributes(attribute.Int("catchup.level", w.level)))
	defer span.End()

	level := w.list.GetLevel(w.level)
	target := w.applyState.Level(w.level)

	if w.applying || target.Snap != level.SnapHash().Hex() {
		b, a, err := w.startApply(ctx, "snap", target.Snap)
		if err != nil {
			return err
		}
		w.snapBucket, w.snapApplicator = b, a
		w.applying = true
	}
	if w.applying || target.Curr != level.CurrHash().Hex() {
		b, a, err := w.startApply(ctx, "curr", target.Curr)
		if err != nil {
			return err
		}
		w.currBucket, w.currApplicator = b, a
		w.applying = true
	}
	return nil
}

// OnStep advances at most one applicator by at most one chunk. Snap is
// fully applied before curr begins.
func (w *ApplyBucketsWork) OnStep(ctx context.Context) error {
	if w.snapApplicator != nil && w.snapApplicator.HasWork() {
		return w.snapApplicator.Advance(ctx)
	}
	if w.currApplicator != nil && w.currApplicator.HasWork() {
		return w.currApplicator.Advance(ctx)
	}
	return nil
}

// OnEvaluate reports StateRunning while either applicator has work.
// Once both are exhausted it commits the level's replacements, then
// either moves one level finer (StatePending) or, at level 0, installs
// the target state as the list's new head (StateSuccess).
func (w *ApplyBucketsWork) OnEvaluate(ctx context.Context) (work.State, error) {
	if (w.snapApplicator != nil && w.snapApplicator.HasWork()) ||
		(w.currApplicator != nil && w.currApplicator.HasWork()) {
		return work.StateRunning, nil
	}

	level := w.list.GetLevel(w.level)
	target := w.applyState.Level(w.level)
	replacements := 0
	if w.snapBucket != nil {
		level.SetSnap(w.snapBucket)
		w.metrics.BucketApplySuccess.Add(1)
		replacements++
		w.hooks.Trigger(ctx, hooks.NewPostBucketApplyEvent(hooks.BucketApplyPayload{
			Level: w.level, Kind: "snap", HashHex: target.Snap, Entries: w.snapBucket.Len(),
		}))
	}
	if w.currBucket != nil {
		level.SetCurr(w.currBucket)
		w.metrics.BucketApplySuccess.Add(1)
		replacements++
		w.hooks.Trigger(ctx, hooks.NewPostBucketApplyEvent(hooks.BucketApplyPayload{
			Level: w.level, Kind: "curr", HashHex: target.Curr, Entries: w.currBucket.Len(),
		}))
	}
	w.snapBucket = nil
	w.currBucket = nil
	w.snapApplicator = nil
	w.currApplicator = nil

	w.hooks.Trigger(ctx, hooks.NewPostLevelCommitEvent(hooks.LevelCommitPayload{
		Level: w.level, Replacements: replacements,
	}))

	if w.level != 0 {
		w.level--
		w.logger.Debug("starting next level", "level", w.level)
		return work.StatePending, nil
	}

	if err := w.list.InstallHead(w.applyState); err != nil {
		return work.StateFailure, work.Permanent(err)
	}
	w.logger.Debug("bucket apply done, head installed",
		"ledger", w.applyState.CurrentLedger, "levels", w.list.NumLevels())
	w.hooks.Trigger(ctx, hooks.NewPostHeadInstallEvent(hooks.HeadInstallPayload{
		CurrentLedger: w.applyState.CurrentLedger,
		NumLevels:     w.list.NumLevels(),
	}))
	return work.StateSuccess, nil
}

// OnFailureRetry implements work.Task.
func (w *ApplyBucketsWork) OnFailureRetry() {
	w.metrics.BucketApplyFailure.Add(1)
}

// OnFailureRaise implements work.Task.
func (w *ApplyBucketsWork) OnFailureRaise() {
	w.metrics.BucketApplyFailure.Add(1)
}
