package bucket

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/tazeemc/stellar-core/compressors"
	"github.com/tazeemc/stellar-core/core"
)

const bucketFileSuffix = ".dat"

// StoreOptions configures a bucket Store.
type StoreOptions struct {
	// Compressor used for newly written bucket files. Files are read
	// back with whatever codec their header records. Nil means snappy.
	Compressor core.Compressor
	// VerifyOnOpen re-reads every bucket file on Open and checks its
	// content hash against its file name.
	VerifyOnOpen   bool
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

// Store is a persistent, content-addressed bucket store. Each bucket
// is one immutable file named bucket-<hex>.dat; writes go through a
// temp file and rename so a crash never leaves a partial file under a
// final name.
type Store struct {
	mu         sync.RWMutex
	dir        string
	compressor core.Compressor
	logger     *slog.Logger
	tracer     trace.Tracer
	closed     bool
}

// OpenStore opens (creating if needed) a bucket store rooted at dir.
func OpenStore(dir string, opts StoreOptions) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bucket dir %s: %w", dir, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var tracer trace.Tracer
	if opts.TracerProvider != nil {
		tracer = opts.TracerProvider.Tracer("github.com/tazeemc/stellar-core/bucket")
	} else {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	compressor := opts.Compressor
	if compressor == nil {
		compressor = compressors.NewSnappyCompressor()
	}

	s := &Store{
		dir:        dir,
		compressor: compressor,
		logger:     logger.With("component", "BucketStore"),
		tracer:     tracer,
	}
	if opts.VerifyOnOpen {
		if err := s.verifyAll(context.Background()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// verifyAll re-reads every bucket file concurrently and checks its
// recomputed hash against the file name.
func (s *Store) verifyAll(ctx context.Context) error {
	names, err := s.listBucketFiles()
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			hash, err := hashFromFileName(name)
			if err != nil {
				return err
			}
			if _, _, err := s.Lookup(ctx, hash); err != nil {
				return fmt.Errorf("verification of %s failed: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Store) listBucketFiles() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read bucket dir %s: %w", s.dir, err)
	}
	var names []string
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, "bucket-") || !strings.HasSuffix(name, bucketFileSuffix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func hashFromFileName(name string) (core.BucketHash, error) {
	hex := strings.TrimSuffix(strings.TrimPrefix(name, "bucket-"), bucketFileSuffix)
	return core.HashFromHex(hex)
}

func (s *Store) pathFor(hash core.BucketHash) string {
	return filepath.Join(s.dir, "bucket-"+hash.Hex()+bucketFileSuffix)
}

// Put persists a bucket. Storing the same bucket twice is a no-op: the
// file is content-addressed and immutable once renamed into place.
func (s *Store) Put(b *Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrStoreClosed
	}
	if b.IsEmpty() {
		return core.ErrEmptyBucket
	}

	finalPath := s.pathFor(b.Hash())
	if _, err := os.Stat(finalPath); err == nil {
		return nil
	}

	payload, err := s.compressor.Compress(encodeEntries(b.Entries()))
	if err != nil {
		return fmt.Errorf("failed to compress bucket %s: %w", b.Hash(), err)
	}

	header := make([]byte, 10)
	binary.LittleEndian.PutUint32(header[0:4], bucketFileMagic)
	header[4] = bucketFileVersion
	header[5] = byte(s.compressor.Type())
	binary.LittleEndian.PutUint32(header[6:10], uint32(len(payload)))

	tempPath := finalPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp bucket file: %w", err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(tempPath)
	}
	if _, err := file.Write(header); err != nil {
		cleanup()
		return fmt.Errorf("failed to write bucket header: %w", err)
	}
	if _, err := file.Write(payload); err != nil {
		cleanup()
		return fmt.Errorf("failed to write bucket payload: %w", err)
	}
	var checksum [4]byte
	binary.LittleEndian.PutUint32(checksum[:], crc32.ChecksumIEEE(payload))
	if _, err := file.Write(checksum[:]); err != nil {
		cleanup()
		return fmt.Errorf("failed to write bucket checksum: %w", err)
	}
	if err := file.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync bucket file: %w", err)
	}
	// Close before the rename; required on Windows.
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp bucket file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename bucket file into place: %w", err)
	}

	s.logger.Debug("stored bucket", "hash", b.Hash().Hex(), "entries", b.Len(), "bytes", len(payload))
	return nil
}

// Lookup loads a bucket by hash. A missing bucket is (nil, false, nil);
// a present but unreadable or corrupt bucket is an error. The zero hash
// has no stored representation and must not be looked up.
func (s *Store) Lookup(ctx context.Context, hash core.BucketHash) (*Bucket, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, core.ErrStoreClosed
	}
	if hash.IsZero() {
		return nil, false, core.ErrEmptyBucket
	}

	_, span := s.tracer.Start(ctx, "BucketStore.Lookup",
		trace.WithAttributes(attribute.String("bucket.hash", hash.Hex())))
	defer span.End()

	data, err := os.ReadFile(s.pathFor(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read bucket %s: %w", hash, err)
	}

	b, err := decodeBucketFile(data)
	if err != nil {
		return nil, false, fmt.Errorf("bucket %s: %w", hash, err)
	}
	if b.Hash() != hash {
		return nil, false, fmt.Errorf("%w: content hash %s does not match file name %s",
			core.ErrCorruptBucket, b.Hash(), hash)
	}
	return b, true, nil
}

func decodeBucketFile(data []byte) (*Bucket, error) {
	if len(data) < 10+4 {
		return nil, fmt.Errorf("%w: file too short", core.ErrCorruptBucket)
	}
	if binary.LittleEndian.Uint32(data[0:4]) != bucketFileMagic {
		return nil, fmt.Errorf("%w: bad magic", core.ErrCorruptBucket)
	}
	if data[4] != bucketFileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", core.ErrCorruptBucket, data[4])
	}
	codec := core.CompressionType(data[5])
	payloadLen := int(binary.LittleEndian.Uint32(data[6:10]))
	if len(data) != 10+payloadLen+4 {
		return nil, fmt.Errorf("%w: payload length mismatch", core.ErrCorruptBucket)
	}
	payload := data[10 : 10+payloadLen]

	wantSum := binary.LittleEndian.Uint32(data[10+payloadLen:])
	if crc32.ChecksumIEEE(payload) != wantSum {
		return nil, fmt.Errorf("%w: checksum mismatch", core.ErrCorruptBucket)
	}

	decompressor, err := compressors.ForType(codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorruptBucket, err)
	}
	raw, err := decompressor.Decompress(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorruptBucket, err)
	}
	entries, err := decodeEntries(raw)
	if err != nil {
		return nil, err
	}
	return NewBucketFromEntries(entries), nil
}

// Close marks the store closed. Further Put/Lookup calls fail with
// ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
