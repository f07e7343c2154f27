package compressors

import (
	"encoding/binary"
	"fmt"

	lz4 "github.com/pierrec/lz4/v4"
	"github.com/tazeemc/stellar-core/core"
)

// LZ4Compressor implements the Compressor interface using LZ4 block
// compression. The block format does not record the original size, so
// it is prepended as a little-endian uint32.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, 4+lz4.CompressBlockBound(len(data)))
	binary.LittleEndian.PutUint32(dst[:4], uint32(len(data)))
	n, err := lz4.CompressBlock(data, dst[4:], nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 && len(data) > 0 {
		// Incompressible input: CompressBlock signals this with n == 0.
		// Fall back to storing the raw bytes after the size prefix with
		// the high bit of the prefix set.
		binary.LittleEndian.PutUint32(dst[:4], uint32(len(data))|lz4RawFlag)
		return append(dst[:4], data...), nil
	}
	return dst[:4+n], nil
}

const lz4RawFlag = 1 << 31

func (c *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("lz4 decompress error: truncated size prefix")
	}
	prefix := binary.LittleEndian.Uint32(data[:4])
	if prefix&lz4RawFlag != 0 {
		size := int(prefix &^ lz4RawFlag)
		if size != len(data)-4 {
			return nil, fmt.Errorf("lz4 decompress error: raw block size mismatch")
		}
		return data[4:], nil
	}
	dst := make([]byte, prefix)
	n, err := lz4.UncompressBlock(data[4:], dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress error: %w", err)
	}
	return dst[:n], nil
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}
