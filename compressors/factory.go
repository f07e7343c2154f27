package compressors

import (
	"fmt"
	"strings"

	"github.com/tazeemc/stellar-core/core"
)

// ForName returns the compressor registered under the given
// configuration name.
func ForName(name string) (core.Compressor, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return NewNoCompressionCompressor(), nil
	case "snappy":
		return NewSnappyCompressor(), nil
	case "lz4":
		return NewLz4Compressor(), nil
	case "zstd":
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("unknown compression codec %q", name)
	}
}

// ForType returns the compressor for an on-disk CompressionType tag.
func ForType(ct core.CompressionType) (core.Compressor, error) {
	switch ct {
	case core.CompressionNone:
		return NewNoCompressionCompressor(), nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("unknown compression type %d", ct)
	}
}
