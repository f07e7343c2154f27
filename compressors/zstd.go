package compressors

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/tazeemc/stellar-core/core"
)

// ZstdCompressor implements the Compressor interface using zstd.
// Encoders and decoders are pooled; creating them is expensive.
type ZstdCompressor struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
}

var _ core.Compressor = (*ZstdCompressor)(nil)

func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{
		encoderPool: sync.Pool{
			New: func() interface{} {
				enc, err := zstd.NewWriter(nil)
				if err != nil {
					return nil
				}
				return enc
			},
		},
		decoderPool: sync.Pool{
			New: func() interface{} {
				dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(100*1024*1024))
				if err != nil {
					return nil
				}
				return dec
			},
		},
	}
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, _ := c.encoderPool.Get().(*zstd.Encoder)
	if enc == nil {
		return nil, fmt.Errorf("zstd compress error: failed to acquire encoder")
	}
	defer c.encoderPool.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	dec, _ := c.decoderPool.Get().(*zstd.Decoder)
	if dec == nil {
		return nil, fmt.Errorf("zstd decompress error: failed to acquire decoder")
	}
	defer c.decoderPool.Put(dec)
	decompressed, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress error: %w", err)
	}
	return decompressed, nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}
