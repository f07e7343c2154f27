package bucket

import (
	"encoding/binary"
	"fmt"

	"github.com/tazeemc/stellar-core/core"
)

// On-disk bucket file layout:
//
//	magic    uint32
//	version  uint8
//	codec    uint8  (core.CompressionType)
//	length   uint32 (compressed payload length)
//	payload  [length]byte
//	checksum uint32 (CRC32 of payload)
//
// The payload is the canonical entry encoding, compressed with codec.
// The canonical encoding is also what the content hash is computed
// over, so a decoded bucket can be re-verified against its file name.
const (
	bucketFileMagic   uint32 = 0x4253544C // "BSTL"
	bucketFileVersion uint8  = 1
)

// encodeEntries serializes entries in their canonical binary form:
// per entry a tombstone flag, then length-prefixed key and value.
func encodeEntries(entries []core.Entry) []byte {
	size := 0
	for i := range entries {
		size += 1 + 4 + len(entries[i].Key) + 4 + len(entries[i].Value)
	}
	buf := make([]byte, 0, size)
	for i := range entries {
		e := &entries[i]
		if e.Tombstone {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Key)))
		buf = append(buf, e.Key...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Value)))
		buf = append(buf, e.Value...)
	}
	return buf
}

// decodeEntries parses the canonical entry encoding.
func decodeEntries(data []byte) ([]core.Entry, error) {
	var entries []core.Entry
	pos := 0
	for pos < len(data) {
		if len(data)-pos < 1+4 {
			return nil, fmt.Errorf("%w: truncated entry header", core.ErrCorruptBucket)
		}
		tombstone := data[pos] == 1
		pos++

		keyLen := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if len(data)-pos < keyLen+4 {
			return nil, fmt.Errorf("%w: truncated entry key", core.ErrCorruptBucket)
		}
		key := append([]byte(nil), data[pos:pos+keyLen]...)
		pos += keyLen

		valLen := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if len(data)-pos < valLen {
			return nil, fmt.Errorf("%w: truncated entry value", core.ErrCorruptBucket)
		}
		var val []byte
		if valLen > 0 {
			val = append([]byte(nil), data[pos:pos+valLen]...)
		}
		pos += valLen

		entries = append(entries, core.Entry{Key: key, Value: val, Tombstone: tombstone})
	}
	return entries, nil
}
