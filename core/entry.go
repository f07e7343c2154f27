package core

// Entry is a single ledger entry carried by a bucket. Entries are
// opaque key/value payloads; a tombstone entry deletes its key from the
// ledger database when applied.
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Size returns the estimated in-memory size of the entry.
func (e *Entry) Size() int64 {
	return int64(len(e.Key) + len(e.Value) + 1)
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	c := Entry{Tombstone: e.Tombstone}
	if e.Key != nil {
		c.Key = append([]byte(nil), e.Key...)
	}
	if e.Value != nil {
		c.Value = append([]byte(nil), e.Value...)
	}
	return c
}
