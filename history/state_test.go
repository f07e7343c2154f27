package history

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazeemc/stellar-core/core"
)

func TestEmptyState(t *testing.T) {
	s := EmptyState(11)
	assert.Equal(t, 11, s.NumLevels())
	require.NoError(t, s.Validate(11))
	for i := 0; i < 11; i++ {
		lb := s.Level(i)
		assert.Equal(t, core.ZeroHash.Hex(), lb.Curr)
		assert.Equal(t, core.ZeroHash.Hex(), lb.Snap)
	}
}

func TestArchiveState_Validate(t *testing.T) {
	good := EmptyState(3)
	require.NoError(t, good.Validate(3))

	wrongCount := EmptyState(3)
	assert.Error(t, wrongCount.Validate(4))

	badHash := EmptyState(3)
	badHash.CurrentBuckets[1].Snap = "not-a-hash"
	err := badHash.Validate(3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "level 1 snap")

	shortHash := EmptyState(3)
	shortHash.CurrentBuckets[0].Curr = "abcd"
	assert.Error(t, shortHash.Validate(3))
}

func TestArchiveState_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive-state.json")

	s := EmptyState(3)
	s.CurrentLedger = 12345
	s.CurrentBuckets[0].Curr = strings.Repeat("ab", core.HashSize)
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)

	// The temp file must not linger after a successful save.
	_, err = Load(path + ".tmp")
	assert.Error(t, err)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
