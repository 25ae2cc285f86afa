package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save("a", map[string]int{"n": 1}))
	assert.True(t, s.Exists("a"))

	var out map[string]int
	ok, err := s.Get("a", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, out["n"])

	require.NoError(t, s.Delete("a"))
	assert.False(t, s.Exists("a"))
}

func TestWALReplayOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save("k1", "v1"))
	require.NoError(t, s.SaveBatch(map[string]any{"k2": "v2", "k3": "v3"}))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, 3, s2.Count())
}

func TestSecondOpenFailsWhileFirstHoldsLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = Open(path)
	assert.Error(t, err)
}

func TestListPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveBatch(map[string]any{
		"bulletin:1": 1, "bulletin:2": 2, "connlog:1": 3,
	}))
	keys := s.List("bulletin:%")
	assert.ElementsMatch(t, []string{"bulletin:1", "bulletin:2"}, keys)
}

func TestVacuumCompactsWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save("a", 1))
	require.NoError(t, s.Vacuum())
	assert.Equal(t, 1, s.Count())
}
