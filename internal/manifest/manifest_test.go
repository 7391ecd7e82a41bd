package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MikhailWahib/stratadb/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadMissing(t *testing.T) {
	s := manifest.NewStore(t.TempDir())
	_, err := s.Load()
	assert.ErrorIs(t, err, manifest.ErrNotFound)
}

func TestStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	s := manifest.NewStore(dir)

	levels := [][]string{{"b", "a"}, {}, {"c"}}
	require.NoError(t, s.Save(levels))

	m, err := manifest.NewStore(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, manifest.CurrentVersion, m.Version)
	assert.Equal(t, uint64(1), m.Seq)
	assert.Equal(t, levels, m.Levels)
	assert.Equal(t, 3, m.Runs())
}

func TestStore_SeqAdvancesAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s := manifest.NewStore(dir)
	require.NoError(t, s.Save([][]string{{"a"}}))
	require.NoError(t, s.Save([][]string{{"b"}}))

	reopened := manifest.NewStore(dir)
	m, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m.Seq)

	require.NoError(t, reopened.Save([][]string{{"c"}}))
	m, err = reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), m.Seq)
	assert.Equal(t, [][]string{{"c"}}, m.Levels)
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s := manifest.NewStore(dir)
	for range 3 {
		require.NoError(t, s.Save([][]string{{"a"}}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, manifest.FileName, entries[0].Name())
}

func TestStore_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName), []byte("{not json"), 0644))

	_, err := manifest.NewStore(dir).Load()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, manifest.ErrNotFound)
}

func TestStore_UnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName), []byte(`{"version": 99, "levels": []}`), 0644))

	_, err := manifest.NewStore(dir).Load()
	assert.ErrorIs(t, err, manifest.ErrUnsupportedVersion)
}
