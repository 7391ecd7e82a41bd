package stratadb_test

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/MikhailWahib/stratadb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *stratadb.Config {
	cfg := stratadb.DefaultConfig()
	cfg.BufferEntries = 8
	cfg.Depth = 4
	cfg.Fanout = 3
	cfg.Compression = "zstd"
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func TestDB_Lifecycle(t *testing.T) {
	dir := t.TempDir()

	db, err := stratadb.Open(dir, testConfig())
	require.NoError(t, err)

	for i := range 100 {
		require.NoError(t, db.Put(fmt.Appendf(nil, "user:%03d", i), fmt.Appendf(nil, "name-%d", i)))
	}
	require.NoError(t, db.Delete([]byte("user:050")))

	v, ok, err := db.Get([]byte("user:042"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "name-42", string(v))

	_, ok, err = db.Get([]byte("user:050"))
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, db.Close())

	db, err = stratadb.Open(dir, testConfig())
	require.NoError(t, err)
	defer db.Close()

	entries, err := db.Scan([]byte("user:048"), []byte("user:053"))
	require.NoError(t, err)
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = string(e.Key)
	}
	assert.Equal(t, []string{"user:048", "user:049", "user:051", "user:052"}, keys)

	values, err := db.Range([]byte("user:098"), nil)
	require.NoError(t, err)
	assert.Len(t, values, 2)

	stats := db.Stats()
	assert.Len(t, stats.Levels, 4)
}

func TestDB_Errors(t *testing.T) {
	db, err := stratadb.Open(t.TempDir(), testConfig())
	require.NoError(t, err)

	assert.ErrorIs(t, db.Put(nil, []byte("v")), stratadb.ErrEmptyKey)
	require.NoError(t, db.Close())
	assert.ErrorIs(t, db.Put([]byte("k"), []byte("v")), stratadb.ErrClosed)

	cfg := testConfig()
	cfg.Compression = "brotli"
	_, err = stratadb.Open(t.TempDir(), cfg)
	assert.ErrorIs(t, err, stratadb.ErrInvalidConfig)
}
