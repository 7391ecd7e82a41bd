package lsm_test

import (
	"context"
	"testing"
	"time"

	"github.com/MikhailWahib/stratadb/internal/lsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeRunTree(t *testing.T, workers int, runs ...*memRun) *lsm.Tree {
	t.Helper()
	tr := newTree(t, &memFactory{}, lsm.Options{
		BufferEntries: 1,
		Levels:        []lsm.LevelSpec{{MaxRuns: 3, MaxRunSize: 1}, {MaxRuns: 3, MaxRunSize: 3}},
		ProbeWorkers:  workers,
	})
	loaded := make([]lsm.Run, len(runs))
	for i, r := range runs {
		loaded[i] = r
	}
	require.NoError(t, tr.Load(0, loaded))
	return tr
}

func TestGet_OnlyOldestRunHasKey(t *testing.T) {
	r0 := sealedRun("r0", "x", "1")
	r1 := sealedRun("r1", "y", "1")
	r2 := sealedRun("r2", "k", "oldest")
	for _, r := range []*memRun{r0, r1, r2} {
		r.delay = 5 * time.Millisecond
	}
	tr := threeRunTree(t, 3, r0, r1, r2)

	v, ok := get(t, tr, "k")
	require.True(t, ok)
	assert.Equal(t, "oldest", v)
	assert.Equal(t, int32(1), r2.gets.Load())
}

func TestGet_RecentHitBeatsFasterOlderHit(t *testing.T) {
	r0 := sealedRun("r0", "k", "new")
	r0.delay = 30 * time.Millisecond
	r1 := sealedRun("r1", "y", "1")
	r2 := sealedRun("r2", "k", "old")
	tr := threeRunTree(t, 3, r0, r1, r2)

	v, ok := get(t, tr, "k")
	require.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestGet_SkipsRunsOlderThanConfirmedHit(t *testing.T) {
	r0 := sealedRun("r0", "k", "new")
	r1 := sealedRun("r1", "k", "older")
	r2 := sealedRun("r2", "k", "oldest")
	// A single worker runs probes in rank order.
	tr := threeRunTree(t, 1, r0, r1, r2)

	v, ok := get(t, tr, "k")
	require.True(t, ok)
	assert.Equal(t, "new", v)
	assert.Equal(t, int32(1), r0.gets.Load())
	assert.Equal(t, int32(0), r1.gets.Load())
	assert.Equal(t, int32(0), r2.gets.Load())
}

func TestGet_BufferIsAuthoritative(t *testing.T) {
	r0 := sealedRun("r0", "k", "run")
	tr := threeRunTree(t, 2, r0)
	put(t, tr, "k", "buffer")

	v, ok := get(t, tr, "k")
	require.True(t, ok)
	assert.Equal(t, "buffer", v)
	assert.Equal(t, int32(0), r0.gets.Load())
}

func TestGet_DegradedRead(t *testing.T) {
	t.Run("failure shadowing the hit", func(t *testing.T) {
		r0 := sealedRun("r0", "k", "lost")
		r0.getErr = errProbe
		r1 := sealedRun("r1", "k", "stale")
		tr := threeRunTree(t, 2, r0, r1)

		v, ok, err := tr.Get(context.Background(), []byte("k"))
		assert.ErrorIs(t, err, lsm.ErrDegradedRead)
		assert.ErrorIs(t, err, errProbe)
		assert.True(t, ok, "best value is still returned")
		assert.Equal(t, "stale", string(v))
	})

	t.Run("failure older than the hit", func(t *testing.T) {
		r0 := sealedRun("r0", "k", "fresh")
		r0.delay = 10 * time.Millisecond
		r1 := sealedRun("r1", "k", "old")
		r1.getErr = errProbe
		tr := threeRunTree(t, 2, r0, r1)

		v, ok, err := tr.Get(context.Background(), []byte("k"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "fresh", string(v))
	})

	t.Run("failure without a hit", func(t *testing.T) {
		r0 := sealedRun("r0", "x", "1")
		r0.getErr = errProbe
		tr := threeRunTree(t, 2, r0)

		_, ok, err := tr.Get(context.Background(), []byte("k"))
		assert.False(t, ok)
		assert.ErrorIs(t, err, lsm.ErrDegradedRead)
	})
}

func TestGet_RunOutlivesMergeWhileProbed(t *testing.T) {
	r0 := sealedRun("r0", "k", "v")
	r0.gate = make(chan struct{})
	r0.entered = make(chan struct{})

	tr := newTree(t, &memFactory{}, lsm.Options{
		BufferEntries: 1,
		Levels:        []lsm.LevelSpec{{MaxRuns: 1, MaxRunSize: 1}, {MaxRuns: 2, MaxRunSize: 2}},
	})
	require.NoError(t, tr.Load(0, []lsm.Run{r0}))

	type result struct {
		v   []byte
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, ok, err := tr.Get(context.Background(), []byte("k"))
		done <- result{v, ok, err}
	}()

	<-r0.entered
	require.NoError(t, tr.MergeDown(0))
	assert.Equal(t, 0, tr.Level(0).Len())
	assert.False(t, r0.destroyed.Load(), "run destroyed under an in-flight probe")

	close(r0.gate)
	res := <-done
	require.NoError(t, res.err)
	assert.True(t, res.ok)
	assert.Equal(t, "v", string(res.v))
	assert.True(t, r0.destroyed.Load(), "last reference released")
}

func TestGet_CancelledContext(t *testing.T) {
	r0 := sealedRun("r0", "k", "v")
	tr := threeRunTree(t, 1, r0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := tr.Get(ctx, []byte("k"))
	// The probe either ran or was never queued.
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, ok)
	} else {
		assert.True(t, ok)
	}
}
