package lsm

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikhailWahib/stratadb/internal/merge"
	"github.com/MikhailWahib/stratadb/internal/record"
)

// inlinePool runs each task inside Submit and counts submissions.
type inlinePool struct {
	submitted []int
	next      int
}

func (p *inlinePool) Submit(_ context.Context, task func()) error {
	p.submitted = append(p.submitted, p.next)
	p.next++
	task()
	return nil
}

func (p *inlinePool) Size() int { return 1 }
func (p *inlinePool) Close() {}

// staticRun holds one key and counts lookups.
type staticRun struct {
	id         string
	key, value []byte
	gets       int
}

func (r *staticRun) ID() string { return r.id }
func (r *staticRun) Len() int { return 1 }
func (r *staticRun) Put(_, _ []byte) error { return nil }
func (r *staticRun) Close() error { return nil }
func (r *staticRun) Release() error { return nil }
func (r *staticRun) Destroy() error { return nil }
func (r *staticRun) Iterator() (merge.Source, error) {
	return merge.NewSliceSource([]record.Entry{{Key: r.key, Value: r.value}}), nil
}

func (r *staticRun) Range(_, _ []byte) ([]record.Entry, error) {
	return []record.Entry{{Key: r.key, Value: r.value}}, nil
}

func (r *staticRun) Get(key []byte) ([]byte, bool, error) {
	r.gets++
	if bytes.Equal(key, r.key) {
		return r.value, true, nil
	}
	return nil, false, nil
}

func TestGet_StopsSchedulingAfterConfirmedHit(t *testing.T) {
	tr, err := New(nil, Options{
		BufferEntries: 1,
		Levels:        []LevelSpec{{MaxRuns: 4, MaxRunSize: 1}, {MaxRuns: 2, MaxRunSize: 4}},
	})
	require.NoError(t, err)
	tr.pool.Close()
	pool := &inlinePool{}
	tr.pool = pool
	defer tr.Close()

	var l0, l1 []Run
	var all []*staticRun
	for i, id := range []string{"a", "b", "c", "d", "e", "f"} {
		r := &staticRun{id: id, key: []byte("k"), value: []byte(id)}
		all = append(all, r)
		if i < 4 {
			l0 = append(l0, r)
		} else {
			l1 = append(l1, r)
		}
	}
	require.NoError(t, tr.Load(0, l0))
	require.NoError(t, tr.Load(1, l1))

	v, ok, err := tr.Get(context.Background(), []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", string(v))

	assert.Equal(t, []int{0}, pool.submitted, "only the most recent run is scheduled")
	for _, r := range all[1:] {
		assert.Zero(t, r.gets, "run %s", r.id)
	}
}

func TestGet_SchedulesUntilHit(t *testing.T) {
	tr, err := New(nil, Options{
		BufferEntries: 1,
		Levels:        []LevelSpec{{MaxRuns: 4, MaxRunSize: 1}},
	})
	require.NoError(t, err)
	tr.pool.Close()
	pool := &inlinePool{}
	tr.pool = pool
	defer tr.Close()

	require.NoError(t, tr.Load(0, []Run{
		&staticRun{id: "a", key: []byte("x"), value: []byte("1")},
		&staticRun{id: "b", key: []byte("y"), value: []byte("1")},
		&staticRun{id: "c", key: []byte("k"), value: []byte("hit")},
		&staticRun{id: "d", key: []byte("k"), value: []byte("older")},
	}))

	v, ok, err := tr.Get(context.Background(), []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hit", string(v))
	assert.Equal(t, []int{0, 1, 2}, pool.submitted)
}
