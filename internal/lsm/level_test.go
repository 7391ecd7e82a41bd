package lsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_Remaining(t *testing.T) {
	l := NewLevel(3, 10)
	assert.Equal(t, 3, l.Remaining())
	assert.Equal(t, 3, l.MaxRuns())
	assert.Equal(t, 10, l.MaxRunSize())

	l.pushFront(&handle{})
	l.pushFront(&handle{})
	assert.Equal(t, 1, l.Remaining())
	assert.Equal(t, 2, l.Len())
}

func TestLevel_RemainingPanicsWhenOverCapacity(t *testing.T) {
	l := NewLevel(1, 10)
	l.runs = []*handle{{}, {}}

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrInvariantViolation))
	}()
	l.Remaining()
}

func TestLevel_PushFrontAndRemove(t *testing.T) {
	l := NewLevel(3, 1)
	a, b, c := &handle{}, &handle{}, &handle{}
	l.pushFront(a)
	l.pushFront(b)
	l.pushFront(c)
	assert.Equal(t, []*handle{c, b, a}, l.runs)

	l.remove(b)
	assert.Equal(t, []*handle{c, a}, l.runs)
}

func TestRankHolder_LowestRankWins(t *testing.T) {
	h := newRankHolder()
	assert.True(t, h.shouldProbe(5))

	h.hit(4, []byte("old"))
	h.hit(1, []byte("new"))
	h.hit(3, []byte("middle"))

	assert.True(t, h.shouldProbe(0))
	assert.False(t, h.shouldProbe(1))
	assert.False(t, h.shouldProbe(2))

	v, found, err := h.result()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("new"), v)
}

func TestRankHolder_OnlyShadowingFailuresDegrade(t *testing.T) {
	boom := errors.New("boom")

	h := newRankHolder()
	h.hit(1, []byte("v"))
	h.fail(2, boom)
	_, found, err := h.result()
	assert.True(t, found)
	assert.NoError(t, err, "failure older than the hit cannot change the answer")

	h.fail(0, boom)
	v, found, err := h.result()
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)
	assert.ErrorIs(t, err, ErrDegradedRead)
	assert.ErrorIs(t, err, boom)

	miss := newRankHolder()
	miss.fail(3, boom)
	_, found, err = miss.result()
	assert.False(t, found)
	assert.ErrorIs(t, err, ErrDegradedRead)
}
