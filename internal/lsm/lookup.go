package lsm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MikhailWahib/stratadb/internal/record"
)

// rankHolder coordinates the probes of one lookup. Rank is the position of
// a run in global recency order, lower is more recent. Once a hit is
// recorded at some rank, probes of older runs are pointless and skip.
type rankHolder struct {
	mu    sync.Mutex
	best  int
	value []byte
	errs  []probeError
}

type probeError struct {
	rank int
	err  error
}

func newRankHolder() *rankHolder {
	return &rankHolder{best: math.MaxInt}
}

// shouldProbe reports whether rank could still beat the best hit.
func (h *rankHolder) shouldProbe(rank int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return rank < h.best
}

// hit records a value found at rank if it is the most recent so far.
func (h *rankHolder) hit(rank int, value []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rank < h.best {
		h.best = rank
		h.value = value
	}
}

func (h *rankHolder) fail(rank int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, probeError{rank: rank, err: err})
}

// result returns the winning value and the failures that could have
// shadowed it. Failures at ranks older than the hit cannot matter.
func (h *rankHolder) result() ([]byte, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	found := h.best != math.MaxInt
	var errs []error
	for _, pe := range h.errs {
		if pe.rank < h.best {
			errs = append(errs, fmt.Errorf("rank %d: %w", pe.rank, pe.err))
		}
	}
	if len(errs) == 0 {
		return h.value, found, nil
	}
	return h.value, found, fmt.Errorf("%w: %w", ErrDegradedRead, errors.Join(errs...))
}

// Get returns the most recent value of key. A tombstone reads as not found.
//
// Runs are probed concurrently on the tree's worker pool. When some probe
// fails at a rank that could shadow the answer, the best value found is
// still returned together with an error wrapping ErrDegradedRead.
func (t *Tree) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	t.bufMu.Lock()
	if t.closed {
		t.bufMu.Unlock()
		return nil, false, ErrClosed
	}
	v, ok := t.buf.Get(key)
	t.bufMu.Unlock()
	if ok {
		return visible(append([]byte(nil), v...), true, nil)
	}

	runs := t.snapshot()
	defer releaseAll(runs)
	if len(runs) == 0 {
		return nil, false, nil
	}

	holder := newRankHolder()
	var wg sync.WaitGroup
	for rank, h := range runs {
		// Ranks only grow, so once a hit outranks this run it outranks
		// every run left to schedule.
		if !holder.shouldProbe(rank) {
			break
		}
		wg.Add(1)
		err := t.pool.Submit(ctx, func() {
			defer wg.Done()
			t.probe(holder, rank, h, key)
		})
		if err != nil {
			wg.Done()
			holder.fail(rank, err)
		}
	}
	wg.Wait()

	return visible(holder.result())
}

func (t *Tree) probe(holder *rankHolder, rank int, h *handle, key []byte) {
	if !holder.shouldProbe(rank) {
		return
	}
	v, ok, err := h.run.Get(key)
	if err != nil {
		t.logger.Warn("run probe failed", "run", h.run.ID(), "rank", rank, "error", err)
		holder.fail(rank, err)
		return
	}
	if ok {
		holder.hit(rank, v)
	}
}

func visible(v []byte, found bool, err error) ([]byte, bool, error) {
	if !found || record.IsTombstone(v) {
		return nil, false, err
	}
	return v, true, err
}
