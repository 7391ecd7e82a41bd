package lsm

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/MikhailWahib/stratadb/internal/merge"
	"github.com/MikhailWahib/stratadb/internal/record"
)

// Scan returns the live entries with keys in [start, end) in ascending key
// order, each at its most recent version. A nil end is unbounded and an end
// not after start yields nothing.
func (t *Tree) Scan(ctx context.Context, start, end []byte) ([]record.Entry, error) {
	if end != nil && bytes.Compare(end, start) <= 0 {
		return nil, nil
	}

	t.bufMu.Lock()
	if t.closed {
		t.bufMu.Unlock()
		return nil, ErrClosed
	}
	// Flushes hold bufMu, so the buffer and the runs form one cut.
	buffered := t.buf.Range(start, end)
	runs := t.snapshot()
	t.bufMu.Unlock()
	defer releaseAll(runs)

	// Fetch every run's slice of the range concurrently, then resolve
	// recency with the merge engine.
	parts := make([][]record.Entry, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.pool.Size())
	for i, h := range runs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entries, err := h.run.Range(start, end)
			if err != nil {
				return fmt.Errorf("lsm: range run %s: %w", h.run.ID(), err)
			}
			parts[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	mc := merge.New()
	mc.Add(merge.NewSliceSource(buffered), len(buffered))
	for _, p := range parts {
		mc.Add(merge.NewSliceSource(p), len(p))
	}

	out := make([]record.Entry, 0, mc.Size())
	for !mc.Done() {
		e, err := mc.Next()
		if err != nil {
			return nil, err
		}
		if e.IsTombstone() {
			continue
		}
		out = append(out, record.Clone(e))
	}
	return out, nil
}

// Range returns the live values for keys in [start, end) in key order.
func (t *Tree) Range(ctx context.Context, start, end []byte) ([][]byte, error) {
	entries, err := t.Scan(ctx, start, end)
	if err != nil {
		return nil, err
	}
	values := make([][]byte, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return values, nil
}
