package lsm

import (
	"log/slog"
	"sync/atomic"
)

// handle reference counts a run. The owning level holds one reference and
// every in-flight reader holds one more. The run is disposed of when the
// count drops to zero.
type handle struct {
	run    Run
	refs   atomic.Int32
	keep   atomic.Bool
	logger *slog.Logger
}

func newHandle(r Run, logger *slog.Logger) *handle {
	h := &handle{run: r, logger: logger}
	h.refs.Store(1)
	return h
}

func (h *handle) acquire() { h.refs.Add(1) }

func (h *handle) release() {
	n := h.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic(ErrInvariantViolation)
	}

	if h.keep.Load() {
		if err := h.run.Release(); err != nil {
			h.logger.Error("release run", "run", h.run.ID(), "error", err)
		}
		return
	}
	if err := h.run.Destroy(); err != nil {
		h.logger.Error("destroy run", "run", h.run.ID(), "error", err)
	}
}

// retire drops the level's reference. With keep set the storage outlives
// the handle.
func (h *handle) retire(keep bool) {
	if keep {
		h.keep.Store(true)
	}
	h.release()
}

func releaseAll(hs []*handle) {
	for _, h := range hs {
		h.release()
	}
}
