package lsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/MikhailWahib/stratadb/internal/buffer"
	"github.com/MikhailWahib/stratadb/internal/merge"
	"github.com/MikhailWahib/stratadb/internal/record"
	"github.com/MikhailWahib/stratadb/internal/workerpool"
)

// Options configures a Tree.
type Options struct {
	// BufferEntries is the buffer capacity in entries.
	BufferEntries int
	// Levels sizes every level, shallowest first.
	Levels []LevelSpec
	// BloomBitsPerEntry is passed to every new run.
	BloomBitsPerEntry float64
	// ProbeWorkers bounds concurrent run probes. Zero uses GOMAXPROCS.
	ProbeWorkers int
	// CompactionBytesPerSec throttles merge-down writes. Zero disables it.
	CompactionBytesPerSec int
	Logger                *slog.Logger
	Listener              Listener
}

// taskPool runs probe tasks. *workerpool.Pool implements it.
type taskPool interface {
	Submit(ctx context.Context, task func()) error
	Size() int
	Close()
}

// Tree is a leveled LSM tree. It is safe for concurrent use.
type Tree struct {
	factory RunFactory
	opts    Options
	logger  *slog.Logger

	// bufMu guards buf and closed.
	bufMu  sync.Mutex
	buf    *buffer.Buffer
	closed bool

	// mergeMu serializes structural changes: flushes and merge-downs.
	mergeMu sync.Mutex
	levels  []*Level

	pool    taskPool
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates an empty tree writing runs through factory.
func New(factory RunFactory, opts Options) (*Tree, error) {
	if opts.BufferEntries < 1 {
		return nil, fmt.Errorf("lsm: buffer capacity must be positive, got %d", opts.BufferEntries)
	}
	if len(opts.Levels) == 0 {
		return nil, errors.New("lsm: at least one level is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Listener == nil {
		opts.Listener = nopListener{}
	}

	levels := make([]*Level, len(opts.Levels))
	for i, spec := range opts.Levels {
		if spec.MaxRuns < 1 || spec.MaxRunSize < 1 {
			return nil, fmt.Errorf("lsm: level %d has invalid size %+v", i, spec)
		}
		levels[i] = NewLevel(spec.MaxRuns, spec.MaxRunSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tree{
		factory: factory,
		opts:    opts,
		logger:  opts.Logger,
		buf:     buffer.New(opts.BufferEntries),
		levels:  levels,
		pool:    workerpool.New(opts.ProbeWorkers),
		ctx:     ctx,
		cancel:  cancel,
	}
	if opts.CompactionBytesPerSec > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(opts.CompactionBytesPerSec), opts.CompactionBytesPerSec)
	}
	return t, nil
}

// Load installs already written runs into an empty level, most recent first.
// It is meant for bootstrapping before the tree serves requests.
func (t *Tree) Load(level int, runs []Run) error {
	if level < 0 || level >= len(t.levels) {
		return fmt.Errorf("lsm: level %d out of range", level)
	}
	l := t.levels[level]
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.runs) != 0 {
		return fmt.Errorf("lsm: level %d is not empty", level)
	}
	if len(runs) > l.maxRuns {
		return fmt.Errorf("lsm: level %d holds at most %d runs, got %d", level, l.maxRuns, len(runs))
	}
	for _, r := range runs {
		l.runs = append(l.runs, newHandle(r, t.logger))
	}
	return nil
}

// Depth returns the number of levels.
func (t *Tree) Depth() int { return len(t.levels) }

// Level returns level i.
func (t *Tree) Level(i int) *Level { return t.levels[i] }

// Put inserts or overwrites e.Key.
//
// When the buffer is full it is flushed into level 0, first merging level 0
// down if it has no room. Overwriting a key already in the buffer never needs
// a flush, so it succeeds even when the tree is out of capacity.
func (t *Tree) Put(e record.Entry) error {
	for {
		t.bufMu.Lock()
		if t.closed {
			t.bufMu.Unlock()
			return ErrClosed
		}
		if !t.buf.Full() || t.buf.Contains(e.Key) {
			t.buf.Put(e)
			t.bufMu.Unlock()
			return nil
		}

		t.mergeMu.Lock()
		if t.levels[0].Remaining() > 0 {
			err := t.flushLocked()
			t.mergeMu.Unlock()
			if err == nil {
				t.buf.Put(e)
			}
			t.bufMu.Unlock()
			return err
		}
		t.mergeMu.Unlock()
		t.bufMu.Unlock()

		// Level 0 is full. Compact without holding the buffer so readers
		// and in-place overwrites proceed meanwhile.
		if err := t.MergeDown(0); err != nil {
			return err
		}
	}
}

// Del records a tombstone for key.
func (t *Tree) Del(key []byte) error {
	return t.Put(record.NewTombstone(key))
}

// Flush copies the buffer into a new level 0 run even if it is not full.
// An empty buffer is a no-op.
func (t *Tree) Flush() error {
	for {
		t.bufMu.Lock()
		if t.closed {
			t.bufMu.Unlock()
			return ErrClosed
		}
		if t.buf.Len() == 0 {
			t.bufMu.Unlock()
			return nil
		}

		t.mergeMu.Lock()
		if t.levels[0].Remaining() > 0 {
			err := t.flushLocked()
			t.mergeMu.Unlock()
			t.bufMu.Unlock()
			return err
		}
		t.mergeMu.Unlock()
		t.bufMu.Unlock()

		if err := t.MergeDown(0); err != nil {
			return err
		}
	}
}

// flushLocked writes the buffer into a new run at the front of level 0 and
// drains it. Callers hold bufMu and mergeMu, and level 0 has room.
func (t *Tree) flushLocked() error {
	l0 := t.levels[0]
	entries := t.buf.Entries()

	out, err := t.factory.NewRun(0, max(l0.maxRunSize, len(entries)), t.opts.BloomBitsPerEntry)
	if err != nil {
		return fmt.Errorf("lsm: allocate level 0 run: %w", err)
	}
	for _, e := range entries {
		if err := out.Put(e.Key, e.Value); err != nil {
			t.discard(out)
			return fmt.Errorf("lsm: flush: %w", err)
		}
	}
	if err := out.Close(); err != nil {
		t.discard(out)
		return fmt.Errorf("lsm: flush: %w", err)
	}

	h := newHandle(out, t.logger)
	l0.mu.Lock()
	l0.pushFront(h)
	l0.mu.Unlock()

	if err := t.opts.Listener.Flushed(); err != nil {
		l0.mu.Lock()
		l0.remove(h)
		l0.mu.Unlock()
		h.release()
		return fmt.Errorf("lsm: flush listener: %w", err)
	}

	t.buf.Drain()
	t.logger.Debug("flushed buffer", "run", out.ID(), "entries", len(entries))
	return nil
}

// MergeDown makes room in level i by merging all of its runs into one run
// at the front of level i+1, recursively making room there first. It is a
// no-op when level i has room.
func (t *Tree) MergeDown(i int) error {
	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()
	return t.mergeDown(i)
}

func (t *Tree) mergeDown(i int) error {
	src := t.levels[i]
	if src.Remaining() > 0 {
		return nil
	}
	if i == len(t.levels)-1 {
		t.logger.Warn("capacity exhausted", "level", i, "runs", src.Len())
		return fmt.Errorf("%w: level %d is full", ErrCapacityExhausted, i)
	}

	dst := t.levels[i+1]
	if dst.Remaining() == 0 {
		if err := t.mergeDown(i + 1); err != nil {
			return err
		}
		if dst.Remaining() == 0 {
			panic(fmt.Errorf("%w: level %d still full after merge-down", ErrInvariantViolation, i+1))
		}
	}

	src.mu.RLock()
	inputs := append([]*handle(nil), src.runs...)
	src.mu.RUnlock()

	out, err := t.mergeRuns(inputs, i+1)
	if err != nil {
		return err
	}

	h := newHandle(out, t.logger)
	src.mu.Lock()
	dst.mu.Lock()
	dst.pushFront(h)
	src.runs = nil
	dst.mu.Unlock()
	src.mu.Unlock()

	t.logger.Debug("merged down", "from", i, "to", i+1, "inputs", len(inputs), "run", out.ID(), "entries", out.Len())

	if err := t.opts.Listener.Compacted(); err != nil {
		for _, in := range inputs {
			in.retire(true)
		}
		return fmt.Errorf("lsm: compaction listener: %w", err)
	}
	for _, in := range inputs {
		in.retire(false)
	}
	return nil
}

// mergeRuns writes the k-way merge of inputs, most recent first, into a new
// run at level target. Tombstones are dropped only when target is the last
// level.
func (t *Tree) mergeRuns(inputs []*handle, target int) (Run, error) {
	mc := merge.New()
	total := 0
	for _, in := range inputs {
		it, err := in.run.Iterator()
		if err != nil {
			return nil, fmt.Errorf("lsm: iterate run %s: %w", in.run.ID(), err)
		}
		mc.Add(it, in.run.Len())
		total += in.run.Len()
	}

	capacity := max(t.levels[target].maxRunSize, total)
	out, err := t.factory.NewRun(target, capacity, t.opts.BloomBitsPerEntry)
	if err != nil {
		return nil, fmt.Errorf("lsm: allocate level %d run: %w", target, err)
	}

	last := target == len(t.levels)-1
	for !mc.Done() {
		e, err := mc.Next()
		if err != nil {
			t.discard(out)
			return nil, fmt.Errorf("lsm: merge into level %d: %w", target, err)
		}
		if last && e.IsTombstone() {
			continue
		}
		if err := t.throttle(e.Size()); err != nil {
			t.discard(out)
			return nil, err
		}
		if err := out.Put(e.Key, e.Value); err != nil {
			t.discard(out)
			return nil, fmt.Errorf("lsm: merge into level %d: %w", target, err)
		}
	}

	if err := out.Close(); err != nil {
		t.discard(out)
		return nil, fmt.Errorf("lsm: close level %d run: %w", target, err)
	}
	return out, nil
}

func (t *Tree) throttle(n int) error {
	if t.limiter == nil {
		return nil
	}
	if n > t.limiter.Burst() {
		n = t.limiter.Burst()
	}
	if err := t.limiter.WaitN(t.ctx, n); err != nil {
		return fmt.Errorf("lsm: compaction throttle: %w", err)
	}
	return nil
}

func (t *Tree) discard(r Run) {
	if err := r.Destroy(); err != nil {
		t.logger.Error("discard run", "run", r.ID(), "error", err)
	}
}

// snapshot returns every run in global recency order with a reference held
// on each. Callers release the handles when done.
func (t *Tree) snapshot() []*handle {
	for _, l := range t.levels {
		l.mu.RLock()
	}
	var hs []*handle
	for _, l := range t.levels {
		for _, h := range l.runs {
			h.acquire()
			hs = append(hs, h)
		}
	}
	for i := len(t.levels) - 1; i >= 0; i-- {
		t.levels[i].mu.RUnlock()
	}
	return hs
}

// Layout returns the run IDs of every level, most recent first.
func (t *Tree) Layout() [][]string {
	for _, l := range t.levels {
		l.mu.RLock()
	}
	out := make([][]string, len(t.levels))
	for i, l := range t.levels {
		out[i] = make([]string, 0, len(l.runs))
		for _, h := range l.runs {
			out[i] = append(out[i], h.run.ID())
		}
	}
	for i := len(t.levels) - 1; i >= 0; i-- {
		t.levels[i].mu.RUnlock()
	}
	return out
}

// Stats returns the current shape of the tree.
func (t *Tree) Stats() Stats {
	t.bufMu.Lock()
	s := Stats{BufferEntries: t.buf.Len()}
	t.bufMu.Unlock()

	for _, l := range t.levels {
		s.Levels = append(s.Levels, l.stats())
	}
	return s
}

// BufferEntries returns the buffered entries in key order, tombstones
// included.
func (t *Tree) BufferEntries() []record.Entry {
	t.bufMu.Lock()
	defer t.bufMu.Unlock()
	return t.buf.Entries()
}

// Close stops the tree. Buffered entries are not flushed and runs are
// released without being destroyed. Reads in flight keep the runs they
// hold until they return.
func (t *Tree) Close() error {
	t.bufMu.Lock()
	if t.closed {
		t.bufMu.Unlock()
		return nil
	}
	t.closed = true
	t.bufMu.Unlock()

	t.cancel()
	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()

	t.pool.Close()
	for _, l := range t.levels {
		l.mu.Lock()
		runs := l.runs
		l.runs = nil
		l.mu.Unlock()
		for _, h := range runs {
			h.retire(true)
		}
	}
	return nil
}
