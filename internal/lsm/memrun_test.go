package lsm_test

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MikhailWahib/stratadb/internal/lsm"
	"github.com/MikhailWahib/stratadb/internal/merge"
	"github.com/MikhailWahib/stratadb/internal/record"
)

var errProbe = errors.New("injected probe failure")

// memRun is an in-memory lsm.Run with fault and latency injection.
type memRun struct {
	id       string
	level    int
	capacity int

	mu      sync.Mutex
	entries []record.Entry
	sealed  bool

	getErr  error
	delay   time.Duration
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once

	gets      atomic.Int32
	released  atomic.Bool
	destroyed atomic.Bool
}

// sealedRun builds a closed run from alternating key/value strings.
func sealedRun(id string, kv ...string) *memRun {
	r := &memRun{id: id, capacity: len(kv) / 2, sealed: true}
	for i := 0; i < len(kv); i += 2 {
		r.entries = append(r.entries, record.Entry{Key: []byte(kv[i]), Value: []byte(kv[i+1])})
	}
	sort.Slice(r.entries, func(i, j int) bool { return bytes.Compare(r.entries[i].Key, r.entries[j].Key) < 0 })
	return r
}

func (r *memRun) ID() string { return r.id }

func (r *memRun) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *memRun) Put(key, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return errors.New("memrun: sealed")
	}
	if len(r.entries) >= r.capacity {
		return errors.New("memrun: full")
	}
	if n := len(r.entries); n > 0 && bytes.Compare(key, r.entries[n-1].Key) <= 0 {
		return errors.New("memrun: out of order")
	}
	r.entries = append(r.entries, record.Clone(record.Entry{Key: key, Value: value}))
	return nil
}

func (r *memRun) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	return nil
}

func (r *memRun) Get(key []byte) ([]byte, bool, error) {
	r.gets.Add(1)
	if r.entered != nil {
		r.once.Do(func() { close(r.entered) })
	}
	if r.gate != nil {
		<-r.gate
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.getErr != nil {
		return nil, false, r.getErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if bytes.Equal(e.Key, key) {
			return e.Value, true, nil
		}
	}
	return nil, false, nil
}

func (r *memRun) Range(start, end []byte) ([]record.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []record.Entry
	for _, e := range r.entries {
		if record.InRange(e.Key, start, end) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memRun) Iterator() (merge.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return merge.NewSliceSource(append([]record.Entry(nil), r.entries...)), nil
}

func (r *memRun) Release() error {
	r.released.Store(true)
	return nil
}

func (r *memRun) Destroy() error {
	r.destroyed.Store(true)
	return nil
}

func (r *memRun) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = string(e.Key)
	}
	return out
}

func (r *memRun) value(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if string(e.Key) == key {
			return string(e.Value), true
		}
	}
	return "", false
}

// memFactory hands out memRuns and remembers them.
type memFactory struct {
	mu   sync.Mutex
	runs []*memRun
}

func (f *memFactory) NewRun(level, capacity int, _ float64) (lsm.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &memRun{id: fmt.Sprintf("run-%d", len(f.runs)), level: level, capacity: capacity}
	f.runs = append(f.runs, r)
	return r, nil
}

// live returns the undestroyed runs created at level, newest first.
func (f *memFactory) live(level int) []*memRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*memRun
	for i := len(f.runs) - 1; i >= 0; i-- {
		r := f.runs[i]
		if r.level == level && !r.destroyed.Load() {
			out = append(out, r)
		}
	}
	return out
}
