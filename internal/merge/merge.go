// Package merge implements the k-way merge used by compaction and range reads.
//
// Sources are registered in recency order, most recent first. When several
// sources hold the same key, the entry from the source added first is emitted
// and the others are discarded.
package merge

import (
	"bytes"
	"container/heap"
	"errors"

	"github.com/MikhailWahib/stratadb/internal/record"
)

// ErrExhausted is returned by Next once Done reports true.
var ErrExhausted = errors.New("merge: no more entries")

// Source is a forward iterator over entries in ascending key order.
type Source interface {
	// Next advances to the next entry and reports whether one exists.
	Next() bool
	// Entry returns the current entry.
	Entry() record.Entry
	// Err returns the error that stopped iteration, if any.
	Err() error
}

// Context merges the registered sources into one sorted, duplicate-free stream.
type Context struct {
	sources []Source
	size    int
	h       iteratorHeap
	primed  bool
	err     error
	failed  bool
}

// New creates an empty merge context.
func New() *Context {
	return &Context{}
}

// Add registers one sorted source holding about size entries. Sources must be
// added most recent first.
func (c *Context) Add(src Source, size int) {
	c.sources = append(c.sources, src)
	c.size += size
}

// Size returns the sum of the size hints passed to Add.
func (c *Context) Size() int {
	return c.size
}

// Done reports whether the merge is exhausted.
func (c *Context) Done() bool {
	c.prime()
	if c.err != nil {
		return false
	}
	return c.failed || c.h.Len() == 0
}

// Next returns the next entry in key order.
func (c *Context) Next() (record.Entry, error) {
	c.prime()
	if c.err != nil {
		err := c.err
		c.err = nil
		c.failed = true
		return record.Entry{}, err
	}
	if c.failed || c.h.Len() == 0 {
		return record.Entry{}, ErrExhausted
	}

	item := heap.Pop(&c.h).(*iteratorItem)
	out := item.entry
	c.advance(item)

	// Drop older copies of the same key
	for c.h.Len() > 0 && bytes.Equal(c.h[0].entry.Key, out.Key) {
		dup := heap.Pop(&c.h).(*iteratorItem)
		c.advance(dup)
	}

	return out, nil
}

func (c *Context) prime() {
	if c.primed {
		return
	}
	c.primed = true
	c.h = make(iteratorHeap, 0, len(c.sources))
	for i, src := range c.sources {
		c.advance(&iteratorItem{src: src, priority: i})
	}
}

// advance moves item's source forward and re-queues it if it has more entries.
func (c *Context) advance(item *iteratorItem) {
	if item.src.Next() {
		item.entry = item.src.Entry()
		heap.Push(&c.h, item)
		return
	}
	if err := item.src.Err(); err != nil && c.err == nil {
		c.err = err
	}
}

type iteratorItem struct {
	entry    record.Entry
	src      Source
	priority int // lower = more recent
}

type iteratorHeap []*iteratorItem

func (h iteratorHeap) Len() int { return len(h) }

func (h iteratorHeap) Less(i, j int) bool {
	keyCmp := bytes.Compare(h[i].entry.Key, h[j].entry.Key)
	if keyCmp != 0 {
		return keyCmp < 0
	}
	// When keys match, the more recent source surfaces first
	return h[i].priority < h[j].priority
}

func (h iteratorHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *iteratorHeap) Push(x any) {
	*h = append(*h, x.(*iteratorItem))
}

func (h *iteratorHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
