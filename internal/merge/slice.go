package merge

import "github.com/MikhailWahib/stratadb/internal/record"

// SliceSource iterates an already sorted slice of entries.
type SliceSource struct {
	entries []record.Entry
	pos     int
}

// NewSliceSource wraps entries, which must be sorted by key without duplicates.
func NewSliceSource(entries []record.Entry) *SliceSource {
	return &SliceSource{entries: entries, pos: -1}
}

func (s *SliceSource) Next() bool {
	if s.pos+1 >= len(s.entries) {
		s.pos = len(s.entries)
		return false
	}
	s.pos++
	return true
}

func (s *SliceSource) Entry() record.Entry {
	if s.pos < 0 || s.pos >= len(s.entries) {
		return record.Entry{}
	}
	return s.entries[s.pos]
}

func (s *SliceSource) Err() error { return nil }
