package lsm

import (
	"fmt"
	"slices"
	"sync"
)

// Level is a capacity-tracked sequence of runs. Index 0 is the most recent.
type Level struct {
	mu         sync.RWMutex
	maxRuns    int
	maxRunSize int
	runs       []*handle
}

// NewLevel returns an empty level.
func NewLevel(maxRuns, maxRunSize int) *Level {
	return &Level{maxRuns: maxRuns, maxRunSize: maxRunSize}
}

// MaxRuns returns the run capacity of the level.
func (l *Level) MaxRuns() int { return l.maxRuns }

// MaxRunSize returns the entry capacity of a run in this level.
func (l *Level) MaxRunSize() int { return l.maxRunSize }

// Remaining returns how many more runs the level can hold. It panics if the
// level holds more runs than it may.
func (l *Level) Remaining() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.remaining()
}

func (l *Level) remaining() int {
	if len(l.runs) > l.maxRuns {
		panic(fmt.Errorf("%w: level holds %d runs, max %d", ErrInvariantViolation, len(l.runs), l.maxRuns))
	}
	return l.maxRuns - len(l.runs)
}

// Len returns the number of runs.
func (l *Level) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.runs)
}

// pushFront installs h as the most recent run. Callers hold l.mu.
func (l *Level) pushFront(h *handle) {
	l.runs = slices.Insert(l.runs, 0, h)
}

// remove drops h from the level. Callers hold l.mu.
func (l *Level) remove(h *handle) {
	l.runs = slices.DeleteFunc(l.runs, func(x *handle) bool { return x == h })
}

func (l *Level) stats() LevelStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := LevelStats{Runs: len(l.runs), MaxRuns: l.maxRuns, MaxRunSize: l.maxRunSize}
	for _, h := range l.runs {
		s.Entries += h.run.Len()
	}
	return s
}
