package engine

import "sync/atomic"

// Clock hands out program IDs.
//
// IDs are strictly increasing within a run. A resumed run starts after the
// highest ID already in the store so seed file names never collide.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first ID is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose first ID is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next program ID.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last ID handed out, or the start value.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
