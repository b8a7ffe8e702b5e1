package engine

import "sync/atomic"

// Clock is the monotonic logical clock stamped on every snapshot and edge write.
//
// Seq values give query children their resolution order and let a restarted
// engine continue where the store left off (see NewClockAt and store.MaxSeq).
// Wall-clock time is never used for ordering.
//
// Clock is safe for concurrent use; lanes share one clock.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next value is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number. Each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
