package util

import "sync/atomic"

// A Counter hands out monotonically increasing ordinals. The zero value is
// ready to use. Reads and increments are safe from multiple goroutines.
//
// The fulfilment pipeline samples a counter once per job and stores the
// ordinal on the job, so every later shard computation for that job uses
// the same basis.
type Counter struct {
	n int64
}

// Next increments the counter and returns the new value. The first call
// returns 1.
func (c *Counter) Next() int64 {
	return atomic.AddInt64(&c.n, 1)
}

// Value returns the most recently handed out ordinal without advancing the
// counter.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.n)
}
