// Package shard spreads fulfilment work and storage across a configurable
// number of parallel instances per capacity class. Instance selection is a
// pure function of the request ordinal, so the write path and any later
// read path that holds the same ordinal agree on the shard.
package shard

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
)

// A Class is the coarse sizing bucket for an exchange set. It selects how
// many parallel storage/queue shards serve sets of that size.
type Class int

const (
	Small Class = iota
	Medium
	Large
)

func (c Class) String() string {
	switch c {
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Large:
		return "large"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Default size boundaries between the capacity classes, in bytes.
const (
	DefaultSmallLimit  = 50 << 20  // below this: small
	DefaultMediumLimit = 300 << 20 // below this: medium, else large
)

// A Selector picks shard instances. Construct with New; the instance caps
// are validated once at startup, never at call time.
type Selector struct {
	max  [3]int
	last int64 // most recently selected instance, for diagnostics

	// SmallLimit and MediumLimit are the class boundaries used by
	// Classify. Zero means the defaults.
	SmallLimit  int64
	MediumLimit int64
}

// New returns a Selector with the given instance cap per class. A cap of
// zero or less is a configuration error.
func New(small, medium, large int) (*Selector, error) {
	for _, n := range []int{small, medium, large} {
		if n <= 0 {
			return nil, errors.Errorf("shard: instance count %d is not positive", n)
		}
	}
	return &Selector{max: [3]int{small, medium, large}}, nil
}

// MaxInstances returns the configured instance cap for the class.
func (s *Selector) MaxInstances(class Class) int {
	return s.max[class]
}

// Select returns the instance number in [1, MaxInstances(class)] for the
// given request ordinal. The same (class, ordinal) pair always yields the
// same instance.
func (s *Selector) Select(class Class, ordinal int64) int {
	n := int64(s.max[class])
	instance := int(((ordinal%n)+n)%n) + 1
	atomic.StoreInt64(&s.last, int64(instance))
	return instance
}

// Current returns the most recently selected instance number without
// recomputing anything. For diagnostics only.
func (s *Selector) Current() int {
	return int(atomic.LoadInt64(&s.last))
}

// Classify maps an aggregate exchange-set size in bytes to a capacity
// class.
func (s *Selector) Classify(size int64) Class {
	small, medium := s.SmallLimit, s.MediumLimit
	if small <= 0 {
		small = DefaultSmallLimit
	}
	if medium <= 0 {
		medium = DefaultMediumLimit
	}
	switch {
	case size < small:
		return Small
	case size < medium:
		return Medium
	}
	return Large
}
