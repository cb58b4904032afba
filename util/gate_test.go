package util

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestGateMaximum(t *testing.T) {
	// run 20 goroutines through a gate that can only hold 5 and track
	// the highest number inside at once
	g := NewGate(5)
	var inside, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Enter()
			n := atomic.AddInt64(&inside, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			atomic.AddInt64(&inside, -1)
			g.Leave()
		}()
	}
	wg.Wait()

	if peak > 5 {
		t.Errorf("Received %d inside the gate, expected at most %d", peak, 5)
	}
}
