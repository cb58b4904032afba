package util

// A Gate limits concurrency. Every gate has a maximum number of goroutines
// to allow through at a time. Goroutines enter the gate by calling Enter(),
// and signal that they are done by calling Leave().
type Gate chan struct{}

// NewGate returns a Gate which admits at most n entries at a time.
func NewGate(n int) Gate {
	return Gate(make(chan struct{}, n))
}

// Enter is called at the beginning of the section to be protected by the
// gate, and will block the calling goroutine until fewer than n goroutines
// are inside. It is safe to call this from multiple goroutines.
func (g Gate) Enter() {
	g <- struct{}{}
}

// Leave marks a goroutine outside the critical section. Balance each call
// to Enter with a call to Leave. They do not need to be called from the
// same goroutine.
func (g Gate) Leave() {
	<-g
}
