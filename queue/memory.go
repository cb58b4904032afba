package queue

import (
	"context"
	"sync"
)

// Memory is an in-memory Queue. It is intended mainly for testing.
type Memory struct {
	m      sync.Mutex
	queues map[string][][]byte

	// Err, when set, is returned from every Enqueue. For testing the
	// failure path.
	Err error
}

var _ Queue = &Memory{}

// NewMemory returns a new, empty memory queue set.
func NewMemory() *Memory {
	return &Memory{queues: make(map[string][][]byte)}
}

// Enqueue appends body to the named queue.
func (mq *Memory) Enqueue(ctx context.Context, queueName string, body []byte) error {
	if mq.Err != nil {
		return mq.Err
	}
	mq.m.Lock()
	b := make([]byte, len(body))
	copy(b, body)
	mq.queues[queueName] = append(mq.queues[queueName], b)
	mq.m.Unlock()
	return nil
}

// Messages returns the bodies enqueued to the named queue, in order.
func (mq *Memory) Messages(queueName string) [][]byte {
	mq.m.Lock()
	defer mq.m.Unlock()
	return mq.queues[queueName]
}

// Names returns every queue name that has received at least one message.
func (mq *Memory) Names() []string {
	mq.m.Lock()
	defer mq.m.Unlock()
	var names []string
	for name := range mq.queues {
		names = append(names, name)
	}
	return names
}
