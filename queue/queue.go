// Package queue hands completed fulfilment work off to the asynchronous
// archive-assembly workers. It is purely a producer: once a message is
// accepted by the queue this package has no further responsibility for it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/navlib/stevedore/shard"
)

// A Message is the unit handed to a fulfilment queue. Immutable once
// created; the downstream worker consumes it exactly once (at-least-once
// delivery is acceptable because the archive build is idempotent per
// batch id).
type Message struct {
	BatchID        string `json:"BatchId"`
	FileSize       int64  `json:"FileSize"`
	ScsResponseURI string `json:"ScsResponseUri"`
	CallbackURI    string `json:"CallbackUri"`
	CorrelationID  string `json:"CorrelationId"`
}

// A Queue submits serialized messages to a named queue. Implementations do
// no local retry beyond whatever transport retry the underlying client
// already provides; failures always propagate to the caller.
type Queue interface {
	Enqueue(ctx context.Context, queueName string, body []byte) error
}

// Name returns the deterministic queue name for a shard: the name template
// parameterized by capacity class and instance number.
func Name(class shard.Class, instance int) string {
	return fmt.Sprintf("fulfilment-%s-%d", class, instance)
}

// A Handoff serializes fulfilment job messages and enqueues them on the
// shard selected for the job's ordinal.
type Handoff struct {
	Q      Queue
	Shards *shard.Selector
}

// Enqueue sends msg to the queue for the shard selected by (class,
// ordinal). Enqueue failures are fatal for the caller.
func (h *Handoff) Enqueue(ctx context.Context, msg Message, class shard.Class, ordinal int64) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal fulfilment message")
	}
	instance := h.Shards.Select(class, ordinal)
	name := Name(class, instance)
	if err := h.Q.Enqueue(ctx, name, body); err != nil {
		return errors.Wrapf(err, "enqueue to %s", name)
	}
	return nil
}
