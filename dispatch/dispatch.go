// Package dispatch orchestrates one fulfilment request: for every requested
// product it consults the response cache, fetches misses from the
// file-batch service, writes fresh results back, and hands the aggregated
// job off to a shard queue for asynchronous archive assembly.
package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/navlib/stevedore/product"
	"github.com/navlib/stevedore/queue"
	"github.com/navlib/stevedore/util"
)

// A Mode says which kind of fulfilment run a request belongs to. It is an
// explicit parameter on Dispatch, never process state, so behavior is
// deterministic per call.
type Mode int

const (
	// ModeStandard is an ordinary client-triggered request.
	ModeStandard Mode = iota
	// ModeScheduled is a periodic catch-up run. Scheduled runs skip the
	// "not yet available" products silently instead of reporting them,
	// since the next run will pick them up.
	ModeScheduled
)

func (m Mode) String() string {
	if m == ModeScheduled {
		return "scheduled"
	}
	return "standard"
}

// A ProductRef names one requested product together with the file metadata
// already known from the triggering catalog response.
type ProductRef struct {
	Key      product.Key
	FileSize int64
}

// A Request is one inbound fulfilment request.
type Request struct {
	Products []ProductRef

	BatchID        string
	CallbackURI    string
	CorrelationID  string
	ScsResponseURI string

	// Ordinal is the request counter value sampled when the job was
	// created. It is the stable basis for shard selection, so it is
	// carried on the request rather than read from a live counter.
	Ordinal int64
}

// A Result is the aggregated outcome of one dispatch.
type Result struct {
	// Details holds the resolved batch for every product that was served
	// from cache or fetched upstream.
	Details []*product.BatchDetail

	// NotYetAvailable lists requested products whose files have not been
	// published yet. They are not cached and not part of the job.
	NotYetAvailable []product.Key

	CacheHits   int
	CacheMisses int

	// QueueName is the shard queue the job message was submitted to.
	QueueName string
}

// A ResponseCache is the slice of the response cache the dispatcher needs.
type ResponseCache interface {
	Lookup(ctx context.Context, key product.Key) (*product.BatchDetail, error)
	Store(ctx context.Context, key product.Key, detail *product.BatchDetail, batchID string) error
}

// A BatchSearcher finds the published batch for a product key. It returns
// (nil, nil) when no batch has been published for the key.
type BatchSearcher interface {
	Search(ctx context.Context, key product.Key) (*product.BatchDetail, error)
}

// DefaultMaxFanout bounds the per-request concurrent product lookups so a
// wide request cannot overwhelm the file-batch service.
const DefaultMaxFanout = 4

// DefaultStoreTimeout bounds the detached cache write-back that is allowed
// to finish after the request itself was cancelled.
const DefaultStoreTimeout = 30 * time.Second

// A Dispatcher runs fulfilment requests. All fields must be set before
// first use except MaxFanout and StoreTimeout, which have defaults.
type Dispatcher struct {
	Cache   ResponseCache
	Batches BatchSearcher
	Handoff *queue.Handoff

	MaxFanout    int
	StoreTimeout time.Duration
}

// one per-product outcome flowing back from the fan-out
type outcome struct {
	key       product.Key
	detail    *product.BatchDetail
	size      int64
	cached    bool
	available bool
	err       error
}

// Dispatch resolves every requested product and, on success, enqueues the
// fulfilment job message on the shard selected for the request's ordinal.
// Duplicate product keys are processed once. Per-product work runs
// concurrently, bounded by MaxFanout; a cancelled context stops new work
// while letting a write-back already in flight complete, so the cache is
// never left half written.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, mode Mode) (*Result, error) {
	if req.CorrelationID != "" {
		ctx = util.WithCorrelationID(ctx, req.CorrelationID)
	}

	refs := dedupe(req.Products)
	maxFanout := d.MaxFanout
	if maxFanout <= 0 {
		maxFanout = DefaultMaxFanout
	}

	gate := util.NewGate(maxFanout)
	outcomes := make(chan outcome, len(refs))
	var wg sync.WaitGroup
	launched := 0
	for _, ref := range refs {
		if ctx.Err() != nil {
			// cancelled: issue no further work
			break
		}
		wg.Add(1)
		launched++
		go func(ref ProductRef) {
			defer wg.Done()
			gate.Enter()
			defer gate.Leave()
			outcomes <- d.resolve(ctx, ref)
		}(ref)
	}
	wg.Wait()
	close(outcomes)

	result := new(Result)
	var inflight []product.Key
	var firstErr error
	var totalSize int64
	for o := range outcomes {
		switch {
		case o.err != nil:
			if errors.Is(o.err, context.Canceled) || errors.Is(o.err, context.DeadlineExceeded) {
				inflight = append(inflight, o.key)
				if firstErr == nil {
					firstErr = o.err
				}
				continue
			}
			if firstErr == nil || isCancel(firstErr) {
				firstErr = o.err
			}
		case !o.available:
			result.NotYetAvailable = append(result.NotYetAvailable, o.key)
		default:
			result.Details = append(result.Details, o.detail)
			if o.cached {
				result.CacheHits++
			} else {
				result.CacheMisses++
			}
			totalSize += o.size
		}
	}

	if len(inflight) > 0 {
		log.Printf("dispatch %s: cancelled with %d products in flight: %v",
			req.CorrelationID, len(inflight), inflight)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if ctx.Err() != nil {
		// cancelled before every product was even attempted
		log.Printf("dispatch %s: cancelled after launching %d of %d products",
			req.CorrelationID, launched, len(refs))
		return nil, ctx.Err()
	}

	if mode == ModeScheduled {
		// the next scheduled run retries these; do not report them
		result.NotYetAvailable = nil
	}

	class := d.Handoff.Shards.Classify(totalSize)
	instance := d.Handoff.Shards.Select(class, req.Ordinal)
	result.QueueName = queue.Name(class, instance)
	msg := queue.Message{
		BatchID:        req.BatchID,
		FileSize:       totalSize,
		ScsResponseURI: req.ScsResponseURI,
		CallbackURI:    req.CallbackURI,
		CorrelationID:  req.CorrelationID,
	}
	if err := d.Handoff.Enqueue(ctx, msg, class, req.Ordinal); err != nil {
		return nil, err
	}
	return result, nil
}

// resolve answers one product: cache first, then the file-batch service,
// writing fresh answers back before reporting them so a concurrent
// identical request can observe the population.
func (d *Dispatcher) resolve(ctx context.Context, ref ProductRef) outcome {
	o := outcome{key: ref.Key}
	if err := ctx.Err(); err != nil {
		o.err = err
		return o
	}

	detail, err := d.Cache.Lookup(ctx, ref.Key)
	if err != nil {
		o.err = err
		return o
	}
	if detail != nil {
		o.detail = detail
		o.size = batchSize(detail, ref.FileSize)
		o.cached = true
		o.available = true
		return o
	}

	detail, err = d.Batches.Search(ctx, ref.Key)
	if err != nil {
		o.err = errors.Wrapf(err, "product %s", ref.Key)
		return o
	}
	if detail == nil {
		// file not yet published. not cached, not an error.
		return o
	}

	if ctx.Err() != nil {
		// cancelled while searching: do not start a new cache write
		o.err = ctx.Err()
		return o
	}
	// write back on a detached context so a cancellation arriving now
	// cannot abandon a half-written entry
	storeTimeout := d.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	sctx, cancel := context.WithTimeout(
		util.WithCorrelationID(context.Background(), util.CorrelationID(ctx)),
		storeTimeout)
	defer cancel()
	if err := d.Cache.Store(sctx, ref.Key, detail, detail.BatchID); err != nil {
		o.err = err
		return o
	}

	o.detail = detail
	o.size = batchSize(detail, ref.FileSize)
	o.available = true
	return o
}

// batchSize is the total size of the files in detail, falling back to the
// size the catalog reported for the product when the batch lists none.
func batchSize(detail *product.BatchDetail, fallback int64) int64 {
	var size int64
	for _, f := range detail.Files {
		size += f.FileSize
	}
	if size == 0 {
		return fallback
	}
	return size
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// dedupe drops repeated product keys, keeping first-seen order.
func dedupe(refs []ProductRef) []ProductRef {
	seen := make(map[product.Key]bool, len(refs))
	var result []ProductRef
	for _, ref := range refs {
		if seen[ref.Key] {
			continue
		}
		seen[ref.Key] = true
		result = append(result, ref)
	}
	return result
}
