// Package respcache implements the response cache for per-product
// file-search results. It is a two-tier cache: entries are kept in a
// structured table keyed by (product name, "edition|update"), and entries
// whose serialized form exceeds a size threshold are offloaded to an object
// store with the table row holding only the batch id as a pointer.
//
// The split exists because the structured store has a per-row size ceiling;
// routing large payloads to the object store avoids it while keeping small,
// hot entries readable without a second round trip.
package respcache

import (
	"context"
	"encoding/json"
	"log"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/navlib/stevedore/product"
	"github.com/navlib/stevedore/store"
	"github.com/navlib/stevedore/util"
)

// DefaultMaxInline is the largest serialized response kept inline in the
// structured table. Anything bigger goes to the overflow store.
const DefaultMaxInline = 32 << 10

// A Row is one structured cache entry. Exactly one of {Response non-empty,
// overflow blob exists} holds for a live entry; a row with an empty
// Response and no overflow blob reads as a miss.
type Row struct {
	Product  string // partition key: the product name
	RowKey   string // "{EditionNumber}|{UpdateNumber}"
	BatchID  string
	Response []byte // empty when the payload lives in the overflow store
}

// A Table is the structured tier of the cache. Implementations are expected
// to be safe for concurrent use and to resolve racing Save calls for the
// same key by last-write-wins.
type Table interface {
	// Lookup returns the row for the given key, or (nil, nil) when no row
	// exists. A non-nil error means the structured store itself failed.
	Lookup(ctx context.Context, productName, rowkey string) (*Row, error)

	// Save inserts or overwrites the row for (row.Product, row.RowKey).
	Save(ctx context.Context, row Row) error

	// Delete removes the row for the given key. Deleting a row which does
	// not exist is a no-op, not an error.
	Delete(ctx context.Context, productName, rowkey string) error
}

// Cache is the two-tier response cache.
type Cache struct {
	table    Table
	overflow store.Store
	// MaxInline is the inline size threshold in bytes. Zero means
	// DefaultMaxInline.
	MaxInline int
}

// New creates a Cache over the given structured table and overflow store.
func New(table Table, overflow store.Store) *Cache {
	return &Cache{table: table, overflow: overflow, MaxInline: DefaultMaxInline}
}

func (c *Cache) maxInline() int {
	if c.MaxInline > 0 {
		return c.MaxInline
	}
	return DefaultMaxInline
}

// Lookup returns the cached batch detail for the given key, or (nil, nil)
// on a miss. A row whose payload was offloaded but whose overflow blob has
// gone missing reads as a miss, not an error: the pointer can legitimately
// be stale if the blob was evicted out of band. A failure of the structured
// store itself is fatal for this call and is returned as a *StorageError.
func (c *Cache) Lookup(ctx context.Context, key product.Key) (*product.BatchDetail, error) {
	row, err := c.table.Lookup(ctx, key.ProductName, key.RowKey())
	if err != nil {
		raven.CaptureError(err, map[string]string{"Product": key.String(), "Op": "lookup"})
		return nil, &StorageError{
			Code:          CodeCacheLookup,
			CorrelationID: util.CorrelationID(ctx),
			Err:           errors.Wrapf(err, "cache lookup %s", key),
		}
	}
	if row == nil {
		return nil, nil
	}

	data := row.Response
	if len(data) == 0 {
		data, err = c.overflow.Get(ctx, key.BlobKey())
		if err == store.ErrNotFound {
			// stale overflow pointer: treat as a miss
			return nil, nil
		}
		if err != nil {
			raven.CaptureError(err, map[string]string{"Product": key.String(), "Op": "overflow-read"})
			return nil, &StorageError{
				Code:          CodeCacheLookup,
				CorrelationID: util.CorrelationID(ctx),
				Err:           errors.Wrapf(err, "cache overflow read %s", key),
			}
		}
	}
	if len(data) == 0 {
		// row exists but carries nothing at all; equivalent to a miss
		return nil, nil
	}

	detail := new(product.BatchDetail)
	if err := json.Unmarshal(data, detail); err != nil {
		// unreadable entry. treat as a miss so the caller refetches.
		log.Printf("response cache: bad entry for %s: %s", key, err.Error())
		return nil, nil
	}
	return detail, nil
}

// Store serializes detail and saves it under key, overwriting any prior
// entry. Small payloads go inline in the structured row; larger ones are
// written to the overflow store first and the row keeps only the batch id.
// The overflow write is skipped when an object already exists at the blob
// location, since the content for a given (key, batch) pair is immutable.
// When an overwrite shrinks an entry back to inline, the now-unused
// overflow blob is removed so an entry never holds both forms.
func (c *Cache) Store(ctx context.Context, key product.Key, detail *product.BatchDetail, batchID string) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return errors.Wrapf(err, "cache store %s", key)
	}

	row := Row{
		Product: key.ProductName,
		RowKey:  key.RowKey(),
		BatchID: batchID,
	}
	if len(data) <= c.maxInline() {
		row.Response = data
	} else {
		err = c.overflow.Put(ctx, key.BlobKey(), data)
		if err != nil && err != store.ErrKeyExists {
			raven.CaptureError(err, map[string]string{"Product": key.String(), "Op": "overflow-write"})
			return &StorageError{
				Code:          CodeCacheStore,
				CorrelationID: util.CorrelationID(ctx),
				Err:           errors.Wrapf(err, "cache overflow write %s", key),
			}
		}
	}
	if err := c.table.Save(ctx, row); err != nil {
		raven.CaptureError(err, map[string]string{"Product": key.String(), "Op": "save"})
		return &StorageError{
			Code:          CodeCacheStore,
			CorrelationID: util.CorrelationID(ctx),
			Err:           errors.Wrapf(err, "cache store %s", key),
		}
	}
	if len(row.Response) > 0 {
		// an earlier, larger entry may have left an overflow blob behind.
		// the row now carries the payload inline, so drop the blob; best
		// effort, since Lookup prefers the inline copy either way.
		if err := c.overflow.Delete(ctx, key.BlobKey()); err != nil {
			log.Printf("response cache: overflow delete %s: %s", key, err.Error())
			raven.CaptureError(err, map[string]string{"Product": key.String(), "Op": "overflow-delete"})
		}
	}
	return nil
}

// Invalidate removes the entry for key: the structured row first, and then,
// best effort, the overflow blob. Invalidating a key with no entry is a
// no-op. Once the row is gone a surviving orphan blob is unreachable, so a
// failed blob delete is logged and captured but not surfaced.
func (c *Cache) Invalidate(ctx context.Context, key product.Key) error {
	if err := c.table.Delete(ctx, key.ProductName, key.RowKey()); err != nil {
		raven.CaptureError(err, map[string]string{"Product": key.String(), "Op": "invalidate"})
		return &StorageError{
			Code:          CodeCacheInvalidate,
			CorrelationID: util.CorrelationID(ctx),
			Err:           errors.Wrapf(err, "cache invalidate %s", key),
		}
	}
	if err := c.overflow.Delete(ctx, key.BlobKey()); err != nil {
		log.Printf("response cache: overflow delete %s: %s", key, err.Error())
		raven.CaptureError(err, map[string]string{"Product": key.String(), "Op": "overflow-delete"})
	}
	return nil
}
