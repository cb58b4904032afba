// Package store provides a simple, goroutine safe key-value blob interface
// used for the response-cache overflow area and for the scratch space handed
// to the archive assembly workers.
//
// Values are small, opaque byte slices (cache payloads run to tens of
// kilobytes), so the interface moves whole values rather than streams.
// Items are immutable once stored: Put refuses to overwrite an existing
// key. Delete and then Put to replace a value.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the given key is not in the store.
	ErrNotFound = errors.New("key not found")

	// ErrKeyExists indicates an attempt to create a key which already exists.
	ErrKeyExists = errors.New("key already exists")
)

// Store is the basic key-value blob store. Since the FileSystem store uses
// keys as file names, keys should not contain forbidden filesystem
// characters, such as '/'.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put saves the value under key. It returns ErrKeyExists if the key
	// is already present.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes the key. Deleting a key which does not exist is not
	// an error.
	Delete(ctx context.Context, key string) error

	// ListPrefix returns every key beginning with the given prefix.
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
}
