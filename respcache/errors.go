package respcache

import "fmt"

// External error codes quoted to operators and customers when the
// structured store fails ("contact support quoting error code and
// correlation id"). They identify which cache operation failed without
// exposing the storage technology behind it.
const (
	CodeCacheLookup     = "RC001"
	CodeCacheStore      = "RC002"
	CodeCacheInvalidate = "RC003"
)

// A StorageError is a fault of the cache storage itself (connectivity,
// auth, quota). It is fatal for the call that hit it: unlike a stale
// overflow pointer it is never converted into a cache miss. It carries the
// external error code and the request's correlation id so the request
// boundary can render a supportable message.
type StorageError struct {
	Code          string
	CorrelationID string
	Err           error
}

func (e *StorageError) Error() string {
	if e.CorrelationID == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s (correlation %s): %v", e.Code, e.CorrelationID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
