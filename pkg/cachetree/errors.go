// © 2025 btreecache authors. MIT License.
package cachetree

import "errors"

// Error kinds follow the flat taxonomy in the tree's external contract:
// local errors (KeyAlreadyExists, KeyDoesNotExist) short-circuit a descent
// and release every pin already taken; structural errors propagate to the
// entry point unconditionally since mutations only ever land on a
// write-locked wrapper, so no partial tree state is ever visible.
var (
	ErrKeyAlreadyExists = errors.New("cachetree: key already exists")
	ErrKeyDoesNotExist  = errors.New("cachetree: key does not exist")
	ErrInsertFailed     = errors.New("cachetree: insert precondition violated")
	ErrRemoveFailed     = errors.New("cachetree: remove precondition violated")
	ErrStorageIO        = errors.New("cachetree: storage I/O error")
	ErrSerialization    = errors.New("cachetree: serialization error")
	ErrInternal         = errors.New("cachetree: internal invariant violated")
	ErrConfig           = errors.New("cachetree: invalid configuration")
)

// errCacheOverflow names the transient overflow condition. It is never
// returned to a caller: on overflow the admission path wakes the eviction
// worker through maybeWakeEvictor instead.
var errCacheOverflow = errors.New("cachetree: cache overflow (transient)")
