// Package policy declares the shared shape of the three page-replacement
// policies named in §4.4: LRU (internal/policy/lru), CLOCK
// (internal/policy/clock) and 2Q (internal/policy/twoq). Each
// implementation is a generic, allocation-owning structure parameterized
// over the cached value type T — it never touches the cache manager's
// CacheObject type directly, so there is no import cycle between
// pkg/cachetree (which owns CacheObject) and this package tree.
//
// © 2025 btreecache authors. MIT License.
package policy

// Handle is an opaque token a policy returns from Insert and expects back
// from Touch/Remove. Callers must not inspect it; it is a *node pointer
// internal to whichever policy produced it.
type Handle any

// Evictor is the interface every policy implementation satisfies. The
// cache manager holds one Evictor[*object[K,V]] selected at
// construction time by the Policy config option.
type Evictor[T any] interface {
	// Insert admits a freshly allocated or loaded value at the policy's
	// "hottest" position and returns a handle for later Touch/Remove.
	Insert(v T) Handle

	// Touch records an access (cache hit) against h, reordering metadata
	// per the policy's rules (move-to-head for LRU, set reference bit for
	// CLOCK, promote-to-hot for 2Q).
	Touch(h Handle)

	// Remove unlinks h from the policy's bookkeeping without invoking the
	// eviction callback. The cache manager does not call it; entries leave
	// the policy through Walk.
	Remove(h Handle)

	// Walk scans candidates in eviction order, calling visit for each one
	// the policy considers a candidate for the manager to try evicting.
	// visit inspects pin count / acquires the wrapper mutex / flushes if
	// dirty and returns (removed, stop): removed tells Walk whether to
	// drop its own bookkeeping for that entry, stop tells Walk to return
	// early (e.g. because capacity pressure has been relieved). Walk
	// never calls visit more than maxSteps times, so an all-pinned cache
	// cannot spin forever.
	Walk(maxSteps int, visit func(v T, h Handle) (removed bool, stop bool))

	// Len reports how many entries the policy currently tracks.
	Len() int
}
