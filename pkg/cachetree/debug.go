// debug.go exposes the cache's counters over HTTP, the same "debug
// snapshot endpoint" convention the teacher's own operational tooling
// (cmd/btreecache-inspect) expects to scrape.
//
// © 2025 btreecache authors. MIT License.
package cachetree

import (
	"encoding/json"
	"net/http"
)

// StatsHandler returns an http.HandlerFunc that serves the tree's current
// Stats as JSON. Callers typically mount it at "/debug/btreecache/snapshot".
func (t *Tree[K, V]) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := t.CacheStats()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.Encode(map[string]any{
			"hits_total":            s.Hits,
			"misses_total":          s.Misses,
			"evictions_total":       s.Evictions,
			"dirty_evictions_total": s.DirtyEvictions,
			"resident_objects":      s.Resident,
			"pinned_objects":        s.Pinned,
		})
	}
}
