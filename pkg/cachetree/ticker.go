// © 2025 btreecache authors. MIT License.
package cachetree

import "time"

// workerTick is the cadence at which the eviction worker and the
// LRU-update worker re-check their queues even with no explicit wakeup;
// it bounds how stale the policy's recency ordering and the resident
// count can get under a quiet workload.
const workerTick = 2 * time.Millisecond

type ticker struct {
	t *time.Ticker
	c <-chan time.Time
}

func newTicker() *ticker {
	t := time.NewTicker(workerTick)
	return &ticker{t: t, c: t.C}
}

func (tk *ticker) stop() { tk.t.Stop() }
