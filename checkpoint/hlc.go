package checkpoint

import (
	"sync"
	"time"
)

// hlc is a hybrid-logical-clock source: CAS values it hands out are
// strictly monotonic, and — because every call happens under the
// CheckpointManager's partition write lock alongside the bySeqno
// increment — the CAS assigned to the item with the larger bySeqno is
// always the larger CAS (spec.md §4.1, step 2).
type hlc struct {
	mu   sync.Mutex
	last uint64
}

func newHLC() *hlc { return &hlc{} }

// next returns a value strictly greater than every value previously
// returned by this clock. It combines wall-clock nanoseconds with a
// logical counter so that a burst of calls within the same nanosecond
// still produces distinct, increasing values.
func (h *hlc) next() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := uint64(time.Now().UnixNano())
	if now > h.last {
		h.last = now
	} else {
		h.last++
	}
	return h.last
}
