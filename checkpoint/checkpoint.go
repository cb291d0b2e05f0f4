package checkpoint

import (
	"encoding/binary"

	"github.com/NVIDIA/kvcore/item"
	"github.com/OneOfOne/xxhash"
	cuckoo "github.com/seiflotfy/cuckoofilter"
)

type chkState uint8

const (
	stateOpen chkState = iota
	stateClosed
)

// Checkpoint is a bounded ordered segment of one partition's mutation
// log, spec.md §3. Item 0 is always the `empty` sentinel, item 1 is
// always `checkpoint_start`; a `checkpoint_end` is appended only once
// the checkpoint closes, and only at the tail.
type Checkpoint struct {
	ID        int64
	state     chkState
	items     []*item.Item
	index     map[string]int // key -> position in items (I3)
	filter    *cuckoo.Filter  // probabilistic "definitely absent" fast path
	SnapStart uint64
	SnapEnd   uint64

	startSeqnoSet bool // true once checkpoint_start has taken on a flanking bySeqno
}

func newCheckpoint(id int64, partition uint16, snapStart uint64) *Checkpoint {
	c := &Checkpoint{
		ID:        id,
		state:     stateOpen,
		items:     make([]*item.Item, 0, 64),
		index:     make(map[string]int, 64),
		filter:    cuckoo.NewFilter(1 << 14),
		SnapStart: snapStart,
		SnapEnd:   snapStart,
	}
	c.items = append(c.items, item.NewEmpty(partition))          // I1
	c.items = append(c.items, item.NewCheckpointStart(partition)) // I2
	return c
}

func (c *Checkpoint) isOpen() bool { return c.state == stateOpen }

func (c *Checkpoint) numDataItems() int {
	n := 0
	for _, it := range c.items {
		if it != nil && it.Op.IsDataMutation() {
			n++
		}
	}
	return n
}

// keyDigest hashes a namespaced key with xxhash into a compact 8-byte
// slice used both as the cuckoo filter's input and, via keyString, as
// the authoritative map key (the map remains the source of truth —
// the filter only ever short-circuits the "definitely new" case).
func keyDigest(k item.Key) []byte {
	h := xxhash.New64()
	h.Write([]byte{byte(k.NS)})
	h.Write(k.Bytes)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return buf[:]
}

func keyString(k item.Key) string {
	return string(k.NS) + "\x00" + string(k.Bytes)
}

// lookup returns the position of the surviving item for k in this
// checkpoint's index, or -1 if absent. The cuckoo filter is consulted
// first purely as a fast-reject; a positive filter hit always falls
// through to the definitive map lookup.
func (c *Checkpoint) lookup(k item.Key) int {
	digest := keyDigest(k)
	if !c.filter.Lookup(digest) {
		return -1
	}
	if pos, ok := c.index[keyString(k)]; ok {
		return pos
	}
	return -1
}

func (c *Checkpoint) remember(k item.Key, pos int) {
	c.index[keyString(k)] = pos
	c.filter.InsertUnique(keyDigest(k))
}

// append adds it as a new slot at the tail, updating the index (the
// caller tombstones or keeps any earlier slot for the same key). The
// first data-mutation item ever
// appended back-patches checkpoint_start's BySeqno so the marker
// carries its flanking mutation's sequence number (spec.md §4.1 O2).
func (c *Checkpoint) append(it *item.Item) {
	pos := len(c.items)
	c.items = append(c.items, it)
	if it.Op.IsDataMutation() {
		c.remember(it.Key, pos)
		if it.BySeqno > c.SnapEnd {
			c.SnapEnd = it.BySeqno
		}
		if !c.startSeqnoSet {
			c.items[1].BySeqno = it.BySeqno
			c.startSeqnoSet = true
		}
	}
}

// tombstone erases the surviving item at pos ahead of a permitted
// de-dup: the slot becomes a nil placeholder that every reader
// (NextItem, getItemsForCursor, numDataItems, isLastMutationLocked,
// findResumePointLocked) skips over, rather than a positional overwrite.
// Leaving the slot in place (instead of slicing it out) keeps every
// other key's index position stable; the caller is expected to
// append() the replacement item at the tail immediately afterward, so
// bySeqno order across items[] is preserved (I4, O2).
func (c *Checkpoint) tombstone(pos int) {
	c.items[pos] = nil
}

func (c *Checkpoint) close(partition uint16) {
	if c.state == stateClosed {
		return
	}
	end := item.NewCheckpointEnd(partition)
	end.BySeqno = c.SnapEnd // carries its flanking mutation's bySeqno (O2)
	c.items = append(c.items, end)                              // I2
	c.state = stateClosed
}

func (c *Checkpoint) empty() bool {
	// Only the sentinel + checkpoint_start are present.
	return len(c.items) <= 2
}
