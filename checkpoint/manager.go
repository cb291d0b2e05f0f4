// Package checkpoint implements the per-partition checkpoint log that
// sits between the key/value store and its consumers (disk persistence,
// DCP-style replication streams): a bounded, ordered, key-deduplicating
// mutation log, walked independently by named cursors (spec.md §3, §4.1).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package checkpoint

import (
	"sync"

	"github.com/NVIDIA/kvcore/item"
	"github.com/NVIDIA/kvcore/kvdebug"
	"github.com/NVIDIA/kvcore/kvlog"
)

// Policy governs when the open checkpoint rotates (spec.md §4.1 step 4,
// SPEC_FULL.md §2 CheckpointPolicy).
type Policy struct {
	MinItemsPerCheckpoint int
	MaxCheckpoints        int
	ItemBased             bool
	EnableMerge           bool
}

// ItemRange is the [start, end] bySeqno span a drain covered (End is the
// highest bySeqno drained, inclusive), reported
// back to the caller alongside the drained items so it can construct a
// DCP-style snapshot marker.
type ItemRange struct {
	Start uint64
	End   uint64
}

// Manager owns one partition's checkpoint list plus every cursor reading
// it. All mutating and cursor-advancing operations serialize on mu; the
// spec allows a finer shared/exclusive split for reads that don't cross
// a checkpoint boundary, but a single mutex is simpler to reason about
// and the checkpoint log is not expected to be contended at a spinlock
// granularity (DESIGN.md records this as a deliberate simplification).
type Manager struct {
	mu        sync.Mutex
	partition uint16
	policy    Policy
	clock     *hlc

	checkpoints []*Checkpoint
	cursors     map[string]*Cursor

	nextBySeqno      uint64
	nextCheckpointID int64
	lowWaterMark     uint64 // highest bySeqno ever evicted by pruning
	isReplica        bool

	// pCursorPreCheckpointId: the highest bySeqno the flusher has
	// confirmed durable on disk (spec.md §3). RemoveClosedUnrefCheckpoints
	// may only drop a checkpoint whose tail is covered by this
	// watermark (spec.md §4.1) — named after the field this spec's
	// pCursor (persistence cursor) tracks in the real system, rather
	// than after this field's own name here.
	persistedSeqno uint64

	metrics *Metrics
}

// NewManager constructs a Manager with a single open checkpoint. Its
// SnapStart is 0 regardless of startBySeqno: the first checkpoint of a
// fresh log always advertises a snapshot range beginning at the DCP
// convention of 0, even though item numbering itself starts at
// startBySeqno (original_source engines/ep/tests/module_tests/checkpoint_test.cc,
// CheckpointTest.GetLowPriorityCursorSeqno and friends all assert
// range.start == 0 while lastBySeqno starts at 1000).
func NewManager(partition uint16, startBySeqno uint64, policy Policy, metrics *Metrics) *Manager {
	m := &Manager{
		partition:        partition,
		policy:           policy,
		clock:            newHLC(),
		cursors:          make(map[string]*Cursor, 4),
		nextBySeqno:      startBySeqno,
		nextCheckpointID: 2,
		metrics:          metrics,
	}
	first := newCheckpoint(1, partition, 0)
	m.checkpoints = []*Checkpoint{first}
	m.cursors[PersistenceCursorName] = &Cursor{
		Name:                  PersistenceCursorName,
		Kind:                  CursorPersistence,
		ckptIdx:               0,
		offset:                1, // past the empty sentinel, at checkpoint_start
		mustSendCheckpointEnd: true,
	}
	m.reportCheckpointCount()
	return m
}

// SetReplicaState toggles the "this partition is a DCP replica" flag
// consulted by the dedup gate (spec.md §4.1 step 3, §9 edge case).
func (m *Manager) SetReplicaState(replica bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isReplica = replica
}

func (m *Manager) openCheckpoint() *Checkpoint {
	return m.checkpoints[len(m.checkpoints)-1]
}

// QueueDirty appends it to the open checkpoint, assigning bySeqno/Cas
// when requested; on de-dup the key's previous slot is tombstoned and
// the new item is appended at the tail. It reports whether the queue's
// logical size grew (a fresh key, or a key kept alongside its
// predecessor because dedup was blocked) as opposed to a de-dup that
// replaced the key's previous item (spec.md §4.1 step 1-3).
func (m *Manager) QueueDirty(it *item.Item, genBySeqno, genCas bool) (bool, error) {
	if it == nil {
		return false, wrapInvalid(nil, "nil item")
	}
	if it.PartitionID != m.partition {
		return false, wrapInvalid(nil, "partition mismatch")
	}
	if !it.Op.IsMeta() && len(it.Key.Bytes) == 0 {
		return false, wrapInvalid(nil, "zero-length key")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if genBySeqno {
		m.nextBySeqno++
		it.BySeqno = m.nextBySeqno
	}
	if genCas {
		it.Cas = m.clock.next()
	}

	// Evaluate rotation against the open checkpoint's state *before*
	// inserting this item: once the threshold was already met by a
	// prior call, this item is the one that lands in the freshly
	// opened checkpoint as its first entry (spec.md §4.1 step 4, P4).
	m.maybeRotateLocked()

	grew := m.enqueueLocked(it)
	m.reportQueueDepth()
	return grew, nil
}

func (m *Manager) enqueueLocked(it *item.Item) bool {
	open := m.openCheckpoint()

	if it.Op.IsMeta() {
		// set_vb_state and friends are never deduplicated (spec.md §9).
		open.append(it)
		return true
	}

	pos := open.lookup(it.Key)
	if pos < 0 {
		open.append(it)
		return true
	}

	if !m.dedupAllowedLocked(open, pos) {
		// A cursor sits exactly on the old slot, or this partition is a
		// replica not configured to merge: keep both, don't collapse.
		open.append(it)
		open.remember(it.Key, len(open.items)-1)
		return true
	}

	// Permitted de-dup: erase the old slot rather than overwrite it in
	// place, and append the replacement at the tail. Overwriting pos
	// in place would leave the new item's (larger) bySeqno sitting
	// ahead of items appended after the original write, violating I4
	// and O2's bySeqno ordering. Tombstoning + appending keeps items[]
	// monotone regardless of how far back the deduped key's old slot
	// was (spec.md §4.1 step 3 "update index to the new slot").
	open.tombstone(pos)
	open.append(it)
	return false
}

func (m *Manager) dedupAllowedLocked(open *Checkpoint, pos int) bool {
	if m.isReplica && !m.policy.EnableMerge {
		return false
	}
	lastIdx := len(m.checkpoints) - 1
	for _, cu := range m.cursors {
		if cu.ckptIdx == lastIdx && cu.offset == pos {
			return false
		}
	}
	return true
}

// maybeRotateLocked closes the open checkpoint and opens a new one once
// the item-based threshold is met, provided doing so would not exceed
// MaxCheckpoints (spec.md §4.1 step 4).
func (m *Manager) maybeRotateLocked() {
	if !m.policy.ItemBased {
		return
	}
	open := m.openCheckpoint()
	if open.numDataItems() < m.policy.MinItemsPerCheckpoint {
		return
	}
	if len(m.checkpoints) >= m.policy.MaxCheckpoints {
		return
	}
	m.rotateLocked()
}

func (m *Manager) rotateLocked() {
	open := m.openCheckpoint()
	open.close(m.partition)
	next := newCheckpoint(m.nextCheckpointID, m.partition, open.SnapEnd)
	m.nextCheckpointID++
	m.checkpoints = append(m.checkpoints, next)
	m.reportCheckpointCount()
}

// CreateNewCheckpoint forces a rotation unless the open checkpoint is
// still empty, returning the (possibly unchanged) open checkpoint's ID.
func (m *Manager) CreateNewCheckpoint() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openCheckpoint().empty() {
		return m.openCheckpoint().ID
	}
	m.rotateLocked()
	return m.openCheckpoint().ID
}

// CheckOpenCheckpoint re-evaluates the item-count rotation policy
// against the current open checkpoint; callers (e.g. a periodic
// flusher tick) use this instead of waiting for the next QueueDirty to
// trigger it.
func (m *Manager) CheckOpenCheckpoint() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.openCheckpoint().ID
	m.maybeRotateLocked()
	return m.openCheckpoint().ID != before
}

// CheckAndAddNewCheckpoint implements the replica-side special path
// (spec.md §4.1): if the active vBucket has announced a checkpointId
// this replica has not yet opened, close the current open checkpoint
// and open a new one stamped with that id, so checkpoint ids stay
// aligned across peers for DCP. It is a no-op (returns false) if id is
// not ahead of the currently open checkpoint's id.
func (m *Manager) CheckAndAddNewCheckpoint(id int64) (opened bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := m.openCheckpoint()
	if id <= open.ID {
		return false, nil
	}
	open.close(m.partition)
	next := newCheckpoint(id, m.partition, open.SnapEnd)
	m.checkpoints = append(m.checkpoints, next)
	if id >= m.nextCheckpointID {
		m.nextCheckpointID = id + 1
	}
	m.reportCheckpointCount()
	return true, nil
}

// RegisterCursor places a new (or re-registered) cursor at the earliest
// item whose bySeqno exceeds startSeqno, rounded back to the start of
// the checkpoint containing it — so a fresh DCP stream resuming mid-log
// still gets a checkpoint_start to anchor its first snapshot marker.
// backfillRequired reports whether startSeqno already fell behind data
// this manager has since evicted.
func (m *Manager) RegisterCursor(name string, startSeqno uint64, mustSendCheckpointEnd bool) (resolvedSeqno uint64, backfillRequired bool, err error) {
	if name == "" {
		return 0, false, wrapInvalid(nil, "empty cursor name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	backfillRequired = startSeqno < m.lowWaterMark

	ckptIdx, offset, resolved, caughtUp := m.findResumePointLocked(startSeqno)
	if caughtUp {
		resolved = m.nextBySeqno
	}

	kind := CursorReplication
	if name == PersistenceCursorName {
		kind = CursorPersistence
	}
	m.cursors[name] = &Cursor{
		Name:                  name,
		Kind:                  kind,
		ckptIdx:               ckptIdx,
		offset:                offset,
		mustSendCheckpointEnd: mustSendCheckpointEnd,
	}
	return resolved, backfillRequired, nil
}

// findResumePointLocked scans forward for the first surviving data item
// with bySeqno > startSeqno. When found it returns the offset of that
// item's checkpoint_start (offset 1), so the resumed cursor re-walks the
// whole checkpoint from its anchor. When nothing qualifies (the cursor
// is fully caught up), it positions at the tail of the open checkpoint.
func (m *Manager) findResumePointLocked(startSeqno uint64) (ckptIdx, offset int, resolvedSeqno uint64, caughtUp bool) {
	for ci, ck := range m.checkpoints {
		for pi := 2; pi < len(ck.items); pi++ {
			it := ck.items[pi]
			if it == nil {
				continue // tombstoned by a later de-dup
			}
			if it.Op.IsDataMutation() && it.BySeqno > startSeqno {
				return ci, 1, it.BySeqno, false
			}
		}
	}
	last := len(m.checkpoints) - 1
	return last, len(m.checkpoints[last].items), 0, true
}

// RemoveCursor drops name; it is a no-op error for an unknown cursor
// other than reporting ErrNoSuchCursor.
func (m *Manager) RemoveCursor(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cursors[name]; !ok {
		return wrapInvalid(ErrNoSuchCursor, name)
	}
	delete(m.cursors, name)
	return nil
}

// NextItem returns the next item for cursorName, advancing it across
// checkpoint boundaries as needed and skipping slots a de-dup has
// tombstoned. ok is false once the cursor has caught up to the tail of
// the open checkpoint.
func (m *Manager) NextItem(cursorName string) (it *item.Item, ok bool, isLastMutation bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cu, exists := m.cursors[cursorName]
	if !exists {
		return nil, false, false, wrapInvalid(ErrNoSuchCursor, cursorName)
	}

	for {
		ck := m.checkpoints[cu.ckptIdx]
		if cu.offset >= len(ck.items) {
			if cu.ckptIdx+1 >= len(m.checkpoints) {
				return nil, false, false, nil
			}
			cu.ckptIdx++
			cu.offset = 1 // skip the new checkpoint's empty sentinel
			continue
		}
		candidate := ck.items[cu.offset]
		cu.offset++
		if candidate == nil {
			continue // tombstoned by a later de-dup
		}
		return candidate, true, m.isLastMutationLocked(cu), nil
	}
}

// isLastMutationLocked reports whether no further data-mutation item
// remains in the cursor's current checkpoint ahead of its position.
func (m *Manager) isLastMutationLocked(cu *Cursor) bool {
	ck := m.checkpoints[cu.ckptIdx]
	for i := cu.offset; i < len(ck.items); i++ {
		if ck.items[i] != nil && ck.items[i].Op.IsDataMutation() {
			return false
		}
	}
	return true
}

// GetAllItemsForCursor drains cursorName all the way to the tail of the
// open checkpoint (or the last checkpoint it has reached), returning
// every item walked (including checkpoint_start/checkpoint_end markers)
// and the inclusive [start, end] bySeqno range the drain covered.
func (m *Manager) GetAllItemsForCursor(cursorName string) ([]*item.Item, ItemRange, error) {
	return m.getItemsForCursor(cursorName, -1)
}

// GetItemsForCursor is like GetAllItemsForCursor but stops once it has
// fully drained up to limit closed checkpoints, leaving the cursor
// positioned at the start of the next one.
func (m *Manager) GetItemsForCursor(cursorName string, limit int) ([]*item.Item, ItemRange, error) {
	return m.getItemsForCursor(cursorName, limit)
}

func (m *Manager) getItemsForCursor(cursorName string, limit int) ([]*item.Item, ItemRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cu, exists := m.cursors[cursorName]
	if !exists {
		return nil, ItemRange{}, wrapInvalid(ErrNoSuchCursor, cursorName)
	}

	startSeqno := m.checkpoints[cu.ckptIdx].SnapStart
	endSeqno := startSeqno
	var out []*item.Item
	closedConsumed := 0

	for {
		ck := m.checkpoints[cu.ckptIdx]
		if cu.offset >= len(ck.items) {
			if cu.ckptIdx+1 >= len(m.checkpoints) {
				break
			}
			if ck.state == stateClosed {
				closedConsumed++
				if limit >= 0 && closedConsumed >= limit {
					cu.ckptIdx++
					cu.offset = 1 // skip the next checkpoint's empty sentinel
					break
				}
			}
			cu.ckptIdx++
			cu.offset = 1 // skip the next checkpoint's empty sentinel
			continue
		}
		it := ck.items[cu.offset]
		cu.offset++
		if it == nil {
			continue // tombstoned by a later de-dup
		}
		out = append(out, it)
		if it.BySeqno > endSeqno {
			endSeqno = it.BySeqno
		}
	}

	return out, ItemRange{Start: startSeqno, End: endSeqno}, nil
}

// GetNumItemsForCursor counts the data-mutation items still ahead of
// cursorName, ignoring meta items, without consuming them.
func (m *Manager) GetNumItemsForCursor(cursorName string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cu, exists := m.cursors[cursorName]
	if !exists {
		return 0, wrapInvalid(ErrNoSuchCursor, cursorName)
	}

	n := 0
	for ci := cu.ckptIdx; ci < len(m.checkpoints); ci++ {
		ck := m.checkpoints[ci]
		start := 0
		if ci == cu.ckptIdx {
			start = cu.offset
		}
		for i := start; i < len(ck.items); i++ {
			if ck.items[i] != nil && ck.items[i].Op.IsDataMutation() {
				n++
			}
		}
	}
	return n, nil
}

// GetCheckpointIDForCursor reports the ID of the checkpoint cursorName
// currently sits in.
func (m *Manager) GetCheckpointIDForCursor(cursorName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cu, exists := m.cursors[cursorName]
	if !exists {
		return 0, wrapInvalid(ErrNoSuchCursor, cursorName)
	}
	return m.checkpoints[cu.ckptIdx].ID, nil
}

// GetOpenCheckpointID returns the ID of the currently open checkpoint.
func (m *Manager) GetOpenCheckpointID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCheckpoint().ID
}

// GetNumCheckpoints reports how many checkpoints (open + closed) this
// partition currently retains.
func (m *Manager) GetNumCheckpoints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.checkpoints)
}

// GetNumOpenChkItems reports the number of data-mutation items in the
// currently open checkpoint.
func (m *Manager) GetNumOpenChkItems() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCheckpoint().numDataItems()
}

// SetPersistedSeqno records the highest bySeqno the flusher has
// confirmed durable on disk (spec.md §3 pCursorPreCheckpointId). It
// never moves backward — a stale, out-of-order report from the caller
// can't un-persist data. RemoveClosedUnrefCheckpoints gates eviction on
// this watermark so only checkpoints known fully flushed are dropped,
// regardless of what order callers happen to invoke it in.
func (m *Manager) SetPersistedSeqno(seqno uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seqno > m.persistedSeqno {
		m.persistedSeqno = seqno
	}
}

// RemoveClosedUnrefCheckpoints evicts from the front every closed
// checkpoint no cursor still references AND whose tail bySeqno is
// covered by persistedSeqno, bumping lowWaterMark so RegisterCursor can
// later tell a caller it fell behind evicted data. It does not itself
// rotate the open checkpoint — eviction only frees room under the
// checkpoint budget; the next QueueDirty (or an explicit
// CreateNewCheckpoint/CheckOpenCheckpoint) is what acts on that room,
// per the rotation law (spec.md §9 P4).
func (m *Manager) RemoveClosedUnrefCheckpoints() (removed int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	minRef := len(m.checkpoints) - 1
	for _, cu := range m.cursors {
		if cu.ckptIdx < minRef {
			minRef = cu.ckptIdx
		}
	}

	for len(m.checkpoints) > 1 && 0 < minRef && m.checkpoints[0].state == stateClosed &&
		m.checkpoints[0].SnapEnd <= m.persistedSeqno {
		evicted := m.checkpoints[0]
		m.checkpoints = m.checkpoints[1:]
		for _, cu := range m.cursors {
			cu.ckptIdx--
		}
		minRef--
		if evicted.SnapEnd > m.lowWaterMark {
			m.lowWaterMark = evicted.SnapEnd
		}
		removed++
	}
	m.reportCheckpointCount()
	kvdebug.Assert(len(m.checkpoints) >= 1, "checkpoint list must never go empty")
	return
}

func (m *Manager) reportCheckpointCount() {
	if m.metrics == nil {
		return
	}
	m.metrics.setCheckpoints(m.partition, float64(len(m.checkpoints)))
}

func (m *Manager) reportQueueDepth() {
	if m.metrics == nil {
		return
	}
	m.metrics.setOpenItems(m.partition, float64(m.openCheckpoint().numDataItems()))
}

// TraceEnqueue emits a V(2) trace line for the enqueue path; split out
// so QueueDirty's hot path stays allocation-free when verbosity is low.
func (m *Manager) TraceEnqueue(it *item.Item, grew bool) {
	kvlog.V(2, "checkpoint: partition=%d key=%q op=%s bySeqno=%d grew=%t",
		m.partition, it.Key.String(), it.Op, it.BySeqno, grew)
}
