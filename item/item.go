// Package item defines the immutable mutation-log record shared by the
// checkpoint manager and the wire layer.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package item

import "bytes"

// DocNamespace tags a key so that equality/ordering compares namespace
// first, then raw bytes (spec.md §3, Item.key).
type DocNamespace uint8

const (
	DefaultCollection DocNamespace = iota
	Collections
	System
)

// Key is an opaque byte string tagged with a namespace.
type Key struct {
	NS    DocNamespace
	Bytes []byte
}

// Equal compares namespace first, then bytes.
func (k Key) Equal(o Key) bool {
	return k.NS == o.NS && bytes.Equal(k.Bytes, o.Bytes)
}

// Less orders namespace first, then bytes — used anywhere keys need a
// total order (e.g. stable iteration in tests).
func (k Key) Less(o Key) bool {
	if k.NS != o.NS {
		return k.NS < o.NS
	}
	return bytes.Compare(k.Bytes, o.Bytes) < 0
}

func (k Key) String() string { return string(k.Bytes) }

// Operation is the Item's kind within the checkpoint log.
type Operation uint8

const (
	OpMutation Operation = iota
	OpDeletion
	OpFlush
	OpCheckpointStart
	OpCheckpointEnd
	OpSetVBState
	OpEmpty
)

func (o Operation) String() string {
	switch o {
	case OpMutation:
		return "mutation"
	case OpDeletion:
		return "deletion"
	case OpFlush:
		return "flush"
	case OpCheckpointStart:
		return "checkpoint_start"
	case OpCheckpointEnd:
		return "checkpoint_end"
	case OpSetVBState:
		return "set_vb_state"
	case OpEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// IsMeta reports whether the operation is a meta-item: these never
// dedupe and never count toward numItemsForCursor (spec.md §4.1).
func (o Operation) IsMeta() bool {
	switch o {
	case OpCheckpointStart, OpCheckpointEnd, OpSetVBState, OpEmpty:
		return true
	default:
		return false
	}
}

// IsDataMutation reports whether the operation represents a key's
// surviving value in the log (mutation or deletion) as opposed to a
// meta-item or a flush marker.
func (o Operation) IsDataMutation() bool {
	return o == OpMutation || o == OpDeletion
}

// Item is immutable once enqueued into a checkpoint (spec.md §3).
type Item struct {
	Key         Key
	PartitionID uint16
	Op          Operation
	RevSeqno    uint64
	BySeqno     uint64 // assigned by CheckpointManager at enqueue
	Cas         uint64 // assigned from the HLC source at enqueue
	Value       []byte
	Deleted     bool
	Datatype    uint8
}

// Deleted item flag, and Op == OpDeletion, may both be set; callers
// should prefer checking Op for log-structure decisions and Deleted for
// payload semantics (a mutation that sets an XATTR-only tombstone, say).

func NewMutation(k Key, partition uint16, revSeqno uint64, value []byte, datatype uint8) *Item {
	return &Item{Key: k, PartitionID: partition, Op: OpMutation, RevSeqno: revSeqno, Value: value, Datatype: datatype}
}

func NewDeletion(k Key, partition uint16, revSeqno uint64) *Item {
	return &Item{Key: k, PartitionID: partition, Op: OpDeletion, RevSeqno: revSeqno, Deleted: true}
}

func newMeta(op Operation, partition uint16) *Item {
	return &Item{Op: op, PartitionID: partition}
}

func NewEmpty(partition uint16) *Item            { return newMeta(OpEmpty, partition) }
func NewCheckpointStart(partition uint16) *Item  { return newMeta(OpCheckpointStart, partition) }
func NewCheckpointEnd(partition uint16) *Item    { return newMeta(OpCheckpointEnd, partition) }
func NewSetVBState(partition uint16) *Item       { return newMeta(OpSetVBState, partition) }
func NewFlush(partition uint16) *Item            { return newMeta(OpFlush, partition) }

// Clone returns a shallow copy with its own Value slice header (not a
// deep copy of the bytes) — enough to let a caller safely overwrite
// Item.Value without aliasing hazards across the by-key index.
func (it *Item) Clone() *Item {
	cp := *it
	return &cp
}
