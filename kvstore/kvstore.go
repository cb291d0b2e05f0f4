// Package kvstore is the external disk-flush collaborator spec.md §1
// places out of scope beyond its call contract: the checkpoint
// manager's persistence cursor hands it batches of items to make
// durable, and at startup it reports the last bySeqno each partition
// actually has on disk so the manager can resume its cursor there
// (spec.md §4.1 GLOSSARY "persistence cursor").
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package kvstore

import (
	"github.com/NVIDIA/kvcore/item"
)

// Batch is one pull of items off a partition's persistence cursor, with
// the bySeqno span it covers.
type Batch struct {
	Partition uint16
	Items     []*item.Item
	RangeEnd  uint64 // highest bySeqno in Items; 0 if Items is empty
}

// Store is the flush-batch-of-queued-items contract: Flush must be
// durable before it returns (spec.md's flusher tick assumes a
// successful Flush means the cursor may safely advance past these
// items). Load recovers where each partition's persistence cursor
// should resume after a restart.
type Store interface {
	Flush(b Batch) error
	Load(partition uint16) (lastPersistedSeqno uint64, err error)
}
