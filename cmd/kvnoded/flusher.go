/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"time"

	"github.com/NVIDIA/kvcore/kvlog"
	"github.com/NVIDIA/kvcore/kvstore"
)

// flusherTick is how often each partition's persistence cursor is
// drained, matching spec.md §2's "disk flusher" data-flow leg: socket
// -> ... -> items queued into CheckpointManager -> flusher reads via
// persistence cursor -> KVStore writes.
const flusherTick = 100 * time.Millisecond

// runFlusher drains ps's reserved "persistence" cursor on a timer,
// handing batches to store and pruning checkpoints that fall fully
// behind every cursor once they're durable (spec.md §4.1
// RemoveClosedUnrefCheckpoints).
func runFlusher(ctx context.Context, ps *partitionState, store kvstore.Store) {
	ticker := time.NewTicker(flusherTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flushOnce(ps, store)
		}
	}
}

func flushOnce(ps *partitionState, store kvstore.Store) {
	items, rng, err := ps.mgr.GetAllItemsForCursor("persistence")
	if err != nil {
		kvlog.Errorf("flusher: partition %d: drain persistence cursor: %v", ps.partition, err)
		return
	}
	if len(items) == 0 {
		return
	}
	batch := kvstore.Batch{Partition: ps.partition, Items: items, RangeEnd: rng.End}
	if err := store.Flush(batch); err != nil {
		kvlog.Errorf("flusher: partition %d: flush batch ending %d: %v", ps.partition, rng.End, err)
		return
	}
	ps.mgr.SetPersistedSeqno(rng.End)
	if n := ps.mgr.RemoveClosedUnrefCheckpoints(); n > 0 {
		kvlog.V(4, "flusher: partition %d: pruned %d checkpoint(s)", ps.partition, n)
	}
}
