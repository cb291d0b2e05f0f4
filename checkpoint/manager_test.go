package checkpoint

import (
	"sort"
	"sync"

	"github.com/NVIDIA/kvcore/item"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const testPartition = 0

func mkKey(s string) item.Key { return item.Key{NS: item.DefaultCollection, Bytes: []byte(s)} }

func mustQueue(m *Manager, it *item.Item) bool {
	grew, err := m.QueueDirty(it, true, true)
	Expect(err).NotTo(HaveOccurred())
	return grew
}

var _ = Describe("Manager", func() {
	var policy Policy

	BeforeEach(func() {
		policy = Policy{MinItemsPerCheckpoint: 10, MaxCheckpoints: 2, ItemBased: true}
	})

	// S1: single checkpoint basic.
	It("keeps a single checkpoint below the item threshold", func() {
		m := NewManager(testPartition, 1000, policy, nil)
		for i := 0; i < 5; i++ {
			mustQueue(m, item.NewMutation(mkKey("key-"+string(rune('0'+i))), testPartition, 1, nil, 0))
		}

		Expect(m.GetNumCheckpoints()).To(Equal(1))
		Expect(m.GetNumOpenChkItems()).To(Equal(5))

		items, rng, err := m.GetAllItemsForCursor(PersistenceCursorName)
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(6))
		Expect(items[0].Op).To(Equal(item.OpCheckpointStart))
		for i, it := range items[1:] {
			Expect(it.Op).To(Equal(item.OpMutation))
			Expect(it.BySeqno).To(Equal(uint64(1001 + i)))
		}
		Expect(rng).To(Equal(ItemRange{Start: 0, End: 1005}))
	})

	// S2: de-dup within the open checkpoint.
	It("collapses repeated keys into the latest revision", func() {
		m := NewManager(testPartition, 1000, policy, nil)
		k := mkKey("k")

		grew1 := mustQueue(m, item.NewMutation(k, testPartition, 20, []byte("v20"), 0))
		grew2 := mustQueue(m, item.NewMutation(k, testPartition, 21, []byte("v21"), 0))
		grew3 := mustQueue(m, item.NewMutation(mkKey("k2"), testPartition, 0, nil, 0))

		Expect(grew1).To(BeTrue())
		Expect(grew2).To(BeFalse())
		Expect(grew3).To(BeTrue())
		Expect(m.GetNumOpenChkItems()).To(Equal(2))

		items, _, err := m.GetAllItemsForCursor(PersistenceCursorName)
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(3))
		Expect(items[1].Key.Bytes).To(Equal([]byte("k")))
		Expect(items[1].RevSeqno).To(Equal(uint64(21)))
		Expect(items[1].BySeqno).To(Equal(uint64(1002)))
		Expect(items[2].Key.Bytes).To(Equal([]byte("k2")))
		Expect(items[2].BySeqno).To(Equal(uint64(1003)))
	})

	// S3: rotation lands the triggering item in the freshly opened checkpoint.
	It("rotates so the item that crosses the threshold opens the next checkpoint", func() {
		m := NewManager(testPartition, 1000, policy, nil)
		for i := 0; i < 10; i++ {
			mustQueue(m, item.NewMutation(mkKey("key"+string(rune('0'+i))), testPartition, 1, nil, 0))
		}
		Expect(m.GetNumCheckpoints()).To(Equal(1))

		mustQueue(m, item.NewMutation(mkKey("key_epoch"), testPartition, 1, nil, 0))
		Expect(m.GetNumCheckpoints()).To(Equal(2))
		Expect(m.GetNumOpenChkItems()).To(Equal(1))

		for i := 0; i < 10; i++ {
			mustQueue(m, item.NewMutation(mkKey("key2-"+string(rune('0'+i))), testPartition, 1, nil, 0))
		}
		// At max checkpoints: the next item still lands in checkpoint #2.
		before := m.GetOpenCheckpointID()
		mustQueue(m, item.NewMutation(mkKey("key2-overflow"), testPartition, 1, nil, 0))
		Expect(m.GetOpenCheckpointID()).To(Equal(before))
		Expect(m.GetNumCheckpoints()).To(Equal(2))

		// Draining and pruning the oldest checkpoint frees room to rotate again.
		// Removal is gated on persistedSeqno (spec.md §3
		// pCursorPreCheckpointId): only the flusher confirming the drained
		// range as durable makes the checkpoint eligible for eviction.
		_, rng, err := m.GetAllItemsForCursor(PersistenceCursorName)
		Expect(err).NotTo(HaveOccurred())
		m.SetPersistedSeqno(rng.End)
		removed := m.RemoveClosedUnrefCheckpoints()
		Expect(removed).To(BeNumerically(">=", 1))

		openBefore := m.GetOpenCheckpointID()
		checkpointsBefore := m.GetNumCheckpoints()
		mustQueue(m, item.NewMutation(mkKey("key3"), testPartition, 1, nil, 0))
		Expect(m.GetOpenCheckpointID()).NotTo(Equal(openBefore))
		Expect(m.GetNumCheckpoints()).To(Equal(checkpointsBefore + 1))
	})

	// S4: cross-checkpoint de-dup is never attempted.
	It("never deduplicates a key across a checkpoint boundary", func() {
		m := NewManager(testPartition, 1000, policy, nil)
		mustQueue(m, item.NewMutation(mkKey("key1"), testPartition, 1, nil, 0))
		mustQueue(m, item.NewMutation(mkKey("key2"), testPartition, 1, nil, 0))
		Expect(m.CreateNewCheckpoint()).NotTo(Equal(int64(0)))
		mustQueue(m, item.NewMutation(mkKey("key1"), testPartition, 2, nil, 0))
		mustQueue(m, item.NewMutation(mkKey("key2"), testPartition, 2, nil, 0))

		items, _, err := m.GetAllItemsForCursor(PersistenceCursorName)
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(7))
		ops := make([]item.Operation, len(items))
		for i, it := range items {
			ops[i] = it.Op
		}
		Expect(ops).To(Equal([]item.Operation{
			item.OpCheckpointStart, item.OpMutation, item.OpMutation, item.OpCheckpointEnd,
			item.OpCheckpointStart, item.OpMutation, item.OpMutation,
		}))
	})

	// S5: cursor registration across a dedup gap (MB-25056).
	It("resolves a cursor registered mid-run of collapsed duplicates", func() {
		m := NewManager(testPartition, 1000, policy, nil)
		// One initial enqueue plus ten collapsing duplicates: bySeqno is
		// consumed on every call even though only the last survives, so
		// the surviving "key0" item lands at bySeqno 1011 (grounded on
		// engines/ep/tests/module_tests/checkpoint_test.cc's
		// basic_chk_test fixture, which issues 11 total enqueues of the
		// same key here, not the 10 a literal reading of "once then 9
		// duplicates" would suggest).
		mustQueue(m, item.NewMutation(mkKey("key0"), testPartition, 0, nil, 0))
		for i := 0; i < 10; i++ {
			mustQueue(m, item.NewMutation(mkKey("key0"), testPartition, uint64(i+1), nil, 0))
		}
		for i := 1; i <= 9; i++ {
			mustQueue(m, item.NewMutation(mkKey("key"+string(rune('0'+i))), testPartition, 0, nil, 0))
		}

		resolved, backfill, err := m.RegisterCursor("dcp:1", 1005, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(backfill).To(BeFalse())
		Expect(resolved).To(Equal(uint64(1011)))
	})

	// S6: HLC/bySeqno ordering under concurrent writers.
	It("keeps bySeqno and CAS strictly increasing together under concurrency", func() {
		policy.MaxCheckpoints = 1 << 20 // avoid rotation noise for this check
		m := NewManager(testPartition, 0, policy, nil)

		const writers, perWriter = 8, 1000
		var wg sync.WaitGroup
		wg.Add(writers)
		for w := 0; w < writers; w++ {
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					k := mkKey("w")
					_, err := m.QueueDirty(item.NewMutation(k, testPartition, uint64(i), nil, 0), true, true)
					if err != nil {
						panic(err)
					}
				}
			}(w)
		}
		wg.Wait()

		items, _, err := m.GetAllItemsForCursor(PersistenceCursorName)
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(writers*perWriter + 1))

		var bySeqnos, cases []uint64
		for _, it := range items {
			if it.Op != item.OpMutation {
				continue
			}
			bySeqnos = append(bySeqnos, it.BySeqno)
			cases = append(cases, it.Cas)
		}
		Expect(sort.SliceIsSorted(bySeqnos, func(i, j int) bool { return bySeqnos[i] < bySeqnos[j] })).To(BeTrue())
		Expect(sort.SliceIsSorted(cases, func(i, j int) bool { return cases[i] < cases[j] })).To(BeTrue())
	})

	// P1: bySeqno/Cas ordering invariant for sequential same-partition enqueues.
	It("assigns strictly increasing bySeqno and Cas in enqueue order", func() {
		m := NewManager(testPartition, 1000, policy, nil)
		var last *item.Item
		for i := 0; i < 20; i++ {
			it := item.NewMutation(mkKey("p1-"+string(rune('a'+i))), testPartition, 0, nil, 0)
			mustQueue(m, it)
			if last != nil {
				Expect(it.BySeqno).To(BeNumerically(">", last.BySeqno))
				Expect(it.Cas).To(BeNumerically(">", last.Cas))
			}
			last = it
		}
	})

	// P3: de-dup law when no cursor references the overwritten slot.
	It("leaves exactly one surviving item per key absent an intervening cursor or rotation", func() {
		m := NewManager(testPartition, 1000, policy, nil)
		k := mkKey("dedupe-law")
		mustQueue(m, item.NewMutation(k, testPartition, 1, []byte("v1"), 0))
		mustQueue(m, item.NewMutation(k, testPartition, 2, []byte("v2"), 0))

		items, _, err := m.GetAllItemsForCursor(PersistenceCursorName)
		Expect(err).NotTo(HaveOccurred())
		n := 0
		for _, it := range items {
			if it.Key.Equal(k) {
				n++
				Expect(it.Value).To(Equal([]byte("v2")))
			}
		}
		Expect(n).To(Equal(1))
	})

	// P4: rotation law.
	It("rotates exactly when the item threshold and checkpoint budget allow", func() {
		m := NewManager(testPartition, 1000, policy, nil)
		for i := 0; i < policy.MinItemsPerCheckpoint; i++ {
			mustQueue(m, item.NewMutation(mkKey("p4-"+string(rune('a'+i))), testPartition, 0, nil, 0))
		}
		Expect(m.GetNumCheckpoints()).To(Equal(1))

		mustQueue(m, item.NewMutation(mkKey("p4-last"), testPartition, 0, nil, 0))
		Expect(m.GetNumCheckpoints()).To(Equal(2))
		Expect(m.GetNumOpenChkItems()).To(Equal(1))
	})

	// P6: round-trip projection.
	It("round-trips a last-writer-wins projection through the persistence cursor", func() {
		m := NewManager(testPartition, 1000, policy, nil)
		want := map[string][]byte{}
		for i := 0; i < 6; i++ {
			k := "rt-" + string(rune('a'+i%3))
			v := []byte{byte(i)}
			mustQueue(m, item.NewMutation(mkKey(k), testPartition, uint64(i), v, 0))
			want[k] = v
		}

		items, _, err := m.GetAllItemsForCursor(PersistenceCursorName)
		Expect(err).NotTo(HaveOccurred())
		got := map[string][]byte{}
		var lastBySeqno uint64
		for _, it := range items {
			if it.Op == item.OpMutation {
				got[string(it.Key.Bytes)] = it.Value
				Expect(it.BySeqno).To(BeNumerically(">", lastBySeqno))
				lastBySeqno = it.BySeqno
			}
		}
		Expect(got).To(Equal(want))
	})

	// I4/O2: an interleaved de-dup (a, b, a again) must not leave the
	// re-written a's slot positionally ahead of b despite a's larger
	// bySeqno — the old slot is tombstoned, not overwritten in place.
	It("keeps items in bySeqno order when a de-dup interleaves with another key", func() {
		m := NewManager(testPartition, 1000, policy, nil)
		a, b := mkKey("a"), mkKey("b")

		mustQueue(m, item.NewMutation(a, testPartition, 1, []byte("a1"), 0))
		mustQueue(m, item.NewMutation(b, testPartition, 1, []byte("b1"), 0))
		grew := mustQueue(m, item.NewMutation(a, testPartition, 2, []byte("a2"), 0))
		Expect(grew).To(BeFalse())

		items, _, err := m.GetAllItemsForCursor(PersistenceCursorName)
		Expect(err).NotTo(HaveOccurred())

		var lastBySeqno uint64
		var surviving []*item.Item
		for _, it := range items {
			if !it.Op.IsDataMutation() {
				continue
			}
			Expect(it.BySeqno).To(BeNumerically(">", lastBySeqno))
			lastBySeqno = it.BySeqno
			surviving = append(surviving, it)
		}
		Expect(surviving).To(HaveLen(2))
		Expect(surviving[0].Key.Bytes).To(Equal([]byte("b")))
		Expect(surviving[0].Value).To(Equal([]byte("b1")))
		Expect(surviving[1].Key.Bytes).To(Equal([]byte("a")))
		Expect(surviving[1].Value).To(Equal([]byte("a2")))
	})

	// O2: checkpoint_start/checkpoint_end carry their flanking
	// mutation's bySeqno rather than a fixed zero.
	It("stamps checkpoint_start and checkpoint_end with their flanking mutation's bySeqno", func() {
		m := NewManager(testPartition, 1000, policy, nil)
		mustQueue(m, item.NewMutation(mkKey("x1"), testPartition, 1, nil, 0))
		mustQueue(m, item.NewMutation(mkKey("x2"), testPartition, 1, nil, 0))
		id := m.CreateNewCheckpoint()
		Expect(id).NotTo(Equal(int64(0)))

		items, _, err := m.GetItemsForCursor(PersistenceCursorName, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(items[0].Op).To(Equal(item.OpCheckpointStart))
		Expect(items[0].BySeqno).To(Equal(uint64(1001)))
		last := items[len(items)-1]
		Expect(last.Op).To(Equal(item.OpCheckpointEnd))
		Expect(last.BySeqno).To(Equal(uint64(1002)))
	})

	// Replica-side checkpoint id alignment (spec.md §4.1
	// checkAndAddNewCheckpoint).
	It("aligns a replica's open checkpoint id with one the active has announced", func() {
		m := NewManager(testPartition, 1000, policy, nil)
		mustQueue(m, item.NewMutation(mkKey("r1"), testPartition, 1, nil, 0))

		opened, err := m.CheckAndAddNewCheckpoint(5)
		Expect(err).NotTo(HaveOccurred())
		Expect(opened).To(BeTrue())
		Expect(m.GetOpenCheckpointID()).To(Equal(int64(5)))
		Expect(m.GetNumCheckpoints()).To(Equal(2))

		// Not ahead of the current open id: no-op.
		openedAgain, err := m.CheckAndAddNewCheckpoint(5)
		Expect(err).NotTo(HaveOccurred())
		Expect(openedAgain).To(BeFalse())
		Expect(m.GetNumCheckpoints()).To(Equal(2))

		// A later rotation continues past the announced id.
		mustQueue(m, item.NewMutation(mkKey("r2"), testPartition, 1, nil, 0))
		Expect(m.CreateNewCheckpoint()).To(BeNumerically(">", int64(5)))
	})
})
