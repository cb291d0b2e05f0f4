// iostat.go samples disk latency around each DirStore.Flush so the
// flusher can back off before the underlying disk falls over
// (SPEC_FULL.md §3 "lufia/iostat for disk latency sampling, informing
// the flusher's backpressure decision").
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package kvstore

import (
	"sync"
	"time"

	"github.com/NVIDIA/kvcore/kvlog"
	"github.com/lufia/iostat"
)

// elevatedWriteTime is the per-Flush wall-clock duration above which
// ShouldThrottle starts reporting true. It is deliberately coarse: this
// is a reference Store, not a production disk scheduler.
const elevatedWriteTime = 50 * time.Millisecond

// ioLatencyMonitor tracks a short rolling window of Flush durations plus
// a best-effort, platform-dependent drive-level sample from
// github.com/lufia/iostat, logged at high verbosity for operators
// correlating slow flushes with host-level disk pressure.
type ioLatencyMonitor struct {
	mu      sync.Mutex
	samples [8]time.Duration
	next    int
	filled  int
	warned  bool
}

func newIOLatencyMonitor() *ioLatencyMonitor {
	return &ioLatencyMonitor{}
}

// startSample begins timing one Flush call; the returned func records
// the elapsed duration when the caller's defer runs.
func (m *ioLatencyMonitor) startSample() func() {
	start := time.Now()
	return func() {
		m.record(time.Since(start))
	}
}

func (m *ioLatencyMonitor) record(d time.Duration) {
	m.mu.Lock()
	m.samples[m.next] = d
	m.next = (m.next + 1) % len(m.samples)
	if m.filled < len(m.samples) {
		m.filled++
	}
	m.mu.Unlock()

	if kvlog.FastV(5) {
		if drives, err := iostat.ReadDriveStats(); err == nil {
			for _, d := range drives {
				kvlog.V(5, "kvstore: drive %s read_count=%d write_count=%d", d.Name, d.ReadCount, d.WriteCount)
			}
		} else if !m.warned {
			m.warned = true
			kvlog.Infof("kvstore: drive-level iostat unavailable on this platform: %v", err)
		}
	}
}

// elevated reports whether the average of the retained samples exceeds
// elevatedWriteTime.
func (m *ioLatencyMonitor) elevated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.filled == 0 {
		return false
	}
	var total time.Duration
	for i := 0; i < m.filled; i++ {
		total += m.samples[i]
	}
	return total/time.Duration(m.filled) > elevatedWriteTime
}
