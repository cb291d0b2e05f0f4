// dirstore.go is the reference Store adapter: a commit-log directory of
// write-once segment files, one per Flush call (named by partition and
// end seqno), recovered at startup by
// walking the directory rather than trusting an index file that might
// itself be stale (SPEC_FULL.md §3 "godirwalk for startup recovery").
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package kvstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/NVIDIA/kvcore/wire"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
)

// segmentPrefix names a partition's commit-log segment files:
// part-<partition>-<endSeqno>.seg.
const segmentPrefix = "part-"

// DirStore is a Store backed by a directory of msgp-framed segment
// files, one write per Flush call. It is a reference implementation,
// not a production log-structured store — no compaction, no fsync
// batching beyond one File.Sync per segment.
type DirStore struct {
	baseDir string

	mu       sync.Mutex
	lastSeen map[uint16]uint64
	monitor  *ioLatencyMonitor
}

// NewDirStore prepares a DirStore rooted at baseDir, creating it if
// necessary.
func NewDirStore(baseDir string) (*DirStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "kvstore: mkdir base dir")
	}
	return &DirStore{
		baseDir:  baseDir,
		lastSeen: make(map[uint16]uint64),
		monitor:  newIOLatencyMonitor(),
	}, nil
}

// Flush appends b's items as one new segment file for its partition,
// fsyncing before returning so the caller's cursor can safely advance
// past these items once Flush returns nil (spec.md's flusher contract).
func (s *DirStore) Flush(b Batch) error {
	stop := s.monitor.startSample()
	defer stop()

	path := filepath.Join(s.baseDir, segmentName(b.Partition, b.RangeEnd))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrapf(err, "kvstore: create segment %s", path)
	}
	defer f.Close()

	var buf []byte
	for _, it := range b.Items {
		var err error
		buf, err = wire.EncodeItem(buf, it)
		if err != nil {
			return errors.Wrap(err, "kvstore: encode item")
		}
	}
	if _, err := f.Write(buf); err != nil {
		return errors.Wrapf(err, "kvstore: write segment %s", path)
	}
	if err := f.Sync(); err != nil {
		return errors.Wrapf(err, "kvstore: fsync segment %s", path)
	}

	s.mu.Lock()
	if b.RangeEnd > s.lastSeen[b.Partition] {
		s.lastSeen[b.Partition] = b.RangeEnd
	}
	s.mu.Unlock()
	return nil
}

// Load walks baseDir once, parsing every segment filename to find the
// highest bySeqno already on disk for partition — the resume point the
// checkpoint manager's persistence cursor should register at startup
// (spec.md §4.1 RegisterCursor).
func (s *DirStore) Load(partition uint16) (uint64, error) {
	s.mu.Lock()
	if v, ok := s.lastSeen[partition]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	var maxSeqno uint64
	err := godirwalk.Walk(s.baseDir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			part, seqno, ok := parseSegmentName(filepath.Base(osPathname))
			if !ok || part != partition {
				return nil
			}
			if seqno > maxSeqno {
				maxSeqno = seqno
			}
			return nil
		},
	})
	if err != nil {
		return 0, errors.Wrapf(err, "kvstore: walk %s", s.baseDir)
	}

	s.mu.Lock()
	s.lastSeen[partition] = maxSeqno
	s.mu.Unlock()
	return maxSeqno, nil
}

// ShouldThrottle reports whether recent disk latency samples suggest
// the flusher should back off rather than queue more work (spec.md's
// flusher-adjacent backpressure concern, fed by SPEC_FULL.md §3's
// iostat wiring).
func (s *DirStore) ShouldThrottle() bool {
	return s.monitor.elevated()
}

func segmentName(partition uint16, endSeqno uint64) string {
	return fmt.Sprintf("%s%04x-%020d.seg", segmentPrefix, partition, endSeqno)
}

func parseSegmentName(name string) (partition uint16, endSeqno uint64, ok bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, ".seg") {
		return 0, 0, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), ".seg")
	parts := strings.SplitN(body, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	p, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return uint16(p), seq, true
}
