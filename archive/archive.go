// Package archive provides cold, erasure-coded archival of checkpoints
// the manager has already collapsed out of memory: SPEC_FULL.md §3
// supplements spec.md (which never persists collapsed checkpoints
// anywhere but the primary KVStore) with a long-retention path that
// shards a checkpoint's items with Reed-Solomon and spreads the shards
// round-robin across whichever of the teacher's cloud-storage SDKs are
// configured, so that losing any one backend doesn't lose the data.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/NVIDIA/kvcore/item"
	"github.com/NVIDIA/kvcore/kvlog"
	"github.com/NVIDIA/kvcore/kvmetrics"
	"github.com/NVIDIA/kvcore/wire"
	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"
)

// Backend is one cold-storage destination a shard can land on. Each of
// the teacher's cloud SDKs (S3, GCS, Azure blob, HDFS) gets a thin
// adapter implementing this (see s3.go, gcs.go, azure.go, hdfs.go).
type Backend interface {
	Name() string
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Config governs the erasure-coding scheme and which backends shards
// round-robin across.
type Config struct {
	DataShards   int
	ParityShards int
	Backends     []Backend
}

// Manifest records where every shard of one archived checkpoint landed,
// the minimum information Restore needs to reconstruct it.
type Manifest struct {
	Partition    uint16
	CheckpointID int64
	DataShards   int
	ParityShards int
	ShardSize    int
	OrigLen      int
	Locations    []ShardLocation // len == DataShards+ParityShards
}

// ShardLocation is one shard's backend and key within it.
type ShardLocation struct {
	Backend string
	Key     string
}

// Archiver erasure-codes a closed checkpoint's items and spreads the
// resulting shards across Config.Backends.
type Archiver struct {
	cfg     Config
	metrics *kvmetrics.Registry // optional; nil is fine, ObserveArchiverShardLatency just skipped
	enc     reedsolomon.Encoder
}

// NewArchiver validates cfg and builds the Reed-Solomon encoder once.
func NewArchiver(cfg Config, metrics *kvmetrics.Registry) (*Archiver, error) {
	if len(cfg.Backends) == 0 {
		return nil, errors.New("archive: at least one backend required")
	}
	if cfg.DataShards <= 0 || cfg.ParityShards < 0 {
		return nil, errors.New("archive: invalid shard counts")
	}
	enc, err := reedsolomon.New(cfg.DataShards, cfg.ParityShards)
	if err != nil {
		return nil, errors.Wrap(err, "archive: build reed-solomon encoder")
	}
	return &Archiver{cfg: cfg, metrics: metrics, enc: enc}, nil
}

// ArchiveCheckpoint msgp-frames items (wire.EncodeItem, the same framing
// kvstore's DirStore uses for its commit-log segments), erasure-codes
// the result, and uploads each shard to the backend it round-robins to.
// It returns the Manifest a later Restore call needs.
func (a *Archiver) ArchiveCheckpoint(ctx context.Context, partition uint16, checkpointID int64, items []*item.Item) (*Manifest, error) {
	var buf []byte
	for _, it := range items {
		var err error
		buf, err = wire.EncodeItem(buf, it)
		if err != nil {
			return nil, errors.Wrap(err, "archive: encode item")
		}
	}
	origLen := len(buf)

	shards, err := a.enc.Split(buf)
	if err != nil {
		return nil, errors.Wrap(err, "archive: split")
	}
	if err := a.enc.Encode(shards); err != nil {
		return nil, errors.Wrap(err, "archive: encode parity")
	}

	locs := make([]ShardLocation, len(shards))
	for i, shard := range shards {
		backend := a.cfg.Backends[i%len(a.cfg.Backends)]
		key := shardKey(partition, checkpointID, i)
		start := time.Now()
		if err := backend.Put(ctx, key, shard); err != nil {
			return nil, errors.Wrapf(err, "archive: upload shard %d to %s", i, backend.Name())
		}
		if a.metrics != nil {
			a.metrics.ObserveArchiverShardLatency(backend.Name(), time.Since(start).Seconds())
		}
		locs[i] = ShardLocation{Backend: backend.Name(), Key: key}
	}

	kvlog.Infof("archive: partition %d checkpoint %d archived across %d shards (%d data, %d parity)",
		partition, checkpointID, len(shards), a.cfg.DataShards, a.cfg.ParityShards)

	return &Manifest{
		Partition:    partition,
		CheckpointID: checkpointID,
		DataShards:   a.cfg.DataShards,
		ParityShards: a.cfg.ParityShards,
		ShardSize:    len(shards[0]),
		OrigLen:      origLen,
		Locations:    locs,
	}, nil
}

// Restore fetches as many shards as are reachable, reconstructs any
// that are missing (tolerating up to ParityShards backend failures),
// and returns the original framed byte stream for the caller to decode
// back into items with wire.DecodeItem.
func (a *Archiver) Restore(ctx context.Context, m *Manifest) ([]byte, error) {
	byName := make(map[string]Backend, len(a.cfg.Backends))
	for _, b := range a.cfg.Backends {
		byName[b.Name()] = b
	}

	shards := make([][]byte, len(m.Locations))
	missing := 0
	for i, loc := range m.Locations {
		b, ok := byName[loc.Backend]
		if !ok {
			missing++
			continue
		}
		data, err := b.Get(ctx, loc.Key)
		if err != nil {
			kvlog.Warningln(fmt.Sprintf("archive: shard %d (%s/%s) unreachable: %v", i, loc.Backend, loc.Key, err))
			missing++
			continue
		}
		shards[i] = data
	}
	if missing > m.ParityShards {
		return nil, errors.Errorf("archive: %d shards missing, can tolerate only %d", missing, m.ParityShards)
	}
	if missing > 0 {
		if err := a.enc.Reconstruct(shards); err != nil {
			return nil, errors.Wrap(err, "archive: reconstruct")
		}
	}

	var out bytes.Buffer
	out.Grow(m.OrigLen)
	if err := a.enc.Join(&out, shards, m.OrigLen); err != nil {
		return nil, errors.Wrap(err, "archive: join")
	}
	return out.Bytes(), nil
}

func shardKey(partition uint16, checkpointID int64, shard int) string {
	return fmt.Sprintf("vb-%04x/ckpt-%d/shard-%02d.bin", partition, checkpointID, shard)
}
