/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package archive

import (
	"context"
	"io"
	"path"

	"github.com/colinmarc/hdfs/v2"
	"github.com/pkg/errors"
)

// HDFSBackend archives shards into an HDFS directory (go.mod's
// colinmarc/hdfs/v2, a teacher dependency) — the on-prem cold-storage
// option alongside the three cloud backends.
type HDFSBackend struct {
	client  *hdfs.Client
	baseDir string
}

func NewHDFSBackend(client *hdfs.Client, baseDir string) *HDFSBackend {
	return &HDFSBackend{client: client, baseDir: baseDir}
}

func (b *HDFSBackend) Name() string { return "hdfs" }

func (b *HDFSBackend) Put(ctx context.Context, key string, data []byte) error {
	full := path.Join(b.baseDir, key)
	if err := b.client.MkdirAll(path.Dir(full), 0o755); err != nil {
		return errors.Wrapf(err, "archive/hdfs: mkdir for %s", full)
	}
	w, err := b.client.Create(full)
	if err != nil {
		return errors.Wrapf(err, "archive/hdfs: create %s", full)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return errors.Wrapf(err, "archive/hdfs: write %s", full)
	}
	return errors.Wrapf(w.Close(), "archive/hdfs: close %s", full)
}

func (b *HDFSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	full := path.Join(b.baseDir, key)
	r, err := b.client.Open(full)
	if err != nil {
		return nil, errors.Wrapf(err, "archive/hdfs: open %s", full)
	}
	defer r.Close()
	return io.ReadAll(r)
}
