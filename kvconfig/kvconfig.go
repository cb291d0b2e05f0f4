// Package kvconfig loads the node's JSON configuration file, following
// the teacher's convention (ais/prxs3.go, cmd/cli/cli/object.go) of
// decoding with jsoniter rather than encoding/json.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package kvconfig

import (
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// CheckpointPolicy mirrors the per-partition knobs in spec.md §4.1.
type CheckpointPolicy struct {
	MinItemsPerCheckpoint int  `json:"min_items_per_checkpoint"`
	MaxCheckpoints        int  `json:"max_checkpoints"`
	ItemBased             bool `json:"item_based"`
	EnableMerge           bool `json:"enable_merge"`
}

// TLSConfig is the listener-side TLS material and client-cert policy.
type TLSConfig struct {
	Enabled        bool   `json:"enabled"`
	CertFile       string `json:"cert_file"`
	KeyFile        string `json:"key_file"`
	CAFile         string `json:"ca_file"`
	ClientCertMode string `json:"client_cert_mode"` // Disabled|Enabled|Mandatory
	MinVersion     string `json:"min_version"`       // e.g. "tls1.2"
}

// Config is the top-level node configuration.
type Config struct {
	ListenAddr         string           `json:"listen_addr"`
	AdminAddr          string           `json:"admin_addr"`
	WorkerCount        int              `json:"worker_count"`
	ConnectionIdleTime time.Duration    `json:"connection_idle_time"`
	MaxBodyLen         uint32           `json:"max_body_len"`
	Checkpoint         CheckpointPolicy `json:"checkpoint"`
	TLS                TLSConfig        `json:"tls"`
	UserDBPath         string           `json:"userdb_path"`
	DataDir            string           `json:"data_dir"`
	JWTSigningKey      string           `json:"jwt_signing_key"`
	PartitionCount     uint16           `json:"partition_count"`
}

// Default returns the built-in defaults used when no config file is
// supplied, matching the scenario constants used throughout spec.md §8.
func Default() Config {
	return Config{
		ListenAddr:         ":11210",
		AdminAddr:          ":11280",
		WorkerCount:        4,
		ConnectionIdleTime: 200 * time.Second,
		MaxBodyLen:         20 * 1024 * 1024,
		PartitionCount:     64,
		Checkpoint: CheckpointPolicy{
			MinItemsPerCheckpoint: 500,
			MaxCheckpoints:        2,
			ItemBased:             true,
			EnableMerge:           false,
		},
	}
}

// Load reads and decodes a JSON config file, starting from Default() so
// a partial file only overrides what it sets.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "kvconfig: read %s", path)
	}
	if err := jsonAPI.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "kvconfig: decode %s", path)
	}
	return cfg, nil
}
