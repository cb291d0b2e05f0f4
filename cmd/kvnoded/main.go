// Command kvnoded is the process entrypoint wiring every package in
// this repo into one running node: it loads config, builds the
// checkpoint managers and bucket engine, starts the binary-protocol
// listener behind a fixed worker pool, runs a background flusher per
// partition, and serves the admin/stats surface — matching the
// teacher's own cmd/<binary>/main.go shape of "parse flags, build
// collaborators, Serve, wait for signal".
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/NVIDIA/kvcore/admin"
	"github.com/NVIDIA/kvcore/auth"
	"github.com/NVIDIA/kvcore/checkpoint"
	"github.com/NVIDIA/kvcore/conn"
	"github.com/NVIDIA/kvcore/kvconfig"
	"github.com/NVIDIA/kvcore/kvlog"
	"github.com/NVIDIA/kvcore/kvmetrics"
	"github.com/NVIDIA/kvcore/kvstore"
	"github.com/NVIDIA/kvcore/sasl"
	"github.com/NVIDIA/kvcore/userdb"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "path to JSON config file (defaults embedded if empty)")
	verbosity := flag.Int("v", 0, "log verbosity")
	flag.Parse()
	kvlog.SetVerbosity(*verbosity)

	cfg, err := kvconfig.Load(*configPath)
	if err != nil {
		kvlog.Errorf("kvnoded: load config: %v", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		kvlog.Errorf("kvnoded: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg kvconfig.Config) error {
	reg := prometheus.NewRegistry()
	metrics := kvmetrics.NewRegistry(reg)
	ckptMetrics := checkpoint.NewMetrics(reg)

	db, err := openUserDB(cfg)
	if err != nil {
		return err
	}

	store, err := kvstore.NewDirStore(dataDirOr(cfg.DataDir, "./kvnoded-data"))
	if err != nil {
		return err
	}

	engine := newBucketEngine(cfg.PartitionCount, checkpoint.Policy{
		MinItemsPerCheckpoint: cfg.Checkpoint.MinItemsPerCheckpoint,
		MaxCheckpoints:        cfg.Checkpoint.MaxCheckpoints,
		ItemBased:             cfg.Checkpoint.ItemBased,
		EnableMerge:           cfg.Checkpoint.EnableMerge,
	}, ckptMetrics)
	resumePartitionsFromStore(engine, store)

	for _, ps := range engine.partitions {
		go runFlusher(ctx, ps, store)
	}

	privManager := auth.NewManager(db)
	passwordDB := sasl.NewStaticPasswordDB()
	mechs := []sasl.Mechanism{sasl.PlainMechanism{}, sasl.ScramSHA256Mechanism{}}

	pool, err := conn.NewWorkerPool(workerCountOr(cfg.WorkerCount), cfg.ConnectionIdleTime)
	if err != nil {
		return err
	}
	pool.Start(ctx)
	defer func() {
		pool.Stop()
		pool.Wait()
	}()

	for i := 0; i < pool.NumWorkers(); i++ {
		metrics.SetWorkerQueueDepth(i, 0)
	}

	opts := conn.Options{
		MaxBodyLen:  cfg.MaxBodyLen,
		PrivManager: privManager,
		SaslMechs:   mechs,
		PasswordDB:  passwordDB,
		Engine:      engine,
	}

	ln, err := conn.NewListener(cfg.ListenAddr, opts, pool)
	if err != nil {
		return err
	}
	kvlog.Infof("kvnoded: serving binary protocol on %s (%d partitions, %d workers)",
		cfg.ListenAddr, cfg.PartitionCount, pool.NumWorkers())

	serveErrs := make(chan error, 2)
	go func() { serveErrs <- ln.Serve() }()

	adminSrv := admin.New(cfg.AdminAddr, []byte(cfg.JWTSigningKey), db, reg)
	go func() { serveErrs <- adminSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		ln.Close()
		adminSrv.Shutdown()
		return nil
	case err := <-serveErrs:
		ln.Close()
		adminSrv.Shutdown()
		return err
	}
}

// openUserDB picks the Database backend per cfg.UserDBPath: a buntdb
// file if one is configured, otherwise an empty Static store (useful
// for a loopback-only/test node with PrivManager effectively a no-op
// until users are provisioned).
func openUserDB(cfg kvconfig.Config) (userdb.Database, error) {
	if cfg.UserDBPath == "" {
		return userdb.NewStatic(map[string]userdb.Record{}), nil
	}
	return userdb.OpenBuntStore(cfg.UserDBPath)
}

// resumePartitionsFromStore asks the Store where each partition's
// persistence cursor should resume after a restart (spec.md §6
// "Persisted state layout... its state is rebuilt from the KVStore on
// startup... reopening a fresh open checkpoint") and re-registers the
// persistence cursor there. A fresh NewManager already starts its
// persistence cursor at the head of a brand-new checkpoint 1, so this
// only matters once store.Load reports nonzero state from a prior run.
func resumePartitionsFromStore(e *bucketEngine, store kvstore.Store) {
	for _, ps := range e.partitions {
		lastSeqno, err := store.Load(ps.partition)
		if err != nil {
			kvlog.Warningf("kvnoded: partition %d: load resume point: %v", ps.partition, err)
			continue
		}
		if lastSeqno == 0 {
			continue
		}
		if _, _, err := ps.mgr.RegisterCursor(checkpoint.PersistenceCursorName, lastSeqno, true); err != nil {
			kvlog.Warningf("kvnoded: partition %d: resume persistence cursor at %d: %v", ps.partition, lastSeqno, err)
		}
	}
}

func workerCountOr(n int) int {
	if n <= 0 {
		return 4
	}
	return n
}

func dataDirOr(dir, fallback string) string {
	if dir == "" {
		return fallback
	}
	return dir
}
