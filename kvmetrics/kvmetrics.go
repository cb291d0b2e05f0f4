// Package kvmetrics collects the prometheus counters/gauges shared
// across the node: connection counts, worker queue depth, cursor lag,
// and archiver shard latency (SPEC_FULL.md §3 domain stack). The
// per-partition checkpoint metrics live alongside the checkpoint
// package itself (checkpoint.Metrics); this package covers everything
// else so a single node registers one Registry at startup instead of
// scattering MustRegister calls across packages.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package kvmetrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the node-wide metrics surface. Callers register it once
// against a prometheus.Registerer at startup and share the returned
// *Registry across the conn worker pool, the auth manager, kvstore, and
// archive packages.
type Registry struct {
	Connections       prometheus.Gauge
	WorkerQueueDepth  *prometheus.GaugeVec
	CursorLag         *prometheus.GaugeVec
	ArchiverLatency   *prometheus.HistogramVec
	AuthStaleRebuilds prometheus.Counter
}

// NewRegistry builds and registers every kvmetrics collector against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvcore",
			Subsystem: "conn",
			Name:      "connections",
			Help:      "Number of live client connections across all workers.",
		}),
		WorkerQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kvcore",
			Subsystem: "conn",
			Name:      "worker_assigned_connections",
			Help:      "Number of connections currently assigned to each reactor worker.",
		}, []string{"worker"}),
		CursorLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kvcore",
			Subsystem: "checkpoint",
			Name:      "cursor_lag_items",
			Help:      "Items a cursor has yet to drain, per partition and cursor name.",
		}, []string{"partition", "cursor"}),
		ArchiverLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kvcore",
			Subsystem: "archive",
			Name:      "shard_upload_seconds",
			Help:      "Latency of one erasure-coded shard upload to a cold backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		AuthStaleRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvcore",
			Subsystem: "auth",
			Name:      "privilege_context_rebuilds_total",
			Help:      "PrivilegeContext rebuilds triggered by a Stale check.",
		}),
	}
	reg.MustRegister(r.Connections, r.WorkerQueueDepth, r.CursorLag, r.ArchiverLatency, r.AuthStaleRebuilds)
	return r
}

// SetWorkerQueueDepth records how many connections worker id currently owns.
func (r *Registry) SetWorkerQueueDepth(workerID int, n int) {
	r.WorkerQueueDepth.WithLabelValues(workerLabel(workerID)).Set(float64(n))
}

// SetCursorLag records how many items a named cursor on a partition has
// yet to drain.
func (r *Registry) SetCursorLag(partition uint16, cursor string, items int) {
	r.CursorLag.WithLabelValues(partitionLabel(partition), cursor).Set(float64(items))
}

// ObserveArchiverShardLatency records one shard upload's duration in
// seconds against backend.
func (r *Registry) ObserveArchiverShardLatency(backend string, seconds float64) {
	r.ArchiverLatency.WithLabelValues(backend).Observe(seconds)
}

func workerLabel(id int) string {
	const digits = "0123456789"
	if id < 10 {
		return string(digits[id])
	}
	buf := make([]byte, 0, 4)
	for id > 0 {
		buf = append([]byte{digits[id%10]}, buf...)
		id /= 10
	}
	return string(buf)
}

func partitionLabel(partition uint16) string {
	const hextable = "0123456789abcdef"
	buf := [4]byte{hextable[partition>>12&0xf], hextable[partition>>8&0xf], hextable[partition>>4&0xf], hextable[partition&0xf]}
	return string(buf[:])
}
