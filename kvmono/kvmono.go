// Package kvmono mirrors the teacher's cmn/mono: a monotonic nanosecond
// clock independent of wall-clock adjustments, used for idle-timeout and
// quiescence bookkeeping in the connection engine.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package kvmono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since process start.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }

// Since returns elapsed nanoseconds since a prior NanoTime() reading.
func Since(t int64) int64 { return NanoTime() - t }

// SinceNano is an alias kept for readability at call sites measuring
// durations against a NanoTime() timestamp.
func SinceNano(t int64) int64 { return Since(t) }
