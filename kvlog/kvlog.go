// Package kvlog is a small leveled logger in the style of the teacher's
// cmn/nlog: cheap, allocation-light, and gated by a package-level
// verbosity knob rather than a config object threaded everywhere.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package kvlog

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

var std = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)

// verbosity is a global fast-path verbosity level, mirroring cmn.Rom.FastV.
// Checked without locking on every call site that might otherwise build
// an expensive debug string.
var verbosity int32

func SetVerbosity(v int) { atomic.StoreInt32(&verbosity, int32(v)) }

// FastV reports whether logging at level v is enabled, letting callers
// skip building an argument list when it is not.
func FastV(v int) bool { return atomic.LoadInt32(&verbosity) >= int32(v) }

func Infoln(args ...any)            { std.Output(2, "INFO  "+fmt.Sprintln(args...)) }
func Infof(f string, args ...any)   { std.Output(2, "INFO  "+fmt.Sprintf(f, args...)) }
func Warningln(args ...any)         { std.Output(2, "WARN  "+fmt.Sprintln(args...)) }
func Warningf(f string, args ...any) { std.Output(2, "WARN  "+fmt.Sprintf(f, args...)) }
func Errorln(args ...any)           { std.Output(2, "ERROR "+fmt.Sprintln(args...)) }
func Errorf(f string, args ...any)  { std.Output(2, "ERROR "+fmt.Sprintf(f, args...)) }

// V is a verbose-only logger obtained with FastV, letting call sites do:
//
//	if kvlog.FastV(5) { kvlog.Infof(...) }
//
// without duplicating the guard everywhere a hot path wants to log.
func V(level int, f string, args ...any) {
	if FastV(level) {
		Infof(f, args...)
	}
}
