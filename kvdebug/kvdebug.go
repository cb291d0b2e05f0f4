// Package kvdebug provides cmn/debug-style assertions for the bug-level
// invariants called out in spec: checkpoint list integrity, cursor
// membership, bySeqno monotonicity. These are never used to validate
// client-triggerable conditions — those go through the wire/auth error
// taxonomy instead.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package kvdebug

import (
	"fmt"
	"os"
)

// Enabled gates assertion checks. Off by default so the hot append path
// in checkpoint.queueDirty doesn't pay for it in a production build;
// init flips it on when the KVCORE_DEBUG_ASSERT environment variable is
// set to a non-empty value.
var Enabled = false

func init() {
	if os.Getenv("KVCORE_DEBUG_ASSERT") != "" {
		Enabled = true
	}
}

// Assert panics with the given args if cond is false and assertions are
// enabled. A failed Assert signals a genuine bug, not a client error.
func Assert(cond bool, args ...any) {
	if !Enabled || cond {
		return
	}
	panic(fmt.Sprint(append([]any{"assertion failed: "}, args...)...))
}

func Assertf(cond bool, f string, args ...any) {
	if !Enabled || cond {
		return
	}
	panic(fmt.Sprintf("assertion failed: "+f, args...))
}
