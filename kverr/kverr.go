// Package kverr is the shared error-kind taxonomy (spec.md §7): every
// component-level error wraps one of these sentinels with
// github.com/pkg/errors so callers can classify a failure with
// errors.Is (kverr.Is) without each package inventing its own kinds.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package kverr

import "github.com/pkg/errors"

var (
	// BadParam: malformed header/args; fail the request, keep the connection.
	BadParam = errors.New("bad_param")
	// NoMem: allocation failure; fail the request with TMPFAIL.
	NoMem = errors.New("no_mem")
	// NoAccess: privilege denied.
	NoAccess = errors.New("no_access")
	// AuthStale: PrivilegeContext rebuild exhausted its retry budget.
	AuthStale = errors.New("auth_stale")
	// WouldBlock: cooperative suspension, never client-visible.
	WouldBlock = errors.New("would_block")
	// Disconnect: fatal I/O or policy violation.
	Disconnect = errors.New("disconnect")
	// EngineFailure: opaque engine error.
	EngineFailure = errors.New("engine_failure")
)

// Wrap tags err as belonging to kind, preserving err via errors.Cause.
func Wrap(kind error, err error, msg string) error {
	if err == nil {
		return errors.Wrap(kind, msg)
	}
	return &kindError{kind: kind, cause: err, msg: msg}
}

// kindError matches kind under errors.Is while err stays reachable via
// errors.Cause and errors.Unwrap.
type kindError struct {
	kind, cause error
	msg         string
}

func (e *kindError) Error() string        { return e.kind.Error() + ": " + e.msg + ": " + e.cause.Error() }
func (e *kindError) Cause() error         { return e.cause }
func (e *kindError) Unwrap() error        { return e.cause }
func (e *kindError) Is(target error) bool { return target == e.kind }

// Is reports whether err (or any error it wraps) is kind.
func Is(err, kind error) bool { return errors.Is(err, kind) }
