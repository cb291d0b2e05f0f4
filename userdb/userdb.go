// Package userdb is the external username -> {domain, internal, roles}
// lookup collaborator referenced by spec.md §1 ("the user/role database
// and its file format") and §4.3 (PrivilegeContext is built against it).
// The on-disk format is out of scope; this package only fixes the
// lookup contract plus a reference adapter used by tests and the
// default node wiring.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package userdb

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Domain distinguishes a locally-defined user from one authenticated
// externally (e.g. by a client certificate or an external directory).
type Domain uint8

const (
	DomainLocal Domain = iota
	DomainExternal
)

// Record is everything PrivilegeContext needs about one principal.
type Record struct {
	Username string
	Domain   Domain
	Internal bool // internal/system users get an implicit superset of privileges
	Roles    []string
}

// ErrNoSuchUser is returned by Lookup when username is not on file.
var ErrNoSuchUser = errors.New("userdb: no such user")

// ErrNoSuchBucket is the "no such bucket" sentinel. No Database in this
// package returns it.
var ErrNoSuchBucket = errors.New("userdb: no such bucket")

// Database is the lookup contract spec.md treats as an external
// collaborator: username -> Record, plus a reload generation counter
// PrivilegeContext uses to detect staleness (spec.md §4.3).
type Database interface {
	Lookup(username string) (Record, error)
	// Generation changes every time the backing data is reloaded; a
	// PrivilegeContext built against an older generation is Stale.
	Generation() uint64
}

// Reloadable is implemented by adapters that support an explicit
// re-read of their backing store (e.g. in response to a SIGHUP or an
// admin-triggered reload).
type Reloadable interface {
	Reload() error
}

// Static is an in-memory Database useful for tests and for the
// reference adapter's decoded form. Lookup may run concurrently with
// ReplaceAll: it keeps an atomic generation counter plus a map that's
// only ever replaced wholesale, through an atomic pointer, by
// ReplaceAll.
type Static struct {
	gen     atomic.Uint64
	records atomic.Pointer[map[string]Record]
}

// NewStatic builds a Static pre-loaded with records.
func NewStatic(records map[string]Record) *Static {
	s := &Static{}
	cp := make(map[string]Record, len(records))
	for k, v := range records {
		cp[k] = v
	}
	s.records.Store(&cp)
	s.gen.Store(1)
	return s
}

func (s *Static) Lookup(username string) (Record, error) {
	m := s.records.Load()
	if m == nil {
		return Record{}, errors.Wrap(ErrNoSuchUser, username)
	}
	rec, ok := (*m)[username]
	if !ok {
		return Record{}, errors.Wrap(ErrNoSuchUser, username)
	}
	return rec, nil
}

func (s *Static) Generation() uint64 { return s.gen.Load() }

// ReplaceAll swaps the whole record set and bumps the generation,
// causing every outstanding PrivilegeContext to report Stale on its
// next check (spec.md §4.3 "the database may be reloaded at any time").
func (s *Static) ReplaceAll(records map[string]Record) {
	cp := make(map[string]Record, len(records))
	for k, v := range records {
		cp[k] = v
	}
	s.records.Store(&cp)
	s.gen.Add(1)
}
