// Package auth implements the PrivilegeContext: a cached authorization
// decision vector for (user, bucket) consulted on the hot path of every
// request, rebuilt against the userdb.Database when it goes stale
// (spec.md §4.3).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package auth

import (
	"github.com/NVIDIA/kvcore/kverr"
	"github.com/NVIDIA/kvcore/userdb"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Privilege is one RBAC-checkable capability (spec.md §4.3, §6).
type Privilege string

const (
	PrivRead               Privilege = "read"
	PrivInsert             Privilege = "insert"
	PrivUpsert             Privilege = "upsert"
	PrivDelete             Privilege = "delete"
	PrivMetaRead           Privilege = "meta_read"
	PrivMetaWrite          Privilege = "meta_write"
	PrivSimpleStats        Privilege = "simple_stats"
	PrivStats              Privilege = "stats"
	PrivBucketManagement   Privilege = "bucket_management"
	PrivNodeSupervisor     Privilege = "node_supervisor"
	PrivSecurityManagement Privilege = "security_management"
	PrivImpersonate        Privilege = "impersonate"
	PrivSelectBucket       Privilege = "select_bucket"
)

// Result is the tri-state a privilege check returns (spec.md §4.3).
type Result uint8

const (
	Ok Result = iota
	Fail
	Stale
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case Fail:
		return "fail"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// roleGrants maps a role name to the privileges it confers. A real
// deployment loads this from the role database; it is fixed here since
// spec.md §1 places role *definitions* out of scope — only the lookup
// and check contract is part of the core.
var roleGrants = map[string][]Privilege{
	"data_reader":  {PrivRead, PrivMetaRead, PrivSimpleStats},
	"data_writer":  {PrivRead, PrivInsert, PrivUpsert, PrivDelete, PrivMetaRead, PrivMetaWrite, PrivSimpleStats},
	"bucket_admin": {PrivBucketManagement, PrivSimpleStats, PrivStats},
	"admin": {
		PrivRead, PrivInsert, PrivUpsert, PrivDelete, PrivMetaRead, PrivMetaWrite,
		PrivSimpleStats, PrivStats, PrivBucketManagement, PrivNodeSupervisor,
		PrivSecurityManagement, PrivImpersonate, PrivSelectBucket,
	},
}

// allBucketPrivileges is granted by setBucketPrivileges, used only for
// bucket 0 "no-bucket" connections (spec.md §4.3).
var allBucketPrivileges = []Privilege{
	PrivRead, PrivInsert, PrivUpsert, PrivDelete, PrivMetaRead, PrivMetaWrite,
	PrivSimpleStats, PrivStats, PrivSelectBucket,
}

// Context is a cached authorization decision vector for one
// (username, bucket) pair. It is cheap to Check repeatedly; Rebuild is
// the only path that touches the userdb.Database.
type Context struct {
	username string
	bucket   string
	granted  map[Privilege]bool
	builtGen uint64
	empty    bool // "no such bucket" collapsed this context to empty-bucket (spec.md §4.3)
}

// Manager builds and caches Contexts against a shared userdb.Database,
// coalescing concurrent rebuilds for the same (user, bucket) key with a
// singleflight.Group so a stampede of Stale checks (e.g. right after a
// reload bumps the generation) doesn't hit the database N times
// (SPEC_FULL.md §3, golang.org/x/sync wiring).
type Manager struct {
	db userdb.Database
	sf singleflight.Group
}

func NewManager(db userdb.Database) *Manager {
	return &Manager{db: db}
}

// CurrentGeneration reports the userdb generation a freshly-built
// Context would be stamped with, for callers comparing against a
// cached Context's staleness without forcing a rebuild.
func (m *Manager) CurrentGeneration() uint64 { return m.db.Generation() }

// Build constructs a fresh Context for (username, bucket), or returns
// one already in flight for the same key.
func (m *Manager) Build(username, bucket string) (*Context, error) {
	key := username + "\x00" + bucket
	v, err, _ := m.sf.Do(key, func() (any, error) {
		return m.buildLocked(username, bucket)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Context), nil
}

func (m *Manager) buildLocked(username, bucket string) (*Context, error) {
	rec, err := m.db.Lookup(username)
	if err != nil {
		if errors.Is(err, userdb.ErrNoSuchUser) {
			// "no such user" after restart must force re-auth (spec.md §4.3).
			return nil, kverr.Wrap(kverr.AuthStale, err, "rebuild: unknown user")
		}
		return nil, kverr.Wrap(kverr.EngineFailure, err, "rebuild: userdb lookup")
	}

	ctx := &Context{username: username, bucket: bucket, builtGen: m.db.Generation(), granted: map[Privilege]bool{}}
	if rec.Internal {
		for _, p := range allBucketPrivileges {
			ctx.granted[p] = true
		}
		ctx.granted[PrivNodeSupervisor] = true
		return ctx, nil
	}
	if bucket == "" || bucket == "@no-bucket" {
		ctx.SetBucketPrivileges()
		return ctx, nil
	}
	for _, role := range rec.Roles {
		for _, p := range roleGrants[role] {
			ctx.granted[p] = true
		}
	}
	if len(ctx.granted) == 0 {
		// No role grants anything against this bucket: the bucket may not
		// exist for this principal. Collapse to an empty-bucket context
		// rather than erroring — spec.md §4.3 "context becomes
		// empty-bucket" rather than surfacing ErrNoSuchBucket to the
		// caller, which would otherwise force a disconnect on every check.
		ctx.empty = true
	}
	return ctx, nil
}

// Check reports whether p is granted, is denied, or the context must be
// rebuilt first (spec.md §4.3).
func (c *Context) Check(p Privilege, currentGen uint64) Result {
	if c.builtGen != currentGen {
		return Stale
	}
	if c.empty {
		return Fail
	}
	if c.granted[p] {
		return Ok
	}
	return Fail
}

// DropPrivilege revokes p from this context without a full rebuild —
// used when a connection voluntarily narrows its own grant set.
func (c *Context) DropPrivilege(p Privilege) {
	delete(c.granted, p)
}

// SetBucketPrivileges grants every bucket-scoped privilege — used only
// for bucket 0, "no-bucket" (spec.md §4.3).
func (c *Context) SetBucketPrivileges() {
	if c.granted == nil {
		c.granted = map[Privilege]bool{}
	}
	for _, p := range allBucketPrivileges {
		c.granted[p] = true
	}
	c.empty = false
}

// Username reports the principal this context was built for.
func (c *Context) Username() string { return c.username }

// Bucket reports the bucket this context was built for.
func (c *Context) Bucket() string { return c.bucket }
