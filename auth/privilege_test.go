package auth

import (
	"testing"

	"github.com/NVIDIA/kvcore/kverr"
	"github.com/NVIDIA/kvcore/userdb"
)

func TestBuildAndCheck(t *testing.T) {
	db := userdb.NewStatic(map[string]userdb.Record{
		"alice": {Username: "alice", Roles: []string{"data_writer"}},
	})
	mgr := NewManager(db)

	ctx, err := mgr.Build("alice", "default")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := ctx.Check(PrivUpsert, db.Generation()); got != Ok {
		t.Fatalf("Check(PrivUpsert) = %s, want ok", got)
	}
	if got := ctx.Check(PrivNodeSupervisor, db.Generation()); got != Fail {
		t.Fatalf("Check(PrivNodeSupervisor) = %s, want fail", got)
	}
}

func TestStaleAfterReload(t *testing.T) {
	db := userdb.NewStatic(map[string]userdb.Record{
		"alice": {Username: "alice", Roles: []string{"data_reader"}},
	})
	mgr := NewManager(db)

	ctx, err := mgr.Build("alice", "default")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	staleGen := db.Generation()
	db.ReplaceAll(map[string]userdb.Record{
		"alice": {Username: "alice", Roles: []string{"data_writer"}},
	})
	if got := ctx.Check(PrivRead, staleGen); got != Ok {
		t.Fatalf("Check against captured gen = %s, want ok", got)
	}
	if got := ctx.Check(PrivRead, db.Generation()); got != Stale {
		t.Fatalf("Check against current gen = %s, want stale", got)
	}

	rebuilt, err := mgr.Build("alice", "default")
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if got := rebuilt.Check(PrivUpsert, db.Generation()); got != Ok {
		t.Fatalf("rebuilt Check(PrivUpsert) = %s, want ok", got)
	}
}

func TestNoSuchUserSurfacesAuthStale(t *testing.T) {
	db := userdb.NewStatic(nil)
	mgr := NewManager(db)
	if _, err := mgr.Build("ghost", "default"); !kverr.Is(err, kverr.AuthStale) {
		t.Fatalf("Build(ghost) = %v, want an AuthStale error", err)
	}
}

func TestNoBucketGetsAllBucketPrivileges(t *testing.T) {
	db := userdb.NewStatic(map[string]userdb.Record{
		"admin-cli": {Username: "admin-cli", Roles: nil},
	})
	mgr := NewManager(db)
	ctx, err := mgr.Build("admin-cli", "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := ctx.Check(PrivSelectBucket, db.Generation()); got != Ok {
		t.Fatalf("Check(PrivSelectBucket) = %s, want ok", got)
	}
}
