package userdb

import (
	"strings"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// record is the JSON shape stored per key in the buntdb file — the
// in-scope reference adapter for the file format spec.md §1 leaves as
// an external collaborator.
type record struct {
	Domain   Domain   `json:"domain"`
	Internal bool     `json:"internal"`
	Roles    []string `json:"roles"`
}

// BuntStore is a Database backed by an embedded buntdb instance: one
// key per username, JSON-encoded record as the value. It supports
// Reload by re-scanning the whole keyspace and swapping the decoded
// snapshot atomically, matching the teacher's pattern of caching a
// decoded view in front of a persistent KV for hot lookups.
type BuntStore struct {
	db  *buntdb.DB
	gen atomic.Uint64

	snapshot atomic.Pointer[map[string]Record]
}

// OpenBuntStore opens (creating if absent) a buntdb file at path and
// loads an initial snapshot.
func OpenBuntStore(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "userdb: open %s", path)
	}
	s := &BuntStore{db: db}
	if err := s.Reload(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying buntdb file handle.
func (s *BuntStore) Close() error { return s.db.Close() }

// Put upserts username's record, keyed as "user:<username>".
func (s *BuntStore) Put(username string, rec Record) error {
	body, err := jsonAPI.Marshal(record{Domain: rec.Domain, Internal: rec.Internal, Roles: rec.Roles})
	if err != nil {
		return errors.Wrap(err, "userdb: encode record")
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("user:"+username, string(body), nil)
		return err
	})
}

// Reload rescans the keyspace and swaps the cached snapshot, bumping
// the generation counter so every outstanding PrivilegeContext built
// against the prior snapshot reports Stale (spec.md §4.3).
func (s *BuntStore) Reload() error {
	snap := make(map[string]Record)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("user:*", func(key, value string) bool {
			username := strings.TrimPrefix(key, "user:")
			var rec record
			if jerr := jsonAPI.UnmarshalFromString(value, &rec); jerr != nil {
				err = errors.Wrapf(jerr, "userdb: decode %s", key)
				return false
			}
			snap[username] = Record{Username: username, Domain: rec.Domain, Internal: rec.Internal, Roles: rec.Roles}
			return true
		})
	})
	if err != nil {
		return err
	}
	s.snapshot.Store(&snap)
	s.gen.Add(1)
	return nil
}

func (s *BuntStore) Lookup(username string) (Record, error) {
	snap := s.snapshot.Load()
	if snap == nil {
		return Record{}, errors.Wrap(ErrNoSuchUser, username)
	}
	rec, ok := (*snap)[username]
	if !ok {
		return Record{}, errors.Wrap(ErrNoSuchUser, username)
	}
	return rec, nil
}

func (s *BuntStore) Generation() uint64 { return s.gen.Load() }
