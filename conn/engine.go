package conn

import (
	"github.com/NVIDIA/kvcore/auth"
	"github.com/NVIDIA/kvcore/wire"
)

// Request is one fully-framed binary-protocol command handed to the
// engine by execute (spec.md §4.2).
type Request struct {
	Header wire.Header
	Key    []byte
	Extras []byte
	Value  []byte
}

// Response is what the engine hands back for a completed Request.
type Response struct {
	Status   wire.Status
	Extras   []byte
	Key      []byte
	Value    []byte
	Datatype byte
}

// Engine is the bucket engine collaborator spec.md §1 places out of
// scope beyond its call contract: execute dispatches into it, and it
// may return kverr.WouldBlock to suspend the cookie until
// notifyIoComplete fires (spec.md §4.2 "execute").
type Engine interface {
	Execute(cookie *Cookie, req Request) (Response, error)
}

// opcodePrivilege maps an opcode to the privilege parse_cmd must check
// before dispatch (spec.md §4.2 "parse_cmd... checks the privilege
// required for that opcode"). HELLO/SASL opcodes need none: they run
// before (or to establish) authentication.
func opcodePrivilege(op wire.Opcode) (auth.Privilege, bool) {
	switch op {
	case wire.OpGet:
		return auth.PrivRead, true
	case wire.OpSet, wire.OpAdd, wire.OpReplace:
		return auth.PrivUpsert, true
	case wire.OpDelete:
		return auth.PrivDelete, true
	case wire.OpStat:
		return auth.PrivSimpleStats, true
	case wire.OpSelectBucket:
		return auth.PrivSelectBucket, true
	case wire.OpHello, wire.OpSaslListMechs, wire.OpSaslAuth, wire.OpSaslStep:
		return "", false
	default:
		return "", false
	}
}
