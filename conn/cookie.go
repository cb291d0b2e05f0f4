package conn

import (
	"strconv"

	"github.com/teris-io/shortid"
)

var cookieIDGen, _ = shortid.New(1, shortid.DefaultABC, 0xC00C1E)

// Cookie is the per-request handle threaded through the engine for
// async completion (spec.md §4.2 "execute", GLOSSARY "Cookie"). A
// connection may have several outstanding when pipelined commands are
// in flight, each independently possibly parked EWOULDBLOCK.
type Cookie struct {
	TraceID     string
	Opcode      byte
	Opaque      uint32
	ewouldblock bool
}

// NewCookie allocates a Cookie with a fresh trace id, used both for
// correlating async engine completions and for request tracing once
// the TRACING HELLO feature is negotiated.
func NewCookie(opcode byte, opaque uint32) *Cookie {
	id, err := cookieIDGen.Generate()
	if err != nil {
		// shortid only fails on generator exhaustion/misconfiguration, a
		// setup-time bug, not a per-request condition; fall back to the
		// opaque value so the connection can still proceed.
		id = strconv.FormatUint(uint64(opaque), 10)
	}
	return &Cookie{TraceID: id, Opcode: opcode, Opaque: opaque}
}

// ParkEWouldBlock marks this cookie as suspended pending an engine
// completion (spec.md §4.2 "execute").
func (c *Cookie) ParkEWouldBlock() { c.ewouldblock = true }

// NotifyComplete clears the suspended flag once notifyIoComplete fires
// for this cookie (spec.md §5 "Suspension points").
func (c *Cookie) NotifyComplete() { c.ewouldblock = false }

// IsEWouldBlock reports whether this cookie is still parked.
func (c *Cookie) IsEWouldBlock() bool { return c.ewouldblock }
