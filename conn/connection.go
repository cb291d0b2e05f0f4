package conn

import (
	"net"
	"sync/atomic"

	"github.com/NVIDIA/kvcore/auth"
	"github.com/NVIDIA/kvcore/kvlog"
	"github.com/NVIDIA/kvcore/kvmono"
	"github.com/NVIDIA/kvcore/sasl"
	"github.com/NVIDIA/kvcore/tlsio"
	"github.com/NVIDIA/kvcore/wire"
)

// maxAuthStaleRetries bounds how many times parse_cmd will rebuild a
// Stale PrivilegeContext before giving up and surfacing AUTH_STALE to
// the client (spec.md §4.2 "parse_cmd").
const maxAuthStaleRetries = 100

var nextConnID uint64

// Options configures a Connection at accept time.
type Options struct {
	RequireTLS     bool
	TLSConfig      *tlsioConfig
	ClientCertMode tlsio.ClientCertMode
	X509Mapper     tlsio.X509Mapper
	MaxBodyLen     uint32
	Internal       bool // DCP/internal connections: exempt from idle timeout (spec.md §4.2, §5)
	PrivManager    *auth.Manager
	SaslMechs      []sasl.Mechanism
	PasswordDB     sasl.PasswordLookup
	Engine         Engine
}

// tlsioConfig is a minimal alias kept local to avoid importing
// crypto/tls into every caller of Options; listener.go (buildTLSConfig)
// constructs the real *tls.Config.
type tlsioConfig = struct {
	CertFile, KeyFile, CAFile string
}

// Connection is one TCP peer: socket, readiness flags (owned by the
// reactor), read/write byte pipes, the output iov list, SASL/TLS/
// privilege handles, a state-machine cursor, and pending server events
// (spec.md §3 "Connection").
type Connection struct {
	id  uint64
	raw net.Conn
	tls *tlsio.Channel

	opts Options

	state    State
	refcount int32

	input  *Pipe
	output *OutputList
	events EventQueue

	sasl     *sasl.Session
	username string
	bucket   string
	privCtx  *auth.Context

	cookies []*Cookie
	pending *Cookie // cookie currently parked on an engine WOULDBLOCK

	lastActivity    int64 // kvmono.NanoTime
	closeReason     error
	closeAfterWrite bool

	// pendingExecReq/pendingExecCookie carry a fully-framed request from
	// parse_cmd to execute; cleared once execute has dispatched it.
	pendingExecReq    *Request
	pendingExecCookie *Cookie

	// negotiated HELLO features (spec.md §6); zero value is "nothing
	// negotiated yet", the conservative default for error remapping.
	features wire.HelloFeatures
}

// NewConnection wraps raw as a fresh Connection in StateNew. Ownership
// of raw transfers to the Connection.
func NewConnection(raw net.Conn, opts Options) *Connection {
	c := &Connection{
		id:           atomic.AddUint64(&nextConnID, 1),
		raw:          raw,
		opts:         opts,
		state:        StateNew,
		refcount:     1,
		input:        NewPipe(),
		output:       NewOutputList(),
		lastActivity: kvmono.NanoTime(),
	}
	if opts.PasswordDB != nil {
		c.sasl = sasl.NewSession(opts.PasswordDB, opts.SaslMechs, nil)
	}
	return c
}

// ID reports this connection's process-unique identifier.
func (c *Connection) ID() uint64 { return c.id }

// State reports the connection's current state-machine state.
func (c *Connection) State() State { return c.state }

// Retain/Release implement the reference count spec.md §3 uses to
// decide when a Connection may actually be destroyed (closing only
// reaches immediate_close once refcount drops to 1 and no cookie is
// EWOULDBLOCK).
func (c *Connection) Retain() { atomic.AddInt32(&c.refcount, 1) }
func (c *Connection) Release() {
	if atomic.AddInt32(&c.refcount, -1) < 0 {
		kvlogFatalRefcount(c)
	}
}

func kvlogFatalRefcount(c *Connection) {
	kvlog.Errorf("conn %d: refcount went negative", c.id)
}

// RequestClose marks the connection for teardown; the next Step call
// transitions it into closing regardless of what it was doing.
func (c *Connection) RequestClose(reason error) {
	c.closeReason = reason
	if c.state != StateClosing && c.state != StatePendingClose &&
		c.state != StateImmediateClose && c.state != StateDestroyed {
		c.state = StateClosing
	}
}

// PushEvent enqueues a ServerEvent to be drained before the next
// command (spec.md §4.2 "Server events").
func (c *Connection) PushEvent(ev ServerEvent) { c.events.Push(ev) }

// NotifyIoComplete resumes a connection parked on an engine WOULDBLOCK
// (spec.md §5 "Engine WOULDBLOCK (asynchronous completion via
// notifyIoComplete)").
func (c *Connection) NotifyIoComplete(resp Response, err error) {
	if c.pending == nil {
		return
	}
	wasPendingClose := c.state == StatePendingClose
	c.pending.NotifyComplete()
	c.finishExecute(resp, err)
	c.pending = nil
	if wasPendingClose {
		c.state = StateClosing
	} else {
		c.state = StateWrite
	}
}

// IdleFor reports nanoseconds since the last I/O activity.
func (c *Connection) IdleFor() int64 { return kvmono.Since(c.lastActivity) }

// IsInternal reports whether this connection is exempt from idle
// timeout (spec.md §4.2, §5 — DCP/internal connections).
func (c *Connection) IsInternal() bool { return c.opts.Internal }

func (c *Connection) touch() { c.lastActivity = kvmono.NanoTime() }

// Step drives the state machine exactly one transition's worth of work
// and reports what the reactor should do next: keep calling Step
// immediately (OutcomeContinue), wait for readiness (OutcomeYield), or
// reclaim the connection (OutcomeClosed) (spec.md §4.2, §9
// "Coroutine-style suspension").
func (c *Connection) Step() Outcome {
	switch c.state {
	case StateNew:
		return c.stepNew()
	case StateSSLInit:
		return c.stepSSLInit()
	case StateRead:
		return c.stepRead()
	case StateParseCmd:
		return c.stepParseCmd()
	case StateExecute:
		return c.stepExecute()
	case StateWrite:
		return c.stepWrite()
	case StateClosing:
		return c.stepClosing()
	case StatePendingClose:
		return c.stepPendingClose()
	case StateImmediateClose:
		c.state = StateDestroyed
		return OutcomeClosed
	case StateDestroyed:
		return OutcomeClosed
	case StateNack:
		return c.stepNack()
	default:
		return OutcomeClosed
	}
}

func (c *Connection) stepNew() Outcome {
	if c.opts.RequireTLS {
		c.state = StateSSLInit
	} else {
		c.state = StateRead
	}
	return OutcomeContinue
}

func (c *Connection) stepSSLInit() Outcome {
	if c.tls == nil {
		return OutcomeClosed // reactor must construct tls.Channel before first Step in ssl_init
	}
	switch c.tls.Handshake() {
	case tlsio.Complete:
		username, disconnect, err := tlsio.ResolveClientIdentity(c.opts.ClientCertMode, c.tls, c.opts.X509Mapper)
		if err != nil || disconnect {
			c.RequestClose(err)
			return OutcomeContinue
		}
		if username != "" {
			c.username = username
			c.sasl = nil // cert-based identity disables further SASL (spec.md §4.2)
		}
		c.state = StateRead
		return OutcomeContinue
	case tlsio.WouldBlockRead, tlsio.WouldBlockWrite:
		return OutcomeYield
	default:
		c.RequestClose(errDisconnectTLS)
		return OutcomeContinue
	}
}

func (c *Connection) stepRead() Outcome {
	c.input.Reserve(wire.HeaderLen)
	n, st, err := c.socketRead(c.input.WriteSlice(c.input.Cap() - c.input.Len()))
	if n > 0 {
		c.input.Grow(n)
		c.touch()
	}
	if err != nil {
		c.RequestClose(err)
		return OutcomeContinue
	}
	if st == readWouldBlock {
		if c.input.Len() >= wire.HeaderLen {
			c.state = StateParseCmd
			return OutcomeContinue
		}
		return OutcomeYield
	}
	if st == readClosed {
		c.RequestClose(nil)
		return OutcomeContinue
	}
	if c.input.Len() >= wire.HeaderLen {
		c.state = StateParseCmd
	}
	return OutcomeContinue
}

func (c *Connection) stepParseCmd() Outcome {
	if ev, ok := c.events.Pop(); ok {
		c.handleEvent(ev)
		return OutcomeContinue
	}

	if c.input.Len() < wire.HeaderLen {
		c.state = StateRead
		return OutcomeContinue
	}
	hdr, err := wire.ParseHeader(c.input.Bytes()[:wire.HeaderLen])
	if err != nil {
		c.state = StateNack
		return OutcomeContinue
	}
	if err := hdr.Validate(c.maxBodyLen()); err != nil {
		c.state = StateNack
		return OutcomeContinue
	}
	total := wire.HeaderLen + int(hdr.BodyLen)
	if c.input.Len() < total {
		c.input.Reserve(total - c.input.Len())
		c.state = StateRead
		return OutcomeContinue
	}

	priv, needsCheck := opcodePrivilege(wire.Opcode(hdr.Opcode))
	if needsCheck {
		res := c.checkPrivilegeWithRetry(priv)
		if res == auth.Stale {
			c.sendErrorAndMaybeDisconnect(hdr, wire.StatusAuthStale)
			return OutcomeContinue
		}
		if res == auth.Fail {
			c.sendErrorAndMaybeDisconnect(hdr, wire.StatusEaccess)
			return OutcomeContinue
		}
	}

	body := c.input.Bytes()[wire.HeaderLen:total]
	req := Request{
		Header: hdr,
		Extras: body[:hdr.ExtLen],
		Key:    body[hdr.ExtLen : int(hdr.ExtLen)+int(hdr.KeyLen)],
		Value:  body[int(hdr.ExtLen)+int(hdr.KeyLen):],
	}
	c.input.Consume(total)

	cookie := NewCookie(hdr.Opcode, hdr.Opaque)
	c.cookies = append(c.cookies, cookie)
	c.pendingExecReq = &req
	c.pendingExecCookie = cookie
	c.state = StateExecute
	return OutcomeContinue
}

// checkPrivilegeWithRetry checks priv against the cached context,
// rebuilding up to maxAuthStaleRetries times when it's Stale (spec.md
// §4.2 "If privilege returns Stale, the connection rebuilds the
// context... exhausted retries are surfaced... as AUTH_STALE").
func (c *Connection) checkPrivilegeWithRetry(priv auth.Privilege) auth.Result {
	if c.opts.PrivManager == nil {
		return auth.Ok
	}
	if c.privCtx == nil {
		ctx, err := c.opts.PrivManager.Build(c.username, c.bucket)
		if err != nil {
			return auth.Stale
		}
		c.privCtx = ctx
	}
	gen := c.opts.PrivManager.CurrentGeneration()
	for i := 0; i < maxAuthStaleRetries; i++ {
		res := c.privCtx.Check(priv, gen)
		if res != auth.Stale {
			return res
		}
		ctx, err := c.opts.PrivManager.Build(c.username, c.bucket)
		if err != nil {
			return auth.Stale
		}
		c.privCtx = ctx
		gen = c.opts.PrivManager.CurrentGeneration()
	}
	return auth.Stale
}

func (c *Connection) handleEvent(ev ServerEvent) {
	switch ev.Kind {
	case EventForceDisconnect:
		c.RequestClose(errForceDisconnect)
	case EventPrivilegeReload:
		c.privCtx = nil
	case EventClusterMapBump:
		// Surfaced to the engine layer via the response path the next
		// time this connection sends anything; nothing to do here but
		// note it arrived.
		kvlog.V(3, "conn %d: cluster map bump queued", c.id)
	}
}

func (c *Connection) maxBodyLen() uint32 {
	if c.opts.MaxBodyLen == 0 {
		return 20 << 20
	}
	return c.opts.MaxBodyLen
}
