package conn

import (
	"sync/atomic"

	"github.com/NVIDIA/kvcore/kverr"
	"github.com/NVIDIA/kvcore/wire"
	"github.com/pkg/errors"
)

var (
	errDisconnectTLS   = errors.New("conn: tls handshake failed")
	errForceDisconnect = errors.New("conn: force-disconnect event")
)

func (c *Connection) stepExecute() Outcome {
	req := c.pendingExecReq
	cookie := c.pendingExecCookie
	if req == nil || cookie == nil {
		c.state = StateParseCmd
		return OutcomeContinue
	}
	if c.opts.Engine == nil {
		c.finishExecute(Response{Status: wire.StatusEinval}, nil)
		return OutcomeContinue
	}

	resp, err := c.opts.Engine.Execute(cookie, *req)
	if err != nil && kverr.Is(err, kverr.WouldBlock) {
		cookie.ParkEWouldBlock()
		c.pending = cookie
		return OutcomeYield
	}
	c.finishExecute(resp, err)
	return OutcomeContinue
}

// finishExecute appends the engine's response to the output list,
// remapping its status if the client hasn't negotiated XERROR, and
// drops the cookie from the outstanding set (spec.md §6 "Error code
// remapping", §4.2 "execute").
func (c *Connection) finishExecute(resp Response, err error) {
	defer c.dropCookie(c.pendingExecCookie)
	c.pendingExecReq = nil
	c.pendingExecCookie = nil

	if err != nil && !kverr.Is(err, kverr.WouldBlock) {
		resp.Status = wire.StatusEinval
		if kverr.Is(err, kverr.NoAccess) {
			resp.Status = wire.StatusEaccess
		} else if kverr.Is(err, kverr.EngineFailure) {
			resp.Status = wire.StatusTmpfail
		}
	}

	// EACCESS/NO_BUCKET/AUTH_STALE never reach the client — the
	// connection is simply cut (spec.md §6 "disconnect rather than
	// transmission"). Anything already queued from earlier pipelined
	// requests still gets flushed first.
	remapped, disconnect := wire.RemapForLegacyClient(resp.Status, c.features.XError, c.features.Collections)
	if disconnect {
		c.closeAfterWrite = true
	} else {
		c.appendResponse(remapped, resp)
	}
	c.state = StateWrite
}

func (c *Connection) appendResponse(status wire.Status, resp Response) {
	body := make([]byte, 0, len(resp.Extras)+len(resp.Key)+len(resp.Value))
	body = append(body, resp.Extras...)
	body = append(body, resp.Key...)
	body = append(body, resp.Value...)

	hdr := wire.Header{
		Magic:           wire.MagicResponse,
		KeyLen:          uint16(len(resp.Key)),
		ExtLen:          uint8(len(resp.Extras)),
		Datatype:        resp.Datatype,
		VbucketOrStatus: uint16(status),
		BodyLen:         uint32(len(body)),
	}
	hdrBuf := make([]byte, wire.HeaderLen)
	hdr.Encode(hdrBuf)
	c.output.Append(hdrBuf)
	if len(body) > 0 {
		c.output.Append(body)
	}
}

func (c *Connection) sendErrorAndMaybeDisconnect(req wire.Header, status wire.Status) {
	remapped, disconnect := wire.RemapForLegacyClient(status, c.features.XError, c.features.Collections)
	if disconnect {
		c.closeAfterWrite = true
		c.state = StateWrite
		return
	}
	respHdr := wire.Header{
		Magic:           wire.MagicResponse,
		Opcode:          req.Opcode,
		Opaque:          req.Opaque,
		VbucketOrStatus: uint16(remapped),
	}
	buf := make([]byte, wire.HeaderLen)
	respHdr.Encode(buf)
	c.output.Append(buf)
	c.state = StateWrite
}

func (c *Connection) dropCookie(cookie *Cookie) {
	if cookie == nil {
		return
	}
	for i, cu := range c.cookies {
		if cu == cookie {
			c.cookies = append(c.cookies[:i], c.cookies[i+1:]...)
			return
		}
	}
}

func (c *Connection) hasOutstandingEWouldBlock() bool {
	for _, cu := range c.cookies {
		if cu.IsEWouldBlock() {
			return true
		}
	}
	return false
}

func (c *Connection) stepWrite() Outcome {
	if c.output.Empty() {
		c.output.ShrinkToFit()
		c.input.ShrinkToFit()
		if c.closeReason != nil || c.closeAfterWrite {
			c.state = StateClosing
			return OutcomeContinue
		}
		if c.input.Len() >= wire.HeaderLen {
			c.state = StateParseCmd
		} else {
			c.state = StateRead
		}
		return OutcomeContinue
	}

	n, st, err := c.socketWrite(c.output.Buffers())
	if n > 0 {
		c.output.Advance(n)
		c.touch()
	}
	if err != nil {
		c.RequestClose(err)
		return OutcomeContinue
	}
	if st == readWouldBlock {
		return OutcomeYield
	}
	return OutcomeContinue
}

func (c *Connection) stepClosing() Outcome {
	// Release resources this connection held: the TLS session (if any),
	// any still-registered cookies that aren't EWOULDBLOCK, and the
	// socket itself (spec.md §4.2 "closing").
	if c.tls != nil {
		c.tls.Close()
	} else if c.raw != nil {
		c.raw.Close()
	}
	kept := c.cookies[:0]
	for _, cu := range c.cookies {
		if cu.IsEWouldBlock() {
			kept = append(kept, cu)
		}
	}
	c.cookies = kept

	if atomic.LoadInt32(&c.refcount) > 1 || c.hasOutstandingEWouldBlock() {
		c.state = StatePendingClose
		return OutcomeYield
	}
	c.state = StateImmediateClose
	return OutcomeContinue
}

func (c *Connection) stepPendingClose() Outcome {
	if atomic.LoadInt32(&c.refcount) > 1 || c.hasOutstandingEWouldBlock() {
		return OutcomeYield
	}
	c.state = StateImmediateClose
	return OutcomeContinue
}

func (c *Connection) stepNack() Outcome {
	c.input.Consume(wire.HeaderLen)
	c.sendErrorAndMaybeDisconnect(wire.Header{}, wire.StatusEinval)
	return OutcomeContinue
}
