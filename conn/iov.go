package conn

// iovMax bounds how many scatter/gather entries one msghdr record can
// hold before the connection engine must push a new one (spec.md §4.2
// "an array of msghdr records each holding up to IOV_MAX iov entries").
// IOV_MAX is commonly 1024 on Linux; we use the same constant the
// teacher's own syscall-adjacent code would, without special-casing
// per-OS via a build tag since it's just a soft batching bound, not an
// ABI requirement.
const iovMax = 1024

// iovEntry is one scatter/gather buffer reference — a byte slice
// carved out of whatever produced it (a response Pipe, a zero-copy
// value buffer). Unlike unix.Iovec, this holds a real Go slice rather
// than a raw pointer/length pair so the garbage collector can still see
// the backing array.
type iovEntry struct {
	buf []byte
	off int // bytes of buf already sent
}

func (e *iovEntry) remaining() []byte { return e.buf[e.off:] }
func (e *iovEntry) done() bool        { return e.off >= len(e.buf) }

// msghdr groups up to iovMax iovEntry records, mirroring one
// sendmsg(2)/writev(2) call's worth of scatter/gather buffers (spec.md
// §4.2).
type msghdr struct {
	iovs []iovEntry
}

func (m *msghdr) full() bool { return len(m.iovs) >= iovMax }

// OutputList is the connection's outbound scatter/gather queue: a list
// of msghdr records, consumed from the front as send(2)/TLS writes
// complete.
type OutputList struct {
	msgs []*msghdr
}

// NewOutputList returns an empty OutputList.
func NewOutputList() *OutputList { return &OutputList{} }

// Append queues buf as a new scatter/gather entry, pushing a new
// msghdr if the current tail is already at iovMax entries.
func (l *OutputList) Append(buf []byte) {
	if len(buf) == 0 {
		return
	}
	if len(l.msgs) == 0 || l.msgs[len(l.msgs)-1].full() {
		l.msgs = append(l.msgs, &msghdr{})
	}
	tail := l.msgs[len(l.msgs)-1]
	tail.iovs = append(tail.iovs, iovEntry{buf: buf})
}

// Empty reports whether every queued byte has been sent.
func (l *OutputList) Empty() bool { return len(l.msgs) == 0 }

// Buffers returns the net.Buffers-compatible [][]byte view of every
// unsent byte across every queued msghdr, for a single writev(2)/
// Buffers.WriteTo call.
func (l *OutputList) Buffers() [][]byte {
	var out [][]byte
	for _, m := range l.msgs {
		for i := range m.iovs {
			e := &m.iovs[i]
			if !e.done() {
				out = append(out, e.remaining())
			}
		}
	}
	return out
}

// Advance marks n bytes as sent, consuming completed iovEntry records
// from the front and adjusting a partially-sent entry's base/length in
// place (spec.md §4.2 "On every successful send, completed iovs are
// consumed from the pipe; partial iovs are adjusted in place").
func (l *OutputList) Advance(n int) {
	for n > 0 && len(l.msgs) > 0 {
		m := l.msgs[0]
		for len(m.iovs) > 0 && n > 0 {
			e := &m.iovs[0]
			left := len(e.buf) - e.off
			if n >= left {
				n -= left
				m.iovs = m.iovs[1:]
			} else {
				e.off += n
				n = 0
			}
		}
		if len(m.iovs) == 0 {
			l.msgs = l.msgs[1:]
		}
	}
}

// ShrinkToFit drops the backing slice once every msghdr has drained,
// matching Pipe's between-request shrink discipline (spec.md §4.2).
func (l *OutputList) ShrinkToFit() {
	if len(l.msgs) == 0 && cap(l.msgs) > highWatermarkMultiplier {
		l.msgs = nil
	}
}
