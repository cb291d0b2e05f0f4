package conn

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/NVIDIA/kvcore/kverr"
	"github.com/NVIDIA/kvcore/tlsio"
)

type readStatus uint8

const (
	readOK readStatus = iota
	readWouldBlock
	readClosed
)

// socketRead pulls from the socket (or the TLS pipe) into buf without
// blocking the reactor thread: the underlying fd already has readiness
// confirmed by epoll before Step is invoked, but a zero-duration
// deadline is still armed here as a safety net for the direct-TCP path
// and for tests that drive Step without a reactor (spec.md §4.2
// "read... yields to parse_cmd when at least one request header is
// available").
func (c *Connection) socketRead(buf []byte) (int, readStatus, error) {
	if len(buf) == 0 {
		return 0, readWouldBlock, nil
	}
	if c.tls != nil {
		n, st := c.tls.Read(buf)
		switch st {
		case tlsio.Complete:
			return n, readOK, nil
		case tlsio.WouldBlockRead, tlsio.WouldBlockWrite:
			return n, readWouldBlock, nil
		case tlsio.Closed:
			return n, readClosed, nil
		default:
			return n, readOK, kverr.Wrap(kverr.Disconnect, nil, "tls read failed")
		}
	}

	c.raw.SetReadDeadline(time.Now())
	n, err := c.raw.Read(buf)
	c.raw.SetReadDeadline(time.Time{})
	if err == nil {
		return n, readOK, nil
	}
	if n > 0 {
		return n, readOK, nil
	}
	if isTimeout(err) {
		return 0, readWouldBlock, nil
	}
	if errors.Is(err, io.EOF) {
		return 0, readClosed, nil
	}
	return 0, readOK, kverr.Wrap(kverr.Disconnect, err, "socket read failed")
}

// socketWrite sends buffers (scatter/gather) through the TLS pipe or
// directly via net.Buffers.WriteTo, which Go's runtime turns into a
// single writev(2) for a *net.TCPConn (spec.md §4.2 "write... calls
// scatter-gather send").
func (c *Connection) socketWrite(buffers [][]byte) (int, readStatus, error) {
	if len(buffers) == 0 {
		return 0, readOK, nil
	}
	if c.tls != nil {
		total := 0
		for _, b := range buffers {
			n, st := c.tls.Write(b)
			total += n
			switch st {
			case tlsio.Complete:
				continue
			case tlsio.WouldBlockWrite, tlsio.WouldBlockRead:
				return total, readWouldBlock, nil
			default:
				return total, readOK, kverr.Wrap(kverr.Disconnect, nil, "tls write failed")
			}
		}
		return total, readOK, nil
	}

	c.raw.SetWriteDeadline(time.Now().Add(0))
	nb := net.Buffers(buffers)
	n, err := nb.WriteTo(c.raw)
	c.raw.SetWriteDeadline(time.Time{})
	if err == nil {
		return int(n), readOK, nil
	}
	if n > 0 {
		return int(n), readOK, nil
	}
	if isTimeout(err) {
		return 0, readWouldBlock, nil
	}
	return 0, readOK, kverr.Wrap(kverr.Disconnect, err, "socket write failed")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
