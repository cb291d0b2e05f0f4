package conn

import (
	"net"
	"testing"
	"time"

	"github.com/NVIDIA/kvcore/auth"
	"github.com/NVIDIA/kvcore/userdb"
	"github.com/NVIDIA/kvcore/wire"
)

// loopbackPair returns two ends of a real TCP connection, needed
// because socketRead/socketWrite arm zero-duration deadlines that
// net.Pipe's synchronous rendezvous semantics can't satisfy (see
// tlsio_test.go for the same reasoning).
func loopbackPair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	select {
	case server = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("accept timed out")
	}
	return server, client
}

// drive pumps Step until it yields (no more work without fresh I/O),
// retrying a bounded number of times so a genuine bug surfaces as a
// test failure instead of a hang.
func drive(t *testing.T, c *Connection) Outcome {
	t.Helper()
	for i := 0; i < 100000; i++ {
		switch o := c.Step(); o {
		case OutcomeContinue:
			continue
		default:
			return o
		}
	}
	t.Fatal("connection never yielded or closed")
	return OutcomeClosed
}

type echoEngine struct{}

func (echoEngine) Execute(cookie *Cookie, req Request) (Response, error) {
	return Response{Status: wire.StatusOK, Key: append([]byte(nil), req.Key...), Value: append([]byte(nil), req.Value...)}, nil
}

func encodeGetRequest(key string) []byte {
	body := []byte(key)
	hdr := wire.Header{
		Magic:   wire.MagicRequest,
		Opcode:  byte(wire.OpGet),
		KeyLen:  uint16(len(key)),
		BodyLen: uint32(len(body)),
	}
	buf := make([]byte, wire.HeaderLen+len(body))
	hdr.Encode(buf)
	copy(buf[wire.HeaderLen:], body)
	return buf
}

func readResponse(t *testing.T, client net.Conn) (wire.Header, []byte) {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	hdrBuf := make([]byte, wire.HeaderLen)
	if _, err := readFull(client, hdrBuf); err != nil {
		t.Fatalf("read response header: %v", err)
	}
	hdr, err := wire.ParseHeader(hdrBuf)
	if err != nil {
		t.Fatalf("parse response header: %v", err)
	}
	body := make([]byte, hdr.BodyLen)
	if _, err := readFull(client, body); err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return hdr, body
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestConnectionGetRoundTrip(t *testing.T) {
	server, client := loopbackPair(t)
	defer client.Close()

	c := NewConnection(server, Options{Engine: echoEngine{}})

	if _, err := client.Write(encodeGetRequest("k1")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	if o := drive(t, c); o != OutcomeYield {
		t.Fatalf("drive() = %v, want OutcomeYield (idle, waiting on next read)", o)
	}
	if c.State() != StateRead {
		t.Fatalf("state after roundtrip = %v, want %v", c.State(), StateRead)
	}

	hdr, body := readResponse(t, client)
	if wire.Status(hdr.VbucketOrStatus) != wire.StatusOK {
		t.Fatalf("response status = %#x, want OK", hdr.VbucketOrStatus)
	}
	if string(body) != "k1" {
		t.Fatalf("response body = %q, want %q", body, "k1")
	}
}

func TestConnectionMalformedHeaderNacksWithoutClosing(t *testing.T) {
	server, client := loopbackPair(t)
	defer client.Close()

	c := NewConnection(server, Options{Engine: echoEngine{}})

	bad := make([]byte, wire.HeaderLen)
	bad[0] = 0x00 // neither MagicRequest nor MagicResponse
	if _, err := client.Write(bad); err != nil {
		t.Fatalf("client write: %v", err)
	}

	drive(t, c)
	if c.State() == StateDestroyed || c.State() == StateClosing {
		t.Fatalf("malformed header should nack, not close; state = %v", c.State())
	}

	hdr, _ := readResponse(t, client)
	if wire.Status(hdr.VbucketOrStatus) != wire.StatusEinval {
		t.Fatalf("nack status = %#x, want EINVAL", hdr.VbucketOrStatus)
	}
}

func TestConnectionAuthStaleDisconnectsWithoutTransmitting(t *testing.T) {
	server, client := loopbackPair(t)
	defer client.Close()

	db := userdb.NewStatic(nil) // every Lookup fails -> Build always AuthStale
	mgr := auth.NewManager(db)
	c := NewConnection(server, Options{Engine: echoEngine{}, PrivManager: mgr})

	if _, err := client.Write(encodeGetRequest("k1")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	drive(t, c)
	if c.State() != StateDestroyed {
		t.Fatalf("state after exhausted AUTH_STALE retries = %v, want %v", c.State(), StateDestroyed)
	}

	client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, err := client.Read(make([]byte, 1))
	if n != 0 || err == nil {
		t.Fatalf("expected EOF with zero bytes (no transmission before disconnect), got n=%d err=%v", n, err)
	}
}

func TestConnectionRequestCloseDrainsOutstandingCookie(t *testing.T) {
	server, client := loopbackPair(t)
	defer client.Close()

	c := NewConnection(server, Options{Engine: echoEngine{}})
	cookie := NewCookie(byte(wire.OpGet), 1)
	cookie.ParkEWouldBlock()
	c.cookies = append(c.cookies, cookie)
	c.Retain() // simulate the engine holding a reference across the WOULDBLOCK

	c.RequestClose(nil)
	if o := drive(t, c); o != OutcomeYield {
		t.Fatalf("drive() with an outstanding EWOULDBLOCK cookie = %v, want OutcomeYield (pending_close)", o)
	}
	if c.State() != StatePendingClose {
		t.Fatalf("state = %v, want %v", c.State(), StatePendingClose)
	}

	cookie.NotifyComplete()
	c.Release()
	if o := drive(t, c); o != OutcomeClosed {
		t.Fatalf("drive() after cookie completes and refcount drops = %v, want OutcomeClosed", o)
	}
}
