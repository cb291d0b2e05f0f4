// Package tlsio implements the TlsChannel envelope (spec.md §4.2 "TLS
// read/write", §6 "TLS"): a non-blocking-driven TLS session plumbed
// into the connection engine's read/write loop. Go's crypto/tls has no
// direct equivalent of OpenSSL's memory-BIO pair, so would-block is
// emulated with a zero-duration I/O deadline on the underlying
// net.Conn rather than draining an explicit ciphertext buffer — the
// same cooperative-suspension contract the reactor expects (spec.md §4.2
// "Coroutine-style suspension"), expressed with what the standard
// library actually gives a non-blocking TCP-style reactor.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package tlsio

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/NVIDIA/kvcore/kverr"
)

// Status is the outcome of one Handshake/Read/Write attempt.
type Status uint8

const (
	Complete Status = iota
	WouldBlockRead
	WouldBlockWrite
	Closed
	Failed
)

// bioDrainBufferSize chunks Write calls so a single oversized send
// doesn't starve the handshake loop of a chance to observe WANT_WRITE,
// matching spec.md §4.2's chunked write discipline.
const bioDrainBufferSize = 16 * 1024

// Channel wraps one TLS session over an accepted net.Conn.
type Channel struct {
	conn          *tls.Conn
	handshakeDone bool
	clientCert    *x509.Certificate
}

// ClientCertMode mirrors spec.md §6's three X.509 client-certificate
// policies.
type ClientCertMode uint8

const (
	ClientCertDisabled ClientCertMode = iota
	ClientCertEnabled
	ClientCertMandatory
)

// Server wraps raw as a TLS server-side Channel using cfg. The caller
// must still drive Handshake() to completion before Read/Write.
func Server(raw net.Conn, cfg *tls.Config) *Channel {
	return &Channel{conn: tls.Server(raw, cfg)}
}

// Handshake advances the TLS handshake without blocking: it arms a
// zero-duration deadline on the underlying connection so a read that
// would otherwise block instead surfaces as WouldBlockRead/Write, which
// the caller's state machine re-arms readiness for and revisits
// (spec.md §4.2 "ssl_init").
func (c *Channel) Handshake() Status {
	if c.handshakeDone {
		return Complete
	}
	c.conn.SetDeadline(time.Now())
	err := c.conn.HandshakeContext(context.Background())
	c.conn.SetDeadline(time.Time{})
	if err == nil {
		c.handshakeDone = true
		if state := c.conn.ConnectionState(); len(state.PeerCertificates) > 0 {
			c.clientCert = state.PeerCertificates[0]
		}
		return Complete
	}
	if isTimeout(err) {
		return WouldBlockRead
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return WouldBlockRead
	}
	return Failed
}

// Read decrypts and returns up to len(buf) plaintext bytes. A
// WANT_READ with no buffered ciphertext left surfaces as
// WouldBlockRead; a clean TLS close_notify surfaces as Closed (spec.md
// §4.2 "Read loop").
func (c *Channel) Read(buf []byte) (int, Status) {
	c.conn.SetReadDeadline(time.Now())
	n, err := c.conn.Read(buf)
	c.conn.SetReadDeadline(time.Time{})
	if err == nil {
		return n, Complete
	}
	if n > 0 {
		return n, Complete
	}
	if isTimeout(err) {
		return 0, WouldBlockRead
	}
	if errors.Is(err, io.EOF) {
		return 0, Closed
	}
	return 0, Failed
}

// Write encrypts and sends buf in bioDrainBufferSize chunks, forcing a
// final flush so the caller's transmit loop never reports "complete"
// while ciphertext remains buffered in the record layer (spec.md §4.2
// "Write loop").
func (c *Channel) Write(buf []byte) (int, Status) {
	total := 0
	for total < len(buf) {
		end := total + bioDrainBufferSize
		if end > len(buf) {
			end = len(buf)
		}
		c.conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := c.conn.Write(buf[total:end])
		c.conn.SetWriteDeadline(time.Time{})
		total += n
		if err != nil {
			if isTimeout(err) {
				return total, WouldBlockWrite
			}
			return total, Failed
		}
	}
	return total, Complete
}

// Close tears down the TLS session and its underlying connection.
func (c *Channel) Close() error { return c.conn.Close() }

// ClientCertificate returns the peer certificate presented during the
// handshake, if any.
func (c *Channel) ClientCertificate() (*x509.Certificate, bool) {
	return c.clientCert, c.clientCert != nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// MapResult is the outcome of mapping a client certificate to a
// username (spec.md §6 "Certificate -> username mapping").
type MapResult uint8

const (
	MapSuccess MapResult = iota
	MapNoMatch
	MapNotPresent
	MapError
)

// X509Mapper resolves a peer certificate to a username, the contract
// spec.md §6 attributes to "the x509 config".
type X509Mapper interface {
	MapUsername(cert *x509.Certificate) (string, MapResult)
}

// CommonNameMapper is the simplest X509Mapper: the username is the
// certificate's subject common name.
type CommonNameMapper struct{}

func (CommonNameMapper) MapUsername(cert *x509.Certificate) (string, MapResult) {
	if cert == nil {
		return "", MapNotPresent
	}
	if cert.Subject.CommonName == "" {
		return "", MapNoMatch
	}
	return cert.Subject.CommonName, MapSuccess
}

// ResolveClientIdentity applies mode and mapper to a completed
// handshake's client certificate, implementing the ssl_init transition
// rule: "if the listener requires a client cert and none is present ->
// disconnect" (spec.md §4.2).
func ResolveClientIdentity(mode ClientCertMode, ch *Channel, mapper X509Mapper) (username string, disconnect bool, err error) {
	cert, present := ch.ClientCertificate()
	switch mode {
	case ClientCertDisabled:
		return "", false, nil
	case ClientCertMandatory:
		if !present {
			return "", true, kverr.Wrap(kverr.Disconnect, nil, "client certificate required but absent")
		}
	case ClientCertEnabled:
		if !present {
			return "", false, nil
		}
	}
	name, res := mapper.MapUsername(cert)
	switch res {
	case MapSuccess:
		return name, false, nil
	case MapNotPresent:
		return "", mode == ClientCertMandatory, nil
	case MapNoMatch:
		return "", mode == ClientCertMandatory, nil
	default:
		return "", true, kverr.Wrap(kverr.Disconnect, nil, "client certificate mapping error")
	}
}
