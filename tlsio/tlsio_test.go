package tlsio

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"
)

func selfSignedCert(t *testing.T, cn string) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// TestHandshakeAndRoundTrip drives the server side through the
// deadline-emulated non-blocking API while a real tls.Client talks to
// it over a loopback TCP socket — real sockets (unlike net.Pipe's
// unbuffered rendezvous) actually buffer, so a would-block retry loop
// behaves the way it would against a real non-blocking fd.
func TestHandshakeAndRoundTrip(t *testing.T) {
	serverCert := selfSignedCert(t, "kvcore-node")
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

	clientRaw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientRaw.Close()
	serverRaw := <-accepted
	defer serverRaw.Close()

	serverCfg := &tls.Config{Certificates: []tls.Certificate{serverCert}}
	clientCfg := &tls.Config{InsecureSkipVerify: true}

	serverCh := Server(serverRaw, serverCfg)
	clientConn := tls.Client(clientRaw, clientCfg)

	done := make(chan error, 1)
	go func() { done <- clientConn.Handshake() }()

	for i := 0; i < 1000; i++ {
		st := serverCh.Handshake()
		if st == Complete {
			break
		}
		if st == Failed {
			t.Fatalf("server handshake failed")
		}
		time.Sleep(time.Millisecond)
	}
	if err := <-done; err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	msg := []byte("hello over tls")
	go clientConn.Write(msg)

	buf := make([]byte, 64)
	var n int
	for i := 0; i < 1000; i++ {
		got, st := serverCh.Read(buf)
		if got > 0 {
			n = got
			break
		}
		if st == Failed || st == Closed {
			t.Fatalf("server read status=%v", st)
		}
		time.Sleep(time.Millisecond)
	}
	if string(buf[:n]) != string(msg) {
		t.Fatalf("read %q, want %q", buf[:n], msg)
	}
}

func TestResolveClientIdentityMandatoryWithoutCert(t *testing.T) {
	ch := &Channel{}
	_, disconnect, err := ResolveClientIdentity(ClientCertMandatory, ch, CommonNameMapper{})
	if !disconnect || err == nil {
		t.Fatalf("expected mandatory mode with no cert to disconnect with error")
	}
}

func TestResolveClientIdentityDisabled(t *testing.T) {
	ch := &Channel{}
	username, disconnect, err := ResolveClientIdentity(ClientCertDisabled, ch, CommonNameMapper{})
	if disconnect || err != nil || username != "" {
		t.Fatalf("disabled mode should never inspect the cert")
	}
}
