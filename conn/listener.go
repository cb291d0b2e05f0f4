package conn

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"

	"github.com/NVIDIA/kvcore/kverr"
	"github.com/NVIDIA/kvcore/kvlog"
	"github.com/NVIDIA/kvcore/tlsio"
	"github.com/pkg/errors"
)

// Listener accepts raw TCP connections, wraps each as a Connection per
// opts, and hands it to a WorkerPool for the rest of its life (spec.md
// §3 "accept", §4.2 "new -> ssl_init|read").
type Listener struct {
	ln   net.Listener
	opts Options
	pool *WorkerPool
}

// NewListener binds addr and prepares a Listener that will assign
// accepted connections to pool using opts as the per-connection
// template (opts.TLSConfig is resolved into a *tls.Config per accept,
// by buildTLSConfig).
func NewListener(addr string, opts Options, pool *WorkerPool) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "conn: listen %s", addr)
	}
	return &Listener{ln: ln, opts: opts, pool: pool}, nil
}

// Addr reports the bound address (useful when addr was "host:0").
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve accepts connections until the listener is closed, assigning
// each to l.pool. It returns nil on a clean Close, and any other
// accept error otherwise.
func (l *Listener) Serve() error {
	for {
		raw, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "conn: accept")
		}
		c := NewConnection(raw, l.opts)
		if l.opts.RequireTLS {
			cfg, err := buildTLSConfig(l.opts)
			if err != nil {
				kvlog.Errorf("conn %d: tls config: %v", c.id, err)
				raw.Close()
				continue
			}
			c.tls = tlsio.Server(raw, cfg)
		}
		l.pool.Assign(c)
	}
}

// buildTLSConfig materializes a *tls.Config from the listener's
// TLSConfig file paths. It's resolved fresh per accept so a rotated
// certificate on disk (spec.md §6 "certificate rotation") takes effect
// for the next handshake without restarting the listener.
func buildTLSConfig(opts Options) (*tls.Config, error) {
	if opts.TLSConfig == nil {
		return nil, kverr.Wrap(kverr.BadParam, nil, "tls required but no TLSConfig supplied")
	}
	cert, err := tls.LoadX509KeyPair(opts.TLSConfig.CertFile, opts.TLSConfig.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "conn: load tls keypair")
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	if opts.TLSConfig.CAFile != "" {
		pem, err := os.ReadFile(opts.TLSConfig.CAFile)
		if err != nil {
			return nil, errors.Wrap(err, "conn: read ca file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, kverr.Wrap(kverr.BadParam, nil, "ca file has no usable certificates")
		}
		cfg.ClientCAs = pool
		switch opts.ClientCertMode {
		case tlsio.ClientCertMandatory:
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		case tlsio.ClientCertEnabled:
			cfg.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}
	return cfg, nil
}
