// Package admin is the read-only stats/health HTTP surface
// (SPEC_FULL.md §3 domain-stack enrichment): a separate listener from
// the binary protocol port, serving liveness, a Prometheus scrape, and
// a userdb reload trigger, gated behind a JWT bearer token so it can
// safely sit on a more broadly reachable interface than the data port.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package admin

import (
	"encoding/json"
	"strings"

	"github.com/NVIDIA/kvcore/kvlog"
	"github.com/NVIDIA/kvcore/userdb"
	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Server is the admin HTTP surface, built on valyala/fasthttp (the
// teacher dependency fasthttp, go.mod) rather than net/http directly
// for the listener itself — the Prometheus handler, which is net/http
// shaped, is bridged in via fasthttpadaptor (part of the same module).
type Server struct {
	addr       string
	signingKey []byte
	db         userdb.Database
	gatherer   prometheus.Gatherer
	srv        *fasthttp.Server
}

// New builds an admin Server. signingKey validates the bearer token on
// every protected route (/metrics, /reload, /stats); an empty key disables auth
// entirely (only sensible for loopback-only deployments, e.g. tests).
func New(addr string, signingKey []byte, db userdb.Database, gatherer prometheus.Gatherer) *Server {
	s := &Server{addr: addr, signingKey: signingKey, db: db, gatherer: gatherer}
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	router := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/healthz":
			s.handleHealthz(ctx)
		case "/metrics":
			if s.authorize(ctx) {
				metricsHandler(ctx)
			}
		case "/reload":
			s.handleReload(ctx)
		case "/stats":
			s.handleStats(ctx)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
	s.srv = &fasthttp.Server{Handler: router, Name: "kvcore-admin"}
	return s
}

// ListenAndServe blocks serving the admin surface until the listener
// is closed via Shutdown.
func (s *Server) ListenAndServe() error {
	kvlog.Infof("admin: listening on %s", s.addr)
	return s.srv.ListenAndServe(s.addr)
}

// Shutdown gracefully stops the admin listener.
func (s *Server) Shutdown() error { return s.srv.Shutdown() }

func (s *Server) handleHealthz(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("ok")
}

// handleReload triggers a re-read of the backing userdb store
// (spec.md §4.3 "the database may be reloaded at any time"), used
// operationally after an out-of-band role-database edit instead of
// waiting for the node's own polling interval, if any.
func (s *Server) handleReload(ctx *fasthttp.RequestCtx) {
	if !s.authorize(ctx) {
		return
	}
	if !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}
	reloadable, ok := s.db.(userdb.Reloadable)
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotImplemented)
		ctx.SetBodyString("userdb backend does not support reload")
		return
	}
	if err := reloadable.Reload(); err != nil {
		kvlog.Errorf("admin: reload failed: %v", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(err.Error())
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	json.NewEncoder(ctx).Encode(map[string]uint64{"generation": s.db.Generation()})
}

func (s *Server) handleStats(ctx *fasthttp.RequestCtx) {
	if !s.authorize(ctx) {
		return
	}
	json.NewEncoder(ctx).Encode(map[string]uint64{"userdb_generation": s.db.Generation()})
}

// authorize validates the Authorization: Bearer <jwt> header against
// signingKey; an empty signingKey disables the check entirely. On
// failure it writes the response itself and returns false so the
// caller can simply `if !s.authorize(ctx) { return }`.
func (s *Server) authorize(ctx *fasthttp.RequestCtx) bool {
	if len(s.signingKey) == 0 {
		return true
	}
	auth := string(ctx.Request.Header.Peek("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		return false
	}
	raw := strings.TrimPrefix(auth, prefix)
	_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.signingKey, nil
	})
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString(err.Error())
		return false
	}
	return true
}
