/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package admin

import (
	"testing"
	"time"

	"github.com/NVIDIA/kvcore/userdb"
	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
)

func testServer(t *testing.T, key []byte) *Server {
	t.Helper()
	db := userdb.NewStatic(map[string]userdb.Record{"alice": {Username: "alice"}})
	return New(":0", key, db, prometheus.NewRegistry())
}

func signedToken(t *testing.T, key []byte) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestAuthorizeNoKeyDisablesCheck(t *testing.T) {
	s := testServer(t, nil)
	ctx := &fasthttp.RequestCtx{}
	if !s.authorize(ctx) {
		t.Fatal("expected authorize to pass with no signing key configured")
	}
}

func TestAuthorizeRejectsMissingHeader(t *testing.T) {
	s := testServer(t, []byte("secret"))
	ctx := &fasthttp.RequestCtx{}
	if s.authorize(ctx) {
		t.Fatal("expected authorize to fail without an Authorization header")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", ctx.Response.StatusCode())
	}
}

func TestAuthorizeAcceptsValidToken(t *testing.T) {
	key := []byte("secret")
	s := testServer(t, key)
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Authorization", "Bearer "+signedToken(t, key))
	if !s.authorize(ctx) {
		t.Fatalf("expected authorize to pass, got status %d", ctx.Response.StatusCode())
	}
}

func TestAuthorizeRejectsWrongKey(t *testing.T) {
	s := testServer(t, []byte("secret"))
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Authorization", "Bearer "+signedToken(t, []byte("wrong-key")))
	if s.authorize(ctx) {
		t.Fatal("expected authorize to fail with a token signed by a different key")
	}
}
