// Package sasl implements the SaslSession boundary contract (spec.md
// §4.4): start/step negotiation plus a small set of mechanisms. SCRAM
// consults the password database only for salts/digests; PLAIN compares
// the client's password with a plaintext password it looks up through
// PasswordLookup.Password.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package sasl

import (
	"strings"

	"github.com/NVIDIA/kvcore/kverr"
	"github.com/pkg/errors"
)

// Result is the tri-state (plus OutBytes) a start/step call returns
// (spec.md §4.4).
type Result uint8

const (
	Continue Result = iota
	Ok
	Fail
)

// ErrBadMechanism is returned by NewSession for an unrecognized
// mechanism name (spec.md §6 "Unknown mechanism -> BADPARAM").
var ErrBadMechanism = errors.New("sasl: unknown mechanism")

// PasswordLookup resolves a username to whatever secret material a
// mechanism needs (a plaintext password for PLAIN's verification step,
// or a stored SCRAM salt/iteration-count/digest triple for SCRAM) —
// the password database contract spec.md places out of scope beyond
// this boundary.
type PasswordLookup interface {
	Password(username string) (string, bool)
	ScramCredentials(username string) (ScramCreds, bool)
}

// Step drives one round of a mechanism's negotiation.
type Step interface {
	// Step consumes the client's payload for this round and returns the
	// result plus any bytes the server must send back.
	Step(clientPayload []byte) (Result, []byte, error)
	Username() string
}

// Mechanism constructs fresh Step instances for a named mechanism.
type Mechanism interface {
	Name() string
	NewStep(pw PasswordLookup, cnonce func() string) Step
}

// Session is one connection's SASL negotiation handle (spec.md §4.4).
// It is opaque to callers beyond Start/Step/Username.
type Session struct {
	pw       PasswordLookup
	cnonce   func() string
	mechs    map[string]Mechanism
	active   Step
	username string
}

// NewSession builds a Session that can negotiate any of mechs against
// pw. cnonce, if non-nil, overrides the random client-nonce generator
// a mechanism would otherwise use — SaslSession's optional
// cnonceCallback for deterministic tests (spec.md §4.4).
func NewSession(pw PasswordLookup, mechs []Mechanism, cnonce func() string) *Session {
	s := &Session{pw: pw, cnonce: cnonce, mechs: make(map[string]Mechanism, len(mechs))}
	for _, m := range mechs {
		s.mechs[strings.ToUpper(m.Name())] = m
	}
	return s
}

// MechanismList renders the mechanisms this Session supports as
// prefix + sep-joined-names + suffix (spec.md §6).
func (s *Session) MechanismList(prefix, sep, suffix string) string {
	names := make([]string, 0, len(s.mechs))
	for name := range s.mechs {
		names = append(names, name)
	}
	return prefix + strings.Join(names, sep) + suffix
}

// Start begins negotiation of mechanism with the client's first
// payload.
func (s *Session) Start(mechanism string, clientPayload []byte) (Result, []byte, error) {
	m, ok := s.mechs[strings.ToUpper(mechanism)]
	if !ok {
		return Fail, nil, kverr.Wrap(kverr.BadParam, errors.Wrap(ErrBadMechanism, mechanism), "sasl start")
	}
	s.active = m.NewStep(s.pw, s.cnonce)
	res, out, err := s.active.Step(clientPayload)
	if res == Ok {
		s.username = s.active.Username()
	}
	return res, out, err
}

// Step continues a negotiation already begun by Start.
func (s *Session) Step(clientPayload []byte) (Result, []byte, error) {
	if s.active == nil {
		return Fail, nil, kverr.Wrap(kverr.BadParam, nil, "sasl step before start")
	}
	res, out, err := s.active.Step(clientPayload)
	if res == Ok {
		s.username = s.active.Username()
	}
	return res, out, err
}

// Username reports the principal this session authenticated, once Ok.
func (s *Session) Username() string { return s.username }
