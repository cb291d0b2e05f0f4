package sasl

import "bytes"

// PlainMechanism implements RFC 4616 PLAIN: authzid\0authcid\0password,
// checked directly against PasswordLookup.Password — the one mechanism
// that does hand the server a cleartext password, which is why it
// should only be offered over an already-established TLS channel (the
// connection engine's job, not this package's, to enforce).
type PlainMechanism struct{}

func (PlainMechanism) Name() string { return "PLAIN" }

func (PlainMechanism) NewStep(pw PasswordLookup, _ func() string) Step {
	return &plainStep{pw: pw}
}

type plainStep struct {
	pw       PasswordLookup
	username string
}

func (p *plainStep) Step(payload []byte) (Result, []byte, error) {
	parts := bytes.SplitN(payload, []byte{0}, 3)
	if len(parts) != 3 {
		return Fail, nil, nil
	}
	username := string(parts[1])
	password := string(parts[2])

	want, ok := p.pw.Password(username)
	if !ok || want != password {
		return Fail, nil, nil
	}
	p.username = username
	return Ok, nil, nil
}

func (p *plainStep) Username() string { return p.username }
