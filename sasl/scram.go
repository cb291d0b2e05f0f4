package sasl

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// ScramCreds is what the password database stores per user for
// SCRAM-SHA-256 instead of a plaintext password: a salt, an iteration
// count, and the two derived keys a server needs to verify a client's
// proof and sign its own (RFC 5802 §3).
type ScramCreds struct {
	Salt       []byte
	Iterations int
	StoredKey  []byte // H(ClientKey)
	ServerKey  []byte // HMAC(SaltedPassword, "Server Key")
}

// DeriveScramCreds computes the credential triple a password database
// would store for password, for use by test fixtures and the reference
// userdb adapter's provisioning path.
func DeriveScramCreds(password string, salt []byte, iterations int) ScramCreds {
	salted := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
	clientKey := hmacSum(salted, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	serverKey := hmacSum(salted, []byte("Server Key"))
	return ScramCreds{Salt: salt, Iterations: iterations, StoredKey: storedKey[:], ServerKey: serverKey}
}

func hmacSum(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}

// ScramSHA256Mechanism implements SCRAM-SHA-256 (RFC 5802/7677).
type ScramSHA256Mechanism struct{}

func (ScramSHA256Mechanism) Name() string { return "SCRAM-SHA-256" }

func (ScramSHA256Mechanism) NewStep(pw PasswordLookup, cnonce func() string) Step {
	return &scramStep{pw: pw, serverNonceFn: cnonce, stage: stageClientFirst}
}

type scramStage uint8

const (
	stageClientFirst scramStage = iota
	stageClientFinal
	stageDone
)

type scramStep struct {
	pw            PasswordLookup
	serverNonceFn func() string
	stage         scramStage

	username       string
	clientNonce    string
	serverNonce    string
	clientFirstBare string
	serverFirst    string
	creds          ScramCreds
}

func (s *scramStep) Username() string { return s.username }

func (s *scramStep) Step(payload []byte) (Result, []byte, error) {
	switch s.stage {
	case stageClientFirst:
		return s.handleClientFirst(payload)
	case stageClientFinal:
		return s.handleClientFinal(payload)
	default:
		return Fail, nil, nil
	}
}

func (s *scramStep) handleClientFirst(payload []byte) (Result, []byte, error) {
	msg := string(payload)
	msg = strings.TrimPrefix(msg, "n,,")
	fields := parseScram(msg)
	username, ok := fields["n"]
	if !ok {
		return Fail, nil, nil
	}
	clientNonce, ok := fields["r"]
	if !ok {
		return Fail, nil, nil
	}

	creds, ok := s.pw.ScramCredentials(username)
	if !ok {
		return Fail, nil, nil
	}

	s.username = username
	s.clientNonce = clientNonce
	s.clientFirstBare = msg
	s.creds = creds
	if s.serverNonceFn != nil {
		s.serverNonce = s.serverNonceFn()
	} else {
		s.serverNonce = randomNonce()
	}

	s.serverFirst = fmt.Sprintf("r=%s%s,s=%s,i=%d",
		clientNonce, s.serverNonce,
		base64.StdEncoding.EncodeToString(creds.Salt), creds.Iterations)
	s.stage = stageClientFinal
	return Continue, []byte(s.serverFirst), nil
}

func (s *scramStep) handleClientFinal(payload []byte) (Result, []byte, error) {
	msg := string(payload)
	fields := parseScram(msg)
	channelBinding, ok := fields["c"]
	if !ok {
		return Fail, nil, nil
	}
	combinedNonce, ok := fields["r"]
	if !ok || combinedNonce != s.clientNonce+s.serverNonce {
		return Fail, nil, nil
	}
	proofB64, ok := fields["p"]
	if !ok {
		return Fail, nil, nil
	}
	proof, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		return Fail, nil, nil
	}

	clientFinalWithoutProof := "c=" + channelBinding + ",r=" + combinedNonce
	authMessage := s.clientFirstBare + "," + s.serverFirst + "," + clientFinalWithoutProof

	clientSignature := hmacSum(s.creds.StoredKey, []byte(authMessage))
	clientKey := xorBytes(proof, clientSignature)
	gotStoredKey := sha256.Sum256(clientKey)
	if subtle.ConstantTimeCompare(gotStoredKey[:], s.creds.StoredKey) != 1 {
		return Fail, nil, nil
	}

	serverSignature := hmacSum(s.creds.ServerKey, []byte(authMessage))
	s.stage = stageDone
	return Ok, []byte("v=" + base64.StdEncoding.EncodeToString(serverSignature)), nil
}

func xorBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func parseScram(msg string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(msg, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

func randomNonce() string {
	var buf [18]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is a NoMem-class setup failure (spec.md §4.4
		// "Failure to initialize randomness... surfaces as NoMem"); fall
		// back to a value derived from the buffer's zero state rather
		// than panicking the negotiation.
		return hex.EncodeToString(buf[:])
	}
	return base64.RawURLEncoding.EncodeToString(buf[:])
}
