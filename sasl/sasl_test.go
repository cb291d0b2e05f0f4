package sasl

import "testing"

func TestPlainMechanismSuccess(t *testing.T) {
	db := NewStaticPasswordDB()
	db.SetPlain("alice", "hunter2")
	sess := NewSession(db, []Mechanism{PlainMechanism{}}, nil)

	res, _, err := sess.Start("PLAIN", []byte("\x00alice\x00hunter2"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res != Ok {
		t.Fatalf("Start result = %v, want Ok", res)
	}
	if sess.Username() != "alice" {
		t.Fatalf("Username = %q, want alice", sess.Username())
	}
}

func TestPlainMechanismBadPassword(t *testing.T) {
	db := NewStaticPasswordDB()
	db.SetPlain("alice", "hunter2")
	sess := NewSession(db, []Mechanism{PlainMechanism{}}, nil)

	res, _, err := sess.Start("PLAIN", []byte("\x00alice\x00wrong"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res != Fail {
		t.Fatalf("Start result = %v, want Fail", res)
	}
}

func TestUnknownMechanism(t *testing.T) {
	db := NewStaticPasswordDB()
	sess := NewSession(db, []Mechanism{PlainMechanism{}}, nil)
	if _, _, err := sess.Start("GSSAPI", nil); err == nil {
		t.Fatal("expected error for unknown mechanism")
	}
}

func TestMechanismList(t *testing.T) {
	db := NewStaticPasswordDB()
	sess := NewSession(db, []Mechanism{PlainMechanism{}, ScramSHA256Mechanism{}}, nil)
	list := sess.MechanismList("", " ", "")
	if len(list) == 0 {
		t.Fatal("expected non-empty mechanism list")
	}
}

func TestScramSHA256RoundTrip(t *testing.T) {
	salt := []byte("fixed-salt-for-test")
	creds := DeriveScramCreds("s3cr3t", salt, 4096)
	db := NewStaticPasswordDB()
	db.SetScram("bob", creds)

	serverNonce := "server-fixed-nonce"
	sess := NewSession(db, []Mechanism{ScramSHA256Mechanism{}}, func() string { return serverNonce })

	clientNonce := "client-fixed-nonce"
	res, serverFirst, err := sess.Start("SCRAM-SHA-256", []byte("n,,n=bob,r="+clientNonce))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res != Continue {
		t.Fatalf("Start result = %v, want Continue", res)
	}

	fields := parseScram(string(serverFirst))
	if fields["r"] != clientNonce+serverNonce {
		t.Fatalf("combined nonce = %q", fields["r"])
	}

	// Compute the client's proof the way a real client library would:
	// derive SaltedPassword/ClientKey itself and sign the auth message.
	saltedPassword := pbkdf2Key("s3cr3t", salt, 4096)
	clientKey := hmacSum(saltedPassword, []byte("Client Key"))
	clientFinalWithoutProof := "c=biws,r=" + clientNonce + serverNonce
	authMessage := "n=bob,r=" + clientNonce + "," + string(serverFirst) + "," + clientFinalWithoutProof
	storedKey := sha256Sum(clientKey)
	clientSignature := hmacSum(storedKey, []byte(authMessage))
	proof := xorBytes(clientKey, clientSignature)

	finalRes, serverFinal, err := sess.Step([]byte(clientFinalWithoutProof + ",p=" + b64(proof)))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if finalRes != Ok {
		t.Fatalf("Step result = %v, want Ok, server said %s", finalRes, serverFinal)
	}
	if sess.Username() != "bob" {
		t.Fatalf("Username = %q, want bob", sess.Username())
	}
}
