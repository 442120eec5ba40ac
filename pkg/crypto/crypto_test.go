package crypto

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestDeriveTopic(t *testing.T) {
	t1, err := DeriveTopic("swarmchat")
	if err != nil {
		t.Fatal(err)
	}
	t2, err := DeriveTopic("swarmchat")
	if err != nil {
		t.Fatal(err)
	}
	if t1 != t2 {
		t.Errorf("derivation unstable: %s vs %s", t1, t2)
	}

	if !strings.HasPrefix(t1, "0x") || len(t1) != 2+2*TopicLength {
		t.Errorf("unexpected topic shape: %s", t1)
	}

	t3, _ := DeriveTopic("swarmchat2")
	if t3 == t1 {
		t.Errorf("distinct inputs collided: %s", t1)
	}
}

func TestKeyPairPEMRoundTrip(t *testing.T) {
	kp, err := GenerateBoxKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	restored, err := ImportPrivateKeyPEM(kp.ExportPrivateKeyPEM())
	if err != nil {
		t.Fatal(err)
	}

	if restored.Private != kp.Private {
		t.Error("private key changed through PEM round trip")
	}
	if restored.Public != kp.Public {
		t.Error("public key not rederived correctly")
	}
}

func TestParsePublicKeyHex(t *testing.T) {
	kp, err := GenerateBoxKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParsePublicKeyHex(kp.PublicKeyHex())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != kp.Public {
		t.Error("parsed key differs from original")
	}

	bad := []string{"", "0x", "0xzz", "0xabcd", "not hex"}
	for _, input := range bad {
		if _, err := ParsePublicKeyHex(input); err == nil {
			t.Errorf("ParsePublicKeyHex(%q) accepted", input)
		}
	}
}

func TestSealOpen(t *testing.T) {
	alice, err := GenerateBoxKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	bob, err := GenerateBoxKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	eve, err := GenerateBoxKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	plain := []byte("the shared topic is 0x01020304")
	sealed, err := Seal(plain, bob.Public, alice)
	if err != nil {
		t.Fatal(err)
	}

	opened, err := Open(sealed, alice.Public, bob)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, plain) {
		t.Errorf("opened = %q, want %q", opened, plain)
	}

	// wrong recipient cannot open
	if _, err := Open(sealed, alice.Public, eve); err == nil {
		t.Error("eavesdropper opened the box")
	}
	// wrong claimed sender fails authentication
	if _, err := Open(sealed, eve.Public, bob); err == nil {
		t.Error("sender forgery accepted")
	}
	// truncated input
	if _, err := Open(sealed[:10], alice.Public, bob); err == nil {
		t.Error("truncated box accepted")
	}
}

func TestLoadOrGenerateKeyPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.pem")

	first, err := LoadOrGenerateKeyPair(path)
	if err != nil {
		t.Fatal(err)
	}

	second, err := LoadOrGenerateKeyPair(path)
	if err != nil {
		t.Fatal(err)
	}

	if first.Private != second.Private {
		t.Error("identity not stable across loads")
	}
}
