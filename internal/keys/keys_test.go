package keys

import (
	"bytes"
	"testing"
)

func TestDeriveIsDeterministicAndPurposeBound(t *testing.T) {
	master := bytes.Repeat([]byte{7}, 32)

	a, err := Derive(master, PurposeCookieSignature, 32)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, _ := Derive(master, PurposeCookieSignature, 32)
	if !bytes.Equal(a, b) {
		t.Fatal("expected deterministic output")
	}
	c, _ := Derive(master, PurposeOriginHash, 32)
	if bytes.Equal(a, c) {
		t.Fatal("expected distinct keys per purpose")
	}

	set, err := DeriveSet(master)
	if err != nil {
		t.Fatalf("derive set: %v", err)
	}
	if !bytes.Equal(set.CookieSignature, a) || !bytes.Equal(set.OriginHash, c) {
		t.Fatal("set does not match individual derivations")
	}
}

func TestDeriveRejectsShortMaster(t *testing.T) {
	if _, err := Derive([]byte("short"), PurposeOriginHash, 32); err == nil {
		t.Fatal("expected error for short master secret")
	}
	if _, err := Derive(bytes.Repeat([]byte{1}, 32), "", 32); err == nil {
		t.Fatal("expected error for empty purpose")
	}
}
