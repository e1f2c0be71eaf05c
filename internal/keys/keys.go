// Package keys derives purpose-bound subkeys from one master secret.
package keys

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Purposes of derived keys. Changing a label rotates every key derived
// for it.
const (
	PurposeCookieSignature = "clinicguard/cookie-signature/v1"
	PurposeOriginHash      = "clinicguard/origin-hash/v1"
)

// MinMasterLength is the shortest accepted master secret.
const MinMasterLength = 32

// Set holds the subkeys the engine needs.
type Set struct {
	CookieSignature []byte
	OriginHash      []byte
}

// Derive returns n bytes of HKDF-SHA256 output for purpose.
func Derive(master []byte, purpose string, n int) ([]byte, error) {
	if len(master) < MinMasterLength {
		return nil, errors.New("master secret must be at least 32 bytes")
	}
	if purpose == "" || n <= 0 {
		return nil, errors.New("purpose and length are required")
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(purpose)), out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveSet derives every engine subkey from master.
func DeriveSet(master []byte) (Set, error) {
	cookie, err := Derive(master, PurposeCookieSignature, 32)
	if err != nil {
		return Set{}, err
	}
	origin, err := Derive(master, PurposeOriginHash, 32)
	if err != nil {
		return Set{}, err
	}
	return Set{CookieSignature: cookie, OriginHash: origin}, nil
}
