package jwt

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Supported algorithm names as they appear in the JOSE header.
const (
	AlgHS256 = "HS256"
	AlgHS384 = "HS384"
	AlgHS512 = "HS512"
	AlgRS256 = "RS256"
	AlgES256 = "ES256"
	AlgEdDSA = "EdDSA"
)

var supportedMethods = map[string]jwt.SigningMethod{
	AlgHS256: jwt.SigningMethodHS256,
	AlgHS384: jwt.SigningMethodHS384,
	AlgHS512: jwt.SigningMethodHS512,
	AlgRS256: jwt.SigningMethodRS256,
	AlgES256: jwt.SigningMethodES256,
	AlgEdDSA: jwt.SigningMethodEdDSA,
}

// SupportedAlgorithms returns the algorithms this package can verify.
func SupportedAlgorithms() []string {
	return []string{AlgHS256, AlgHS384, AlgHS512, AlgRS256, AlgES256, AlgEdDSA}
}

// IsSupported reports whether alg can be verified. "none" never is.
func IsSupported(alg string) bool {
	_, ok := supportedMethods[alg]
	return ok
}

// Key is a verification key bound to exactly one algorithm. SignKey is only
// set for keys that can also mint tokens.
type Key struct {
	ID        string
	Algorithm string
	VerifyKey any
	SignKey   any
}

// KeyStore resolves verification keys by kid. The empty kid selects the
// default key, if any.
type KeyStore interface {
	Lookup(kid string) (Key, bool)
}

// StaticKeys is an in-memory [KeyStore] safe for concurrent use. Keys can be
// added at runtime for rotation.
type StaticKeys struct {
	mu         sync.RWMutex
	keys       map[string]Key
	defaultKID string
}

// NewStaticKeys builds a key store. The first key becomes the default for
// tokens without a kid.
func NewStaticKeys(keys ...Key) (*StaticKeys, error) {
	s := &StaticKeys{keys: make(map[string]Key, len(keys))}
	for i, k := range keys {
		if err := s.Add(k); err != nil {
			return nil, err
		}
		if i == 0 {
			s.defaultKID = k.ID
		}
	}
	return s, nil
}

// Add registers or replaces a key.
func (s *StaticKeys) Add(k Key) error {
	if !IsSupported(k.Algorithm) {
		return fmt.Errorf("key %q: unsupported algorithm %q", k.ID, k.Algorithm)
	}
	if k.VerifyKey == nil {
		return fmt.Errorf("key %q: missing verify key", k.ID)
	}
	s.mu.Lock()
	s.keys[k.ID] = k
	s.mu.Unlock()
	return nil
}

// Remove retires a key.
func (s *StaticKeys) Remove(kid string) {
	s.mu.Lock()
	delete(s.keys, kid)
	s.mu.Unlock()
}

// Lookup implements [KeyStore].
func (s *StaticKeys) Lookup(kid string) (Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if kid == "" {
		kid = s.defaultKID
	}
	k, ok := s.keys[kid]
	return k, ok
}

// NewHMACKey returns a shared-secret key for HS256/384/512.
func NewHMACKey(kid, alg string, secret []byte) (Key, error) {
	switch alg {
	case AlgHS256, AlgHS384, AlgHS512:
	default:
		return Key{}, fmt.Errorf("algorithm %q is not an HMAC algorithm", alg)
	}
	if len(secret) < 32 {
		return Key{}, errors.New("hmac secret must be at least 32 bytes")
	}
	return Key{ID: kid, Algorithm: alg, VerifyKey: secret, SignKey: secret}, nil
}

// NewEd25519Key returns an EdDSA key. priv may be nil for verify-only keys.
// Both raw key bytes and PEM are accepted.
func NewEd25519Key(kid string, pub, priv []byte) (Key, error) {
	k := Key{ID: kid, Algorithm: AlgEdDSA}
	if len(priv) > 0 {
		edPriv, err := parseEdPrivateKey(priv)
		if err != nil {
			return Key{}, err
		}
		k.SignKey = edPriv
		k.VerifyKey = edPriv.Public().(ed25519.PublicKey)
	}
	if len(pub) > 0 {
		edPub, err := parseEdPublicKey(pub)
		if err != nil {
			return Key{}, err
		}
		k.VerifyKey = edPub
	}
	if k.VerifyKey == nil {
		return Key{}, errors.New("ed25519 key requires public or private key")
	}
	return k, nil
}

// NewRSAKey returns an RS256 verify-only key from PEM.
func NewRSAKey(kid string, pemBytes []byte) (Key, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return Key{}, errors.New("invalid rsa public key")
	}
	return Key{ID: kid, Algorithm: AlgRS256, VerifyKey: pub}, nil
}

// NewRSASigningKey returns an RS256 key that can sign.
func NewRSASigningKey(kid string, priv *rsa.PrivateKey) Key {
	return Key{ID: kid, Algorithm: AlgRS256, VerifyKey: &priv.PublicKey, SignKey: priv}
}

// NewECDSAKey returns an ES256 verify-only key from PEM.
func NewECDSAKey(kid string, pemBytes []byte) (Key, error) {
	pub, err := jwt.ParseECPublicKeyFromPEM(pemBytes)
	if err != nil {
		return Key{}, errors.New("invalid ecdsa public key")
	}
	return Key{ID: kid, Algorithm: AlgES256, VerifyKey: pub}, nil
}

// NewECDSASigningKey returns an ES256 key that can sign.
func NewECDSASigningKey(kid string, priv *ecdsa.PrivateKey) Key {
	return Key{ID: kid, Algorithm: AlgES256, VerifyKey: &priv.PublicKey, SignKey: priv}
}

// ParseAlgorithms normalizes a configured allow-list and rejects unknown
// names, including every spelling of "none".
func ParseAlgorithms(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if strings.EqualFold(n, "none") {
			return nil, errors.New(`algorithm "none" cannot be allowed`)
		}
		if !IsSupported(n) {
			return nil, fmt.Errorf("unsupported algorithm %q", n)
		}
		out = append(out, n)
	}
	return out, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
