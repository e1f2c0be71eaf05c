package jwt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultMaxLifetime bounds exp - iat.
const DefaultMaxLifetime = 24 * time.Hour

// Config controls token verification.
type Config struct {
	// Algorithms is the allow-list. Empty means every supported algorithm.
	Algorithms []string
	Issuers    []string
	Audiences  []string
	// AllowedRoles restricts the role claim. Empty accepts any non-empty role.
	AllowedRoles []string
	MaxLifetime  time.Duration
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	RequireKeyID bool
}

// Header is the decoded, unverified JOSE header.
type Header struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid,omitempty"`
	Type      string `json:"typ,omitempty"`
}

// Claims is the verified, immutable view of a token. Slices are copies.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	Role      string
	TenantID  string
	SessionID string
	TokenID   string
	KeyID     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	NotBefore time.Time
}

// HasAudience reports whether aud is one of the token audiences.
func (c Claims) HasAudience(aud string) bool {
	return slices.Contains(c.Audience, aud)
}

type wireClaims struct {
	Role      string `json:"role,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Verifier runs the cryptographic and claims stages of token validation.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	config     Config
	keys       KeyStore
	algorithms map[string]struct{}
	now        func() time.Time
}

// NewVerifier validates cfg and returns a [Verifier].
func NewVerifier(cfg Config, keys KeyStore) (*Verifier, error) {
	if keys == nil {
		return nil, errors.New("key store is required")
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = DefaultMaxLifetime
	}
	if cfg.MaxLifetime < 0 {
		return nil, errors.New("invalid max lifetime configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}

	algs := cfg.Algorithms
	if len(algs) == 0 {
		algs = SupportedAlgorithms()
	}
	parsed, err := ParseAlgorithms(algs)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]struct{}, len(parsed))
	for _, a := range parsed {
		allowed[a] = struct{}{}
	}

	cfg.Issuers = slices.Clone(cfg.Issuers)
	cfg.Audiences = slices.Clone(cfg.Audiences)
	cfg.AllowedRoles = slices.Clone(cfg.AllowedRoles)

	return &Verifier{config: cfg, keys: keys, algorithms: allowed, now: time.Now}, nil
}

// WithClock returns a copy of v that reads time from now.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	cp := *v
	cp.now = now
	return &cp
}

// Inspect performs the structural check and decodes the header without
// verifying anything. The algorithm is checked against the allow-list.
func (v *Verifier) Inspect(token string) (Header, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Header{}, ErrMalformed
	}
	for _, p := range parts {
		if p == "" {
			return Header{}, ErrMalformed
		}
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Header{}, ErrMalformed
	}
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return Header{}, ErrMalformed
	}

	if h.Algorithm == "" || strings.EqualFold(h.Algorithm, "none") {
		return Header{}, ErrUnsupportedAlgorithm
	}
	if _, ok := v.algorithms[h.Algorithm]; !ok {
		return Header{}, ErrUnsupportedAlgorithm
	}
	return h, nil
}

// ResolveKey finds the verification key for h. A key is only usable with
// the algorithm it was registered for.
func (v *Verifier) ResolveKey(h Header) (Key, error) {
	if h.KeyID == "" && v.config.RequireKeyID {
		return Key{}, fmt.Errorf("%w: kid required", ErrInvalidSignature)
	}
	k, ok := v.keys.Lookup(h.KeyID)
	if !ok {
		return Key{}, fmt.Errorf("%w: unknown kid", ErrInvalidSignature)
	}
	if k.Algorithm != h.Algorithm {
		return Key{}, fmt.Errorf("%w: key algorithm mismatch", ErrInvalidSignature)
	}
	return k, nil
}

// Verify checks the signature with key and then validates claims.
func (v *Verifier) Verify(token string, h Header, key Key) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{h.Algorithm}),
		jwt.WithoutClaimsValidation(),
	)

	var wc wireClaims
	_, err := parser.ParseWithClaims(token, &wc, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != key.Algorithm {
			return nil, ErrInvalidSignature
		}
		return key.VerifyKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return Claims{}, ErrMalformed
		}
		return Claims{}, ErrInvalidSignature
	}

	c := Claims{
		Subject:   wc.Subject,
		Issuer:    wc.Issuer,
		Audience:  slices.Clone([]string(wc.Audience)),
		Role:      wc.Role,
		TenantID:  wc.TenantID,
		SessionID: wc.SessionID,
		TokenID:   wc.ID,
		KeyID:     h.KeyID,
	}
	if wc.IssuedAt != nil {
		c.IssuedAt = wc.IssuedAt.Time
	}
	if wc.ExpiresAt != nil {
		c.ExpiresAt = wc.ExpiresAt.Time
	}
	if wc.NotBefore != nil {
		c.NotBefore = wc.NotBefore.Time
	}

	if err := v.checkClaims(c); err != nil {
		return Claims{}, err
	}
	return c, nil
}

// Parse runs Inspect, ResolveKey and Verify in order.
func (v *Verifier) Parse(token string) (Claims, error) {
	h, err := v.Inspect(token)
	if err != nil {
		return Claims{}, err
	}
	k, err := v.ResolveKey(h)
	if err != nil {
		return Claims{}, err
	}
	return v.Verify(token, h, k)
}

// checkClaims evaluates exp first so an expired token is always reported as
// expired whatever else is wrong with it.
func (v *Verifier) checkClaims(c Claims) error {
	now := v.now()
	leeway := v.config.Leeway

	if c.ExpiresAt.IsZero() || !now.Before(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	if strings.TrimSpace(c.Subject) == "" {
		return ErrMalformed
	}
	if !c.NotBefore.IsZero() && now.Add(leeway).Before(c.NotBefore) {
		return fmt.Errorf("%w: not yet valid", ErrInvalidClaims)
	}
	if c.IssuedAt.IsZero() {
		return fmt.Errorf("%w: missing iat", ErrInvalidClaims)
	}
	if c.IssuedAt.After(now.Add(v.config.MaxFutureIAT)) {
		return fmt.Errorf("%w: iat in the future", ErrInvalidClaims)
	}
	if c.ExpiresAt.Sub(c.IssuedAt) > v.config.MaxLifetime {
		return fmt.Errorf("%w: lifetime exceeds maximum", ErrInvalidClaims)
	}
	if len(v.config.Audiences) > 0 && !slices.ContainsFunc(c.Audience, func(a string) bool {
		return slices.Contains(v.config.Audiences, a)
	}) {
		return ErrAudienceMismatch
	}
	if len(v.config.Issuers) > 0 && !slices.Contains(v.config.Issuers, c.Issuer) {
		return ErrIssuerMismatch
	}
	if c.Role == "" {
		return fmt.Errorf("%w: missing role", ErrInvalidClaims)
	}
	if len(v.config.AllowedRoles) > 0 && !slices.Contains(v.config.AllowedRoles, c.Role) {
		return fmt.Errorf("%w: role not allowed", ErrInvalidClaims)
	}
	return nil
}
