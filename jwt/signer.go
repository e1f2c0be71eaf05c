package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signer mints tokens in the format [Verifier] accepts. Production tokens
// are issued by the identity service; Signer serves local tooling and tests.
type Signer struct {
	key      Key
	issuer   string
	audience []string
	ttl      time.Duration
	now      func() time.Time
}

// SignRequest describes the claims of a token to mint.
type SignRequest struct {
	Subject   string
	Role      string
	TenantID  string
	SessionID string
	// TTL overrides the signer default when positive.
	TTL time.Duration
	// IssuedAt overrides the current time when non-zero.
	IssuedAt time.Time
}

// NewSigner returns a signer for key. The key must carry a SignKey.
func NewSigner(key Key, issuer string, audience []string, ttl time.Duration) (*Signer, error) {
	if key.SignKey == nil {
		return nil, errors.New("key cannot sign")
	}
	if !IsSupported(key.Algorithm) {
		return nil, errors.New("unsupported signing algorithm")
	}
	if ttl <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	return &Signer{key: key, issuer: issuer, audience: audience, ttl: ttl, now: time.Now}, nil
}

// Sign mints a token and returns it with its claims.
func (s *Signer) Sign(req SignRequest) (string, Claims, error) {
	if req.Subject == "" {
		return "", Claims{}, errors.New("subject is required")
	}

	iat := req.IssuedAt
	if iat.IsZero() {
		iat = s.now()
	}
	ttl := s.ttl
	if req.TTL > 0 {
		ttl = req.TTL
	}

	wc := wireClaims{
		Role:      req.Role,
		TenantID:  req.TenantID,
		SessionID: req.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Subject,
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
		},
	}
	if len(s.audience) > 0 {
		wc.Audience = jwt.ClaimStrings(s.audience)
	}

	token := jwt.NewWithClaims(supportedMethods[s.key.Algorithm], wc)
	if s.key.ID != "" {
		token.Header["kid"] = s.key.ID
	}

	signed, err := token.SignedString(s.key.SignKey)
	if err != nil {
		return "", Claims{}, err
	}

	return signed, Claims{
		Subject:   req.Subject,
		Issuer:    s.issuer,
		Audience:  append([]string(nil), s.audience...),
		Role:      req.Role,
		TenantID:  req.TenantID,
		SessionID: req.SessionID,
		TokenID:   wc.ID,
		KeyID:     s.key.ID,
		IssuedAt:  wc.IssuedAt.Time,
		ExpiresAt: wc.ExpiresAt.Time,
	}, nil
}
