package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// BindingConfig controls the role binding cache.
type BindingConfig struct {
	Size  int           `yaml:"size"`
	TTL   time.Duration `yaml:"ttl"`
	Guard GuardConfig   `yaml:"guard"`
	// FailOpen falls back to a claims-only principal when the identity
	// store cannot be reached. Denials from the store are never bypassed.
	FailOpen bool `yaml:"fail_open"`
}

// DefaultBindingConfig caches up to 10k bindings for one minute and fails
// closed.
func DefaultBindingConfig() BindingConfig {
	return BindingConfig{Size: 10_000, TTL: time.Minute, Guard: DefaultGuardConfig()}
}

// BindingCache resolves principals from validated credentials, enriching
// them with explicit permissions and consents from a [BindingSource].
type BindingCache struct {
	source   BindingSource
	cache    *expirable.LRU[string, Principal]
	guard    *guard
	failOpen bool
	log      *zap.Logger
}

// NewBindingCache returns a cache over source. A nil source resolves every
// principal from its claims alone.
func NewBindingCache(source BindingSource, cfg BindingConfig, log *zap.Logger) *BindingCache {
	if cfg.Size <= 0 {
		cfg.Size = DefaultBindingConfig().Size
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultBindingConfig().TTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BindingCache{
		source:   source,
		cache:    expirable.NewLRU[string, Principal](cfg.Size, nil, cfg.TTL),
		guard:    newGuard("role-bindings", cfg.Guard, log),
		failOpen: cfg.FailOpen,
		log:      log,
	}
}

func bindingKey(tenantID, principalID string) string {
	return tenantID + "\x00" + principalID
}

// Resolve returns the principal for a validated credential. The identity
// store must agree with the credential about role and tenant.
func (c *BindingCache) Resolve(ctx context.Context, principalID string, role Role, tenantID string) (Principal, error) {
	claimsOnly := Principal{ID: principalID, Role: role, TenantID: tenantID}
	if c.source == nil {
		return claimsOnly, nil
	}

	key := bindingKey(tenantID, principalID)
	if p, ok := c.cache.Get(key); ok {
		return c.check(p.clone(), role, tenantID)
	}

	var p Principal
	err := c.guard.do(ctx, "binding", func(ctx context.Context) error {
		var err error
		p, err = c.source.Binding(ctx, tenantID, principalID)
		if errors.Is(err, ErrUnknownPrincipal) {
			// An authoritative answer, not an outage.
			return nil
		}
		return err
	})
	if err != nil {
		if c.failOpen {
			c.log.Warn("role binding lookup failed, using claims only",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
			return claimsOnly, nil
		}
		return Principal{}, err
	}
	if p.ID == "" {
		return Principal{}, fmt.Errorf("%w: %s", ErrUnknownPrincipal, principalID)
	}

	c.cache.Add(key, p.clone())
	return c.check(p, role, tenantID)
}

func (c *BindingCache) check(p Principal, role Role, tenantID string) (Principal, error) {
	if p.Role != role || p.TenantID != tenantID {
		return Principal{}, ErrBindingMismatch
	}
	return p, nil
}

// Invalidate drops the cached binding of one principal.
func (c *BindingCache) Invalidate(tenantID, principalID string) {
	c.cache.Remove(bindingKey(tenantID, principalID))
}

// Purge drops every cached binding.
func (c *BindingCache) Purge() { c.cache.Purge() }

// Len returns the number of cached bindings.
func (c *BindingCache) Len() int { return c.cache.Len() }
