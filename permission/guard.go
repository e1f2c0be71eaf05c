package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// GuardConfig bounds external lookups.
type GuardConfig struct {
	LookupTimeout   time.Duration `yaml:"lookup_timeout"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// DefaultGuardConfig returns a 300ms timeout and a breaker that opens after
// five consecutive failures for 30 seconds.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		LookupTimeout:   300 * time.Millisecond,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

func (c GuardConfig) withDefaults() GuardConfig {
	d := DefaultGuardConfig()
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = d.LookupTimeout
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = d.BreakerFailures
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = d.BreakerCooldown
	}
	return c
}

// guard runs lookups with a deadline behind a circuit breaker. Lookups
// that ignore their context are abandoned at the deadline.
type guard struct {
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[struct{}]
	log     *zap.Logger
}

func newGuard(name string, cfg GuardConfig, log *zap.Logger) *guard {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	g := &guard{timeout: cfg.LookupTimeout, log: log}
	g.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("lookup breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return g
}

func (g *guard) state() gobreaker.State { return g.cb.State() }

func (g *guard) do(ctx context.Context, lookup string, fn func(context.Context) error) error {
	_, err := g.cb.Execute(func() (struct{}, error) {
		lctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- fn(lctx) }()
		select {
		case err := <-done:
			return struct{}{}, err
		case <-lctx.Done():
			return struct{}{}, lctx.Err()
		}
	})
	if err == nil {
		return nil
	}
	g.log.Warn("degraded mode: lookup failed, denying",
		zap.String("lookup", lookup),
		zap.String("breaker_state", g.cb.State().String()),
		zap.Error(err))
	return fmt.Errorf("%w: %s: %v", ErrUpstreamTimeout, lookup, err)
}
