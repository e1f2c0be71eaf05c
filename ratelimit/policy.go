package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Algorithm selects the counting strategy of a [Policy].
type Algorithm int

const (
	// FixedWindow counts requests in consecutive windows starting at the
	// first request of each window.
	FixedWindow Algorithm = iota
	// SlidingWindow counts requests whose timestamp is inside [now-Window, now].
	SlidingWindow
)

func (a Algorithm) String() string {
	switch a {
	case FixedWindow:
		return "fixed"
	case SlidingWindow:
		return "sliding"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

// UnmarshalYAML accepts "fixed" or "sliding".
func (a *Algorithm) UnmarshalYAML(node *yaml.Node) error {
	var name string
	if err := node.Decode(&name); err != nil {
		return err
	}
	switch name {
	case "fixed", "":
		*a = FixedWindow
	case "sliding":
		*a = SlidingWindow
	default:
		return fmt.Errorf("unknown rate limit algorithm %q", name)
	}
	return nil
}

// Class is an endpoint class with its own policy.
type Class string

const (
	ClassGeneral   Class = "general"
	ClassSensitive Class = "sensitive"
	ClassChat      Class = "chat"
	ClassAuth      Class = "auth"
)

// Policy bounds requests per key. Name namespaces the counters so two
// policies never share a counter for the same key.
type Policy struct {
	Name        string        `yaml:"name"`
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
	Algorithm   Algorithm     `yaml:"algorithm"`
}

// Validate reports configuration errors.
func (p Policy) Validate() error {
	if p.Name == "" {
		return errors.New("policy name is required")
	}
	if p.Window <= 0 {
		return fmt.Errorf("policy %q: window must be > 0", p.Name)
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("policy %q: max requests must be > 0", p.Name)
	}
	if p.Algorithm != FixedWindow && p.Algorithm != SlidingWindow {
		return fmt.Errorf("policy %q: unknown algorithm", p.Name)
	}
	return nil
}

// DualPolicy evaluates a short burst window and a long sustained window
// together. Both are sliding windows.
type DualPolicy struct {
	Name  string `yaml:"name"`
	Short Policy `yaml:"short"`
	Long  Policy `yaml:"long"`
}

// Validate reports configuration errors.
func (p DualPolicy) Validate() error {
	if p.Name == "" {
		return errors.New("dual policy name is required")
	}
	for _, w := range []Policy{p.Short, p.Long} {
		if w.Window <= 0 || w.MaxRequests <= 0 {
			return fmt.Errorf("dual policy %q: windows and limits must be > 0", p.Name)
		}
	}
	if p.Short.Window >= p.Long.Window {
		return fmt.Errorf("dual policy %q: short window must be shorter than long window", p.Name)
	}
	return nil
}

// BurstPolicy configures the token bucket that guards token validation.
type BurstPolicy struct {
	PerSecond float64       `yaml:"per_second"`
	Burst     int           `yaml:"burst"`
	IdleTTL   time.Duration `yaml:"idle_ttl"`
}

// Validate reports configuration errors.
func (p BurstPolicy) Validate() error {
	if p.PerSecond <= 0 || p.Burst <= 0 {
		return errors.New("burst policy: rate and burst must be > 0")
	}
	return nil
}

// Policies is the per-class configuration.
type Policies struct {
	General    Policy        `yaml:"general"`
	Sensitive  Policy        `yaml:"sensitive"`
	Chat       DualPolicy    `yaml:"chat"`
	Auth       Policy        `yaml:"auth"`
	AuthBlock  time.Duration `yaml:"auth_block"`
	Validation BurstPolicy   `yaml:"validation"`
}

// DefaultPolicies returns the built-in class policies. The chat pair is a
// starting point; deployments are expected to set their own thresholds.
func DefaultPolicies() Policies {
	return Policies{
		General:   Policy{Name: "general", Window: time.Minute, MaxRequests: 120, Algorithm: FixedWindow},
		Sensitive: Policy{Name: "sensitive", Window: time.Minute, MaxRequests: 30, Algorithm: SlidingWindow},
		Chat: DualPolicy{
			Name:  "chat",
			Short: Policy{Name: "chat-short", Window: time.Minute, MaxRequests: 10, Algorithm: SlidingWindow},
			Long:  Policy{Name: "chat-long", Window: time.Hour, MaxRequests: 100, Algorithm: SlidingWindow},
		},
		Auth:       Policy{Name: "auth", Window: 15 * time.Minute, MaxRequests: 5, Algorithm: FixedWindow},
		AuthBlock:  15 * time.Minute,
		Validation: BurstPolicy{PerSecond: 10, Burst: 20, IdleTTL: 10 * time.Minute},
	}
}

// Validate checks every class policy.
func (p Policies) Validate() error {
	for _, pol := range []Policy{p.General, p.Sensitive, p.Auth} {
		if err := pol.Validate(); err != nil {
			return err
		}
	}
	if err := p.Chat.Validate(); err != nil {
		return err
	}
	if p.AuthBlock < 0 {
		return errors.New("auth block duration must be >= 0")
	}
	return p.Validation.Validate()
}

// Key derives the counter key: the principal id when authenticated, else
// the network origin.
func Key(principalID, origin string) string {
	if principalID != "" {
		return "p:" + principalID
	}
	return "o:" + origin
}
