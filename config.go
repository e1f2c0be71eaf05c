package clinicguard

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/MrEthical07/clinicguard/audit"
	"github.com/MrEthical07/clinicguard/internal/keys"
	"github.com/MrEthical07/clinicguard/internal/sweeper"
	"github.com/MrEthical07/clinicguard/jwt"
	"github.com/MrEthical07/clinicguard/permission"
	"github.com/MrEthical07/clinicguard/ratelimit"
	"github.com/MrEthical07/clinicguard/session"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration. Start from
// [DefaultConfig] and override what the deployment needs.
type Config struct {
	Token      TokenConfig        `yaml:"token"`
	RateLimits ratelimit.Policies `yaml:"rate_limits"`
	Session    session.Config     `yaml:"session"`
	Permission PermissionConfig   `yaml:"permission"`
	Audit      AuditConfig        `yaml:"audit"`
	Sweep      SweepConfig        `yaml:"sweep"`
	Metrics    MetricsConfig      `yaml:"metrics"`
	Store      StoreConfig        `yaml:"store"`

	// MasterSecret derives the cookie signature and origin hash keys. It
	// is never read from the config file.
	MasterSecret []byte `yaml:"-"`
	// Policies run after the built-in token checks.
	Policies []TokenPolicy `yaml:"-"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls bearer token validation.
type TokenConfig struct {
	// Algorithms is the allow-list; empty allows every supported algorithm.
	Algorithms   []string      `yaml:"algorithms"`
	Issuers      []string      `yaml:"issuers"`
	Audiences    []string      `yaml:"audiences"`
	AllowedRoles []string      `yaml:"allowed_roles"`
	MaxLifetime  time.Duration `yaml:"max_lifetime"`
	Leeway       time.Duration `yaml:"leeway"`
	MaxFutureIAT time.Duration `yaml:"max_future_iat"`

	RequireKeyID           bool `yaml:"require_key_id"`
	RequireSecureTransport bool `yaml:"require_secure_transport"`
	// RequireTenant rejects tokens of non-admin roles without a tenant.
	RequireTenant bool `yaml:"require_tenant"`
}

/*
====================================
PERMISSION CONFIG
====================================
*/

// PermissionConfig bounds collaborator lookups and the binding cache.
type PermissionConfig struct {
	Guard    permission.GuardConfig   `yaml:"guard"`
	Bindings permission.BindingConfig `yaml:"bindings"`
	// StrictAssignments denies professional actions that name no data
	// subject instead of granting them with an assigned-subjects condition.
	StrictAssignments bool `yaml:"strict_assignments"`
}

/*
====================================
AUDIT / SWEEP / METRICS / STORE
====================================
*/

// AuditConfig controls event dispatch and redaction.
type AuditConfig struct {
	audit.Config `yaml:",inline"`
	// RedactKeys extends the built-in credential metadata keys.
	RedactKeys []string `yaml:"redact_keys"`
}

// SweepConfig schedules the background cleanup.
type SweepConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// StoreConfig controls the state backends.
type StoreConfig struct {
	// Namespace prefixes every shared-store key.
	Namespace string `yaml:"namespace"`
	// Shards is the shard count of in-memory stores.
	Shards int `yaml:"shards"`
}

// DefaultConfig returns production-safe defaults.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AllowedRoles:           append(permission.RoleNames(), "tenantAdmin"),
			MaxLifetime:            jwt.DefaultMaxLifetime,
			Leeway:                 30 * time.Second,
			MaxFutureIAT:           time.Minute,
			RequireKeyID:           true,
			RequireSecureTransport: true,
			RequireTenant:          true,
		},
		RateLimits: ratelimit.DefaultPolicies(),
		Session:    session.DefaultConfig(),
		Permission: PermissionConfig{
			Guard:    permission.DefaultGuardConfig(),
			Bindings: permission.DefaultBindingConfig(),
		},
		Audit: AuditConfig{
			Config: audit.Config{Async: true, BufferSize: 1024, DropIfFull: true},
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Schedule: sweeper.DefaultSchedule,
			Timeout:  time.Minute,
		},
		Metrics: MetricsConfig{Enabled: true},
		Store:   StoreConfig{Namespace: "clinicguard", Shards: 64},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Algorithms = slices.Clone(cfg.Token.Algorithms)
	out.Token.Issuers = slices.Clone(cfg.Token.Issuers)
	out.Token.Audiences = slices.Clone(cfg.Token.Audiences)
	out.Token.AllowedRoles = slices.Clone(cfg.Token.AllowedRoles)
	out.Session.CarrierPrefixes = slices.Clone(cfg.Session.CarrierPrefixes)
	out.Audit.RedactKeys = slices.Clone(cfg.Audit.RedactKeys)
	out.MasterSecret = slices.Clone(cfg.MasterSecret)
	out.Policies = slices.Clone(cfg.Policies)
	return out
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	// Token
	if _, err := jwt.ParseAlgorithms(c.Token.Algorithms); err != nil {
		return fmt.Errorf("token algorithms: %w", err)
	}
	if c.Token.MaxLifetime <= 0 {
		return errors.New("token max lifetime must be > 0")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("token leeway must be within [0, 2m]")
	}
	if c.Token.MaxFutureIAT < 0 || c.Token.MaxFutureIAT > time.Hour {
		return errors.New("token max future iat must be within [0, 1h]")
	}
	if len(c.Token.AllowedRoles) == 0 {
		return errors.New("token allowed roles must not be empty")
	}
	for _, r := range c.Token.AllowedRoles {
		if _, err := permission.ParseRole(r); err != nil {
			return fmt.Errorf("token allowed roles: %w", err)
		}
	}

	// Rate limits and sessions
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate limits: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}

	// Audit
	if c.Audit.Async && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be > 0 when async")
	}

	// Sweep
	if c.Sweep.Enabled {
		if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
			return fmt.Errorf("sweep schedule: %w", err)
		}
	}
	if c.Sweep.Timeout < 0 {
		return errors.New("sweep timeout must be >= 0")
	}

	// Secrets
	if len(c.MasterSecret) > 0 && len(c.MasterSecret) < keys.MinMasterLength {
		return fmt.Errorf("master secret must be at least %d bytes", keys.MinMasterLength)
	}
	if c.Store.Shards < 0 {
		return errors.New("store shards must be >= 0")
	}
	return nil
}

// LoadConfig decodes YAML from r over [DefaultConfig] and validates the
// result. Unknown keys are errors.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile is [LoadConfig] over the file at path.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return LoadConfig(f)
}
