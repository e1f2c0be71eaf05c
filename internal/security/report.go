// Package security builds the posture report of a configured engine and
// flags settings that weaken it.
package security

import (
	"slices"
	"strings"
	"time"
)

// Report summarises the effective security posture.
type Report struct {
	Algorithms             []string
	SymmetricAlgorithms    bool
	MaxTokenLifetime       time.Duration
	SecureTransport        bool
	KeyIDRequired          bool
	TenantRequired         bool
	SessionIdleTimeout     time.Duration
	SessionAbsoluteTimeout time.Duration
	MaxConcurrentSessions  int
	OriginTolerance        string
	AgentBinding           bool
	StepUpOnAnomaly        bool
	BindingsFailOpen       bool
	SharedState            bool
	EphemeralMasterSecret  bool
	AuditMayDrop           bool
	SweeperEnabled         bool
	Warnings               []string
}

// ReportInput is the subset of configuration the report reads.
type ReportInput struct {
	Algorithms             []string
	MaxTokenLifetime       time.Duration
	SecureTransport        bool
	KeyIDRequired          bool
	TenantRequired         bool
	SessionIdleTimeout     time.Duration
	SessionAbsoluteTimeout time.Duration
	MaxConcurrentSessions  int
	OriginTolerance        string
	AgentBinding           bool
	StepUpOnAnomaly        bool
	BindingsFailOpen       bool
	SharedState            bool
	EphemeralMasterSecret  bool
	AuditAsync             bool
	AuditDropIfFull        bool
	SweeperEnabled         bool
}

// BuildReport derives the report and its warnings from input.
func BuildReport(input ReportInput) Report {
	symmetric := slices.ContainsFunc(input.Algorithms, func(a string) bool {
		return strings.HasPrefix(a, "HS")
	})

	r := Report{
		Algorithms:             slices.Clone(input.Algorithms),
		SymmetricAlgorithms:    symmetric,
		MaxTokenLifetime:       input.MaxTokenLifetime,
		SecureTransport:        input.SecureTransport,
		KeyIDRequired:          input.KeyIDRequired,
		TenantRequired:         input.TenantRequired,
		SessionIdleTimeout:     input.SessionIdleTimeout,
		SessionAbsoluteTimeout: input.SessionAbsoluteTimeout,
		MaxConcurrentSessions:  input.MaxConcurrentSessions,
		OriginTolerance:        input.OriginTolerance,
		AgentBinding:           input.AgentBinding,
		StepUpOnAnomaly:        input.StepUpOnAnomaly,
		BindingsFailOpen:       input.BindingsFailOpen,
		SharedState:            input.SharedState,
		EphemeralMasterSecret:  input.EphemeralMasterSecret,
		AuditMayDrop:           input.AuditAsync && input.AuditDropIfFull,
		SweeperEnabled:         input.SweeperEnabled,
	}

	warn := func(cond bool, msg string) {
		if cond {
			r.Warnings = append(r.Warnings, msg)
		}
	}
	warn(len(input.Algorithms) == 0, "token algorithm allow-list is empty; every supported algorithm is accepted")
	warn(symmetric, "symmetric token algorithms are accepted; every verifier can mint tokens")
	warn(!input.SecureTransport, "tokens are accepted over plain transport")
	warn(!input.KeyIDRequired, "tokens without a key id are accepted")
	warn(!input.TenantRequired, "tenant-scoped roles may present tokens without a tenant")
	warn(!input.AgentBinding, "sessions are not bound to the client user agent")
	warn(input.OriginTolerance == "country", "sessions follow the client anywhere within a country")
	warn(input.BindingsFailOpen, "role bindings fall back to token claims when the identity store is unreachable")
	warn(!input.SharedState, "state is process-local; revocations and limits are not shared across instances")
	warn(input.EphemeralMasterSecret, "master secret is ephemeral; cookie signatures do not survive restarts")
	warn(r.AuditMayDrop, "audit events are dropped when the buffer is full")
	warn(!input.SweeperEnabled && !input.SharedState, "expired in-memory state is only removed by explicit sweeps")
	return r
}
