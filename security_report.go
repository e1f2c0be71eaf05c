package clinicguard

import (
	"github.com/MrEthical07/clinicguard/internal/security"
	"github.com/MrEthical07/clinicguard/session"
)

// SecurityReport is the effective security posture of an engine.
type SecurityReport = security.Report

// SecurityReport summarises the configuration and lists the settings that
// weaken it.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config
	return security.BuildReport(security.ReportInput{
		Algorithms:             c.Token.Algorithms,
		MaxTokenLifetime:       c.Token.MaxLifetime,
		SecureTransport:        c.Token.RequireSecureTransport,
		KeyIDRequired:          c.Token.RequireKeyID,
		TenantRequired:         c.Token.RequireTenant,
		SessionIdleTimeout:     c.Session.IdleTimeout,
		SessionAbsoluteTimeout: c.Session.AbsoluteTimeout,
		MaxConcurrentSessions:  c.Session.MaxConcurrent,
		OriginTolerance:        c.Session.Tolerance.String(),
		AgentBinding:           c.Session.BindAgent,
		StepUpOnAnomaly:        c.Session.Anomaly == session.AnomalyStepUp,
		BindingsFailOpen:       c.Permission.Bindings.FailOpen,
		SharedState:            e.shared,
		EphemeralMasterSecret:  len(c.MasterSecret) == 0,
		AuditAsync:             c.Audit.Async,
		AuditDropIfFull:        c.Audit.DropIfFull,
		SweeperEnabled:         c.Sweep.Enabled,
	})
}
