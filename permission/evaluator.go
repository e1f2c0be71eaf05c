package permission

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/clinicguard/audit"
	"go.uber.org/zap"
)

// Conditions attached to granted decisions.
const (
	// ConditionAssignedSubjects marks a professional grant made without a
	// data subject, such as a listing. The handler must restrict results
	// to the professional's assigned subjects.
	ConditionAssignedSubjects = "scope:assigned_subjects"
	// ConditionConsentPrefix prefixes the consent purpose a grant relied on.
	ConditionConsentPrefix = "consent:"
)

// Decision is the outcome of [Evaluator.Authorize].
type Decision struct {
	Granted bool
	Reason  string
	RuleID  string
	// Conditions are obligations the caller must honour for the grant to
	// be safe. A granted decision carrying [ConditionAssignedSubjects] is
	// only correct when the handler filters to assigned subjects; use
	// [WithStrictAssignments] to deny those requests instead.
	Conditions []string
	err        error
}

// Err returns nil for granted decisions and the denial sentinel
// otherwise: [ErrInsufficientPermission], [ErrConsentRequired] or
// [ErrUpstreamTimeout].
func (d Decision) Err() error {
	if d.Granted {
		return nil
	}
	if d.err == nil {
		return ErrInsufficientPermission
	}
	return d.err
}

func grant(rule string, conditions ...string) Decision {
	return Decision{Granted: true, RuleID: rule, Conditions: conditions}
}

func deny(rule, reason string, err error) Decision {
	return Decision{RuleID: rule, Reason: reason, err: err}
}

// Option configures an [Evaluator].
type Option func(*Evaluator)

func WithAssignments(s AssignmentSource) Option { return func(e *Evaluator) { e.assignments = s } }

func WithConsents(s ConsentSource) Option { return func(e *Evaluator) { e.consents = s } }

// WithAuditSink receives one event per decision.
func WithAuditSink(s audit.Sink) Option { return func(e *Evaluator) { e.audit = s } }

func WithLogger(l *zap.Logger) Option { return func(e *Evaluator) { e.log = l } }

func WithClock(now func() time.Time) Option { return func(e *Evaluator) { e.now = now } }

// WithStrictAssignments denies assignment-scoped professional actions that
// name no data subject instead of granting them under
// [ConditionAssignedSubjects].
func WithStrictAssignments(strict bool) Option {
	return func(e *Evaluator) { e.strictAssignments = strict }
}

// Evaluator answers authorization questions. Checks run in order: tenant
// scope, role base rule, resource override, consent gate.
type Evaluator struct {
	table       *Table
	assignments AssignmentSource
	consents    ConsentSource
	audit       audit.Sink
	log         *zap.Logger
	now         func() time.Time
	guard       *guard

	strictAssignments bool
}

// NewEvaluator builds an evaluator over a frozen registry.
func NewEvaluator(reg *Registry, cfg GuardConfig, opts ...Option) (*Evaluator, error) {
	table, err := NewTable(reg)
	if err != nil {
		return nil, err
	}
	e := &Evaluator{
		table: table,
		audit: audit.NoOpSink{},
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.guard = newGuard("permission-lookups", cfg, e.log)
	return e, nil
}

// Table returns the compiled decision table.
func (e *Evaluator) Table() *Table { return e.table }

// Authorize decides whether p may perform action on res and records the
// decision in the audit sink.
func (e *Evaluator) Authorize(ctx context.Context, p Principal, action Action, res Resource) Decision {
	d := e.decide(ctx, p, action, res)
	e.record(ctx, p, action, res, d)
	return d
}

func (e *Evaluator) decide(ctx context.Context, p Principal, action Action, res Resource) Decision {
	spec, bit, ok := e.table.registry.Lookup(action)
	if !ok {
		return deny(RuleUnknownAction, "unknown action", ErrInsufficientPermission)
	}
	rr, ok := e.table.rules[p.Role]
	if !ok || p.Role == RoleUnknown || p.ID == "" {
		return deny(RuleUnknownRole, "unknown principal role", ErrInsufficientPermission)
	}

	// 1. tenant scope
	if !p.Role.crossTenant() {
		if p.TenantID == "" {
			return deny(RuleTenantScope, "principal has no tenant", ErrInsufficientPermission)
		}
		if res.TenantID != "" && res.TenantID != p.TenantID {
			return deny(RuleTenantScope, "cross-tenant access", ErrInsufficientPermission)
		}
	}

	// 2. role base rule; explicit grants extend but never beat a hard deny
	rule := rr.id
	switch {
	case rr.deny.Has(bit):
		return deny(rr.denyID, "action denied for role", ErrInsufficientPermission)
	case rr.allow.Has(bit):
	case p.hasExplicit(action):
		rule = RuleExplicit
	default:
		return deny(rr.id, "role does not permit action", ErrInsufficientPermission)
	}

	var conditions []string
	subject := dataSubject(p, res)

	// 3. resource override
	switch rr.override {
	case overrideAssignment:
		if needsAssignment(spec.Category) {
			if subject == "" {
				if e.strictAssignments {
					return deny(RuleProfessionalAssignment, "no data subject for assignment-scoped action", ErrInsufficientPermission)
				}
				conditions = append(conditions, ConditionAssignedSubjects)
				break
			}
			active, d, failed := e.assignment(ctx, p, subject)
			if failed {
				return d
			}
			if !active {
				return deny(RuleProfessionalAssignment, "no active assignment", ErrInsufficientPermission)
			}
			rule = RuleProfessionalAssignment
		}
	case overrideOwner:
		if subject != p.ID {
			return deny(RuleSubjectSelf, "not the resource owner", ErrInsufficientPermission)
		}
		rule = RuleSubjectSelf
	case overrideNone:
	}

	// 4. consent gate
	if spec.Consent != "" {
		if subject == "" {
			return deny(RuleConsentPrefix+string(spec.Consent), "no data subject for consent-gated action", ErrConsentRequired)
		}
		c, found, d, failed := e.consent(ctx, p, subject, spec.Consent)
		if failed {
			return d
		}
		if !found || !c.Active(e.now()) {
			return deny(RuleConsentPrefix+string(spec.Consent), "consent required", ErrConsentRequired)
		}
		conditions = append(conditions, ConditionConsentPrefix+string(spec.Consent))
	}

	return grant(rule, conditions...)
}

// dataSubject is the principal the resource belongs to. A subject acting
// without an explicit resource owner acts on its own data.
func dataSubject(p Principal, res Resource) string {
	if res.SubjectID != "" {
		return res.SubjectID
	}
	if p.Role == RoleSubject {
		return p.ID
	}
	return ""
}

func (e *Evaluator) assignment(ctx context.Context, p Principal, subject string) (bool, Decision, bool) {
	if e.assignments == nil {
		return false, Decision{}, false
	}
	var active bool
	err := e.guard.do(ctx, "assignment", func(ctx context.Context) error {
		var err error
		active, err = e.assignments.ActiveAssignment(ctx, p.TenantID, p.ID, subject)
		return err
	})
	if err != nil {
		e.degraded(ctx, p, "assignment", err)
		return false, deny(RuleUpstream, "assignment lookup unavailable", ErrUpstreamTimeout), true
	}
	return active, Decision{}, false
}

func (e *Evaluator) consent(ctx context.Context, p Principal, subject string, purpose Purpose) (Consent, bool, Decision, bool) {
	if e.consents == nil {
		if subject != p.ID {
			return Consent{}, false, Decision{}, false
		}
		c, ok := p.Consents[purpose]
		return c, ok, Decision{}, false
	}
	var (
		c     Consent
		found bool
	)
	err := e.guard.do(ctx, "consent", func(ctx context.Context) error {
		var err error
		c, found, err = e.consents.Consent(ctx, p.TenantID, subject, purpose)
		return err
	})
	if err != nil {
		e.degraded(ctx, p, "consent", err)
		return Consent{}, false, deny(RuleUpstream, "consent lookup unavailable", ErrUpstreamTimeout), true
	}
	return c, found, Decision{}, false
}

func (e *Evaluator) degraded(ctx context.Context, p Principal, lookup string, err error) {
	e.audit.Emit(ctx, audit.Event{
		Type:        audit.TypeDegraded,
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		Decision:    audit.DecisionDenied,
		Reason:      lookup + " lookup unavailable",
		RuleID:      RuleUpstream,
		ErrorKind:   "upstream_timeout",
		Metadata:    map[string]string{"breaker_state": e.guard.state().String()},
	})
}

func (e *Evaluator) record(ctx context.Context, p Principal, action Action, res Resource, d Decision) {
	ev := audit.Event{
		Type:        audit.TypeAuthorization,
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		Action:      string(action),
		Resource:    res.String(),
		Decision:    audit.DecisionDenied,
		Reason:      d.Reason,
		RuleID:      d.RuleID,
	}
	if d.Granted {
		ev.Decision = audit.DecisionGranted
	} else {
		ev.ErrorKind = errorKind(d.Err())
	}
	e.audit.Emit(ctx, ev)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrConsentRequired):
		return "consent_required"
	case errors.Is(err, ErrUpstreamTimeout):
		return "upstream_timeout"
	default:
		return "insufficient_permission"
	}
}
