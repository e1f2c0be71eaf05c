package permission

import (
	"context"
	"maps"
	"slices"
	"time"
)

// Principal is the resolved identity an authorization decision is made
// for.
type Principal struct {
	ID                  string
	Role                Role
	TenantID            string
	ExplicitPermissions []Action
	Consents            map[Purpose]Consent
}

func (p Principal) clone() Principal {
	p.ExplicitPermissions = slices.Clone(p.ExplicitPermissions)
	p.Consents = maps.Clone(p.Consents)
	return p
}

func (p Principal) hasExplicit(a Action) bool {
	return slices.Contains(p.ExplicitPermissions, a)
}

// Consent is a data subject's consent for one purpose.
type Consent struct {
	Purpose     Purpose   `json:"purpose"`
	Granted     bool      `json:"granted"`
	GrantedAt   time.Time `json:"granted_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	WithdrawnAt time.Time `json:"withdrawn_at,omitempty"`
}

// Active reports whether the consent is granted, not withdrawn and not
// expired at now.
func (c Consent) Active(now time.Time) bool {
	if !c.Granted || !c.WithdrawnAt.IsZero() {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// Resource is the target of an action. SubjectID is the principal id of
// the data subject (the patient) the resource belongs to.
type Resource struct {
	Type      string
	ID        string
	TenantID  string
	SubjectID string
}

func (r Resource) String() string {
	switch {
	case r.Type == "":
		return r.ID
	case r.ID == "":
		return r.Type
	default:
		return r.Type + "/" + r.ID
	}
}

// AssignmentSource answers whether a professional currently has an active
// care relationship with a data subject.
type AssignmentSource interface {
	ActiveAssignment(ctx context.Context, tenantID, professionalID, subjectID string) (bool, error)
}

// ConsentSource returns the consent a data subject recorded for a purpose.
// found is false when nothing was ever recorded.
type ConsentSource interface {
	Consent(ctx context.Context, tenantID, subjectID string, purpose Purpose) (c Consent, found bool, err error)
}

// BindingSource loads the current role binding of a principal from the
// identity store.
type BindingSource interface {
	Binding(ctx context.Context, tenantID, principalID string) (Principal, error)
}
