package permission

import "errors"

// Rule ids reported in decisions and audit events.
const (
	RuleUnknownAction          = "action.unknown"
	RuleUnknownRole            = "role.unknown"
	RuleTenantScope            = "tenant.scope"
	RuleAdmin                  = "role.admin"
	RuleTenantAdmin            = "role.tenant_admin"
	RuleProfessional           = "role.professional"
	RuleProfessionalAssignment = "role.professional.assignment"
	RuleStaff                  = "role.staff"
	RuleStaffFinancialDeny     = "role.staff.financial_deny"
	RuleSubject                = "role.subject"
	RuleSubjectSelf            = "role.subject.self"
	RuleExplicit               = "grant.explicit"
	RuleConsentPrefix          = "consent."
	RuleUpstream               = "upstream.unavailable"
)

type verdict uint8

const (
	verdictNone verdict = iota
	verdictAllow
	verdictHardDeny
)

type override uint8

const (
	overrideNone override = iota
	overrideAssignment
	overrideOwner
)

type roleRule struct {
	id       string
	denyID   string
	allow    Mask64
	deny     Mask64
	override override
}

// Table is the role decision table compiled against a frozen [Registry].
type Table struct {
	registry *Registry
	rules    map[Role]roleRule
}

// NewTable compiles the base rule of every role for every registered
// action.
func NewTable(reg *Registry) (*Table, error) {
	if reg == nil || !reg.Frozen() {
		return nil, errors.New("permission table requires a frozen registry")
	}
	t := &Table{registry: reg, rules: make(map[Role]roleRule, len(roleNames))}
	specs := reg.Specs()
	for _, role := range Roles() {
		rr := roleShape(role)
		for bit, spec := range specs {
			switch baseRule(role, spec) {
			case verdictAllow:
				rr.allow.Set(bit)
			case verdictHardDeny:
				rr.deny.Set(bit)
			case verdictNone:
			}
		}
		t.rules[role] = rr
	}
	return t, nil
}

// Allows reports the base verdict of role for action without overrides.
func (t *Table) Allows(role Role, action Action) bool {
	_, bit, ok := t.registry.Lookup(action)
	if !ok {
		return false
	}
	rr, ok := t.rules[role]
	return ok && rr.allow.Has(bit) && !rr.deny.Has(bit)
}

func roleShape(r Role) roleRule {
	switch r {
	case RoleAdmin:
		return roleRule{id: RuleAdmin}
	case RoleTenantAdmin:
		return roleRule{id: RuleTenantAdmin}
	case RoleProfessional:
		return roleRule{id: RuleProfessional, override: overrideAssignment}
	case RoleStaff:
		return roleRule{id: RuleStaff, denyID: RuleStaffFinancialDeny}
	case RoleSubject:
		return roleRule{id: RuleSubject, override: overrideOwner}
	case RoleUnknown:
		return roleRule{id: RuleUnknownRole}
	}
	return roleRule{id: RuleUnknownRole}
}

func baseRule(r Role, spec ActionSpec) verdict {
	switch r {
	case RoleAdmin, RoleTenantAdmin:
		return verdictAllow
	case RoleProfessional:
		switch spec.Category {
		case CategoryClinical, CategoryScheduling, CategoryAssistant, CategoryProfile:
			return verdictAllow
		}
		return verdictNone
	case RoleStaff:
		switch spec.Category {
		case CategoryFinancial:
			return verdictHardDeny
		case CategoryScheduling, CategoryProfile:
			return verdictAllow
		case CategoryClinical:
			if !spec.Write {
				return verdictAllow
			}
		}
		return verdictNone
	case RoleSubject:
		switch spec.Category {
		case CategoryClinical:
			if !spec.Write {
				return verdictAllow
			}
		case CategoryScheduling, CategoryAssistant, CategoryEngagement, CategoryProfile:
			return verdictAllow
		}
		return verdictNone
	case RoleUnknown:
		return verdictNone
	}
	return verdictNone
}

// needsAssignment reports whether a professional must hold an assignment
// to the data subject for this category.
func needsAssignment(c Category) bool {
	return c == CategoryClinical || c == CategoryAssistant
}
