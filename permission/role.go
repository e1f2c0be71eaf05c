package permission

import (
	"fmt"
	"strings"
)

// Role is the closed set of principal roles, most privileged first.
type Role uint8

const (
	RoleUnknown Role = iota
	// RoleAdmin is unrestricted across tenants.
	RoleAdmin
	// RoleTenantAdmin is unrestricted within its tenant.
	RoleTenantAdmin
	// RoleProfessional reaches patient data only through an active
	// assignment.
	RoleProfessional
	// RoleStaff is read-mostly and never touches financial actions.
	RoleStaff
	// RoleSubject reaches only its own data.
	RoleSubject
)

var roleNames = map[Role]string{
	RoleAdmin:        "admin",
	RoleTenantAdmin:  "tenant_admin",
	RoleProfessional: "professional",
	RoleStaff:        "staff",
	RoleSubject:      "subject",
}

// Roles lists every known role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleTenantAdmin, RoleProfessional, RoleStaff, RoleSubject}
}

// RoleNames lists the claim values accepted by [ParseRole].
func RoleNames() []string {
	out := make([]string, 0, len(roleNames))
	for _, r := range Roles() {
		out = append(out, roleNames[r])
	}
	return out
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole maps a claim value to a Role. "tenantAdmin" is accepted as an
// alias of "tenant_admin".
func ParseRole(s string) (Role, error) {
	switch strings.TrimSpace(s) {
	case "admin":
		return RoleAdmin, nil
	case "tenant_admin", "tenantAdmin":
		return RoleTenantAdmin, nil
	case "professional":
		return RoleProfessional, nil
	case "staff":
		return RoleStaff, nil
	case "subject":
		return RoleSubject, nil
	default:
		return RoleUnknown, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// crossTenant reports whether r may act outside its own tenant.
func (r Role) crossTenant() bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleTenantAdmin, RoleProfessional, RoleStaff, RoleSubject, RoleUnknown:
		return false
	}
	return false
}
