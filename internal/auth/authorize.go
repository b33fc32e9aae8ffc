package auth

import (
	"sort"
	"time"
)

// Principal is an authenticated person with the roles and permissions in force.
type Principal struct {
	Person      *Person
	Session     *Session
	Grants      []RoleGrant
	Roles       map[string]struct{}
	Permissions map[string]struct{}
}

// NewPrincipal flattens grants into role and permission sets.
// Inactive roles and grants whose from date lies after now contribute nothing.
func NewPrincipal(person *Person, grants []RoleGrant, now time.Time) *Principal {
	p := &Principal{
		Person:      person,
		Roles:       make(map[string]struct{}),
		Permissions: make(map[string]struct{}),
	}
	for _, g := range grants {
		if !g.Role.IsActive {
			continue
		}
		if !g.FromDate.IsZero() && g.FromDate.After(now) {
			continue
		}
		p.Grants = append(p.Grants, g)
		p.Roles[g.Role.Name] = struct{}{}
		for _, code := range g.Role.Permissions {
			p.Permissions[code] = struct{}{}
		}
	}
	return p
}

// HasRole reports whether the principal holds role.
func (p *Principal) HasRole(role string) bool {
	_, ok := p.Roles[role]
	return ok
}

// HasAnyRole reports whether at least one of allowed is held.
func (p *Principal) HasAnyRole(allowed ...string) bool {
	for _, r := range allowed {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

// HasPermission reports whether the principal can execute the action identified by code.
func (p *Principal) HasPermission(code string) bool {
	_, ok := p.Permissions[code]
	return ok
}

// HasAnyPermission reports whether at least one of allowed is granted.
func (p *Principal) HasAnyPermission(allowed ...string) bool {
	for _, c := range allowed {
		if p.HasPermission(c) {
			return true
		}
	}
	return false
}

// RoleNames returns the held roles sorted.
func (p *Principal) RoleNames() []string { return sortedKeys(p.Roles) }

// PermissionCodes returns the granted permissions sorted.
func (p *Principal) PermissionCodes() []string { return sortedKeys(p.Permissions) }

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
