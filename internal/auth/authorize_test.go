package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewPrincipalFlattensGrants(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	grants := []RoleGrant{
		{Role: Role{Name: "administrator", IsActive: true, Permissions: []string{"persons.read", "persons.write"}}},
		{Role: Role{Name: "guard", IsActive: true, Permissions: []string{"persons.read"}}},
		{Role: Role{Name: "retired", IsActive: false, Permissions: []string{"audit.clean"}}},
		{Role: Role{Name: "future", IsActive: true, Permissions: []string{"roles.assign"}}, FromDate: now.AddDate(0, 1, 0)},
	}
	p := NewPrincipal(&Person{ID: "p1"}, grants, now)

	assert.Equal(t, []string{"administrator", "guard"}, p.RoleNames())
	assert.Equal(t, []string{"persons.read", "persons.write"}, p.PermissionCodes())
	assert.True(t, p.HasAnyRole("resident", "guard"))
	assert.False(t, p.HasAnyRole("retired", "future"))
	assert.True(t, p.HasAnyPermission("audit.clean", "persons.write"))
	assert.False(t, p.HasAnyPermission("audit.clean", "roles.assign"))
	assert.False(t, p.HasAnyPermission())
}
