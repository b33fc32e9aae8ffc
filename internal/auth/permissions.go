package auth

// Permission codes checked by the HTTP layer.
const (
	PermPersonsRead   = "persons.read"
	PermPersonsWrite  = "persons.write"
	PermPersonsDelete = "persons.delete"
	PermRolesRead     = "roles.read"
	PermRolesAssign   = "roles.assign"
	PermAuditRead     = "audit.read"
	PermAuditClean    = "audit.clean"
)

// Role names shipped with every installation.
const (
	RoleAdmin         = "admin"
	RoleAdministrator = "administrator"
	RoleResident      = "resident"
	RoleGuard         = "guard"
)

// BuiltinPermissions is the permission catalog seeded at install time.
var BuiltinPermissions = []Permission{
	{Code: PermPersonsRead, Description: "List and view persons"},
	{Code: PermPersonsWrite, Description: "Create and edit persons"},
	{Code: PermPersonsDelete, Description: "Delete and restore persons"},
	{Code: PermRolesRead, Description: "View roles and permissions"},
	{Code: PermRolesAssign, Description: "Assign roles to persons"},
	{Code: PermAuditRead, Description: "Read the audit log"},
	{Code: PermAuditClean, Description: "Purge old audit entries"},
}

// BuiltinRoles maps each seeded role to its permission codes.
var BuiltinRoles = []Role{
	{
		Name:        RoleAdmin,
		Description: "Full system access",
		IsActive:    true,
		Permissions: []string{PermPersonsRead, PermPersonsWrite, PermPersonsDelete, PermRolesRead, PermRolesAssign, PermAuditRead, PermAuditClean},
	},
	{
		Name:        RoleAdministrator,
		Description: "Property administration staff",
		IsActive:    true,
		Permissions: []string{PermPersonsRead, PermPersonsWrite, PermRolesRead, PermRolesAssign, PermAuditRead},
	},
	{
		Name:        RoleResident,
		Description: "Apartment owner or tenant",
		IsActive:    true,
	},
	{
		Name:        RoleGuard,
		Description: "Gate and security staff",
		IsActive:    true,
		Permissions: []string{PermPersonsRead},
	},
}
