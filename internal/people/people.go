// Package people manages the person directory and role assignments.
package people

import (
	"context"
	"time"

	"residencial.org/internal/auth"
)

// Document types accepted for persons.
var DocumentTypes = []string{"CC", "CE", "TI", "PP", "NIT"}

// ListFilter narrows person listings.
type ListFilter struct {
	Search         string
	IncludeDeleted bool
	Page           int
	Limit          int
}

// Normalize clamps paging.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	return f
}

// Store persists persons and their emails.
type Store interface {
	Create(ctx context.Context, p *auth.Person) error
	Get(ctx context.Context, id string, includeDeleted bool) (*auth.Person, error)
	Update(ctx context.Context, p *auth.Person) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	Restore(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, f ListFilter) ([]auth.Person, int, error)
}

// Catalog exposes roles and permissions.
type Catalog interface {
	ListRoles(ctx context.Context) ([]auth.Role, error)
	ListPermissions(ctx context.Context) ([]auth.Permission, error)
	FindRoleByName(ctx context.Context, name string) (*auth.Role, error)
	// FindPersonRole returns auth.ErrNotFound when the person does not hold the role.
	FindPersonRole(ctx context.Context, personID, roleID string) (*auth.PersonRole, error)
	AssignRole(ctx context.Context, pr auth.PersonRole) error
}

// Snapshot is the audited view of a person. Secrets never appear in it.
func Snapshot(p *auth.Person) map[string]any {
	if p == nil {
		return nil
	}
	emails := make([]string, 0, len(p.Emails))
	for _, e := range p.Emails {
		emails = append(emails, e.Address)
	}
	return map[string]any{
		"document_type":   p.DocumentType,
		"document_number": p.DocumentNumber,
		"first_name":      p.FirstName,
		"last_name":       p.LastName,
		"username":        p.Username,
		"phone":           p.Phone,
		"is_active":       p.IsActive,
		"has_password":    p.PasswordHash != "",
		"emails":          emails,
		"deleted_at":      p.DeletedAt,
	}
}
