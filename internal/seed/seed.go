// Package seed installs the built-in role catalog and the bootstrap administrator.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"residencial.org/internal/auth"
	"residencial.org/internal/config"
	"residencial.org/internal/ids"
)

// Catalog is the write side of the role store used while seeding.
type Catalog interface {
	EnsurePermission(ctx context.Context, p auth.Permission, at time.Time) (string, error)
	EnsureRole(ctx context.Context, r auth.Role, at time.Time) (string, error)
	GrantPermission(ctx context.Context, roleID, permissionID string) error
	AssignRole(ctx context.Context, pr auth.PersonRole) error
}

// Persons is the subset of the person store the seeder needs.
type Persons interface {
	FindByLogin(ctx context.Context, login string) (*auth.Person, error)
	Create(ctx context.Context, p *auth.Person) error
}

// Recorder runs a named seed at most once.
type Recorder interface {
	Seed(ctx context.Context, name string, fn func(context.Context) error) (bool, error)
}

// Seeder owns the seed steps.
type Seeder struct {
	catalog Catalog
	persons Persons
	hasher  auth.Hasher
	logger  *zap.Logger
	now     func() time.Time
}

// New returns a Seeder.
func New(catalog Catalog, persons Persons, hasher auth.Hasher, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{catalog: catalog, persons: persons, hasher: hasher, logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (s *Seeder) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// Run applies the catalog and admin seeds through rec so each happens once per database.
func (s *Seeder) Run(ctx context.Context, rec Recorder, admin config.SeedConfig) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"0001_roles_permissions", s.Catalog},
		{"0002_admin", func(ctx context.Context) error {
			_, err := s.Admin(ctx, admin)
			return err
		}},
	}
	for _, step := range steps {
		applied, err := rec.Seed(ctx, step.name, step.fn)
		if err != nil {
			return err
		}
		if applied {
			s.logger.Info("seed applied", zap.String("seed", step.name))
		}
	}
	return nil
}

// Catalog upserts the built-in permissions and roles and links them.
func (s *Seeder) Catalog(ctx context.Context) error {
	now := s.now().UTC()
	permIDs := make(map[string]string, len(auth.BuiltinPermissions))
	for _, p := range auth.BuiltinPermissions {
		id, err := s.catalog.EnsurePermission(ctx, p, now)
		if err != nil {
			return err
		}
		permIDs[p.Code] = id
	}
	for _, r := range auth.BuiltinRoles {
		roleID, err := s.catalog.EnsureRole(ctx, r, now)
		if err != nil {
			return err
		}
		for _, code := range r.Permissions {
			permID, ok := permIDs[code]
			if !ok {
				return fmt.Errorf("role %s references unknown permission %s", r.Name, code)
			}
			if err := s.catalog.GrantPermission(ctx, roleID, permID); err != nil {
				return fmt.Errorf("grant %s to %s: %w", code, r.Name, err)
			}
		}
	}
	return nil
}

// Admin creates the bootstrap administrator unless the username is taken.
// It reports whether a person was created.
func (s *Seeder) Admin(ctx context.Context, cfg config.SeedConfig) (bool, error) {
	username := strings.TrimSpace(cfg.AdminUsername)
	if username == "" || cfg.AdminPassword == "" {
		return false, nil
	}
	if _, err := s.persons.FindByLogin(ctx, username); err == nil {
		return false, nil
	} else if !errors.Is(err, auth.ErrNotFound) {
		return false, err
	}

	hash, err := s.hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return false, err
	}
	now := s.now().UTC()
	p := &auth.Person{
		ID:             ids.New(),
		DocumentType:   "CC",
		DocumentNumber: "0000000000",
		FirstName:      "System",
		LastName:       "Administrator",
		Username:       username,
		PasswordHash:   hash,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if email := strings.TrimSpace(cfg.AdminEmail); email != "" {
		p.Emails = []auth.Email{{ID: ids.New(), PersonID: p.ID, Address: email, IsPrimary: true}}
	}
	if err := s.persons.Create(ctx, p); err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}

	if err := s.Catalog(ctx); err != nil {
		return false, err
	}
	role, err := s.catalog.EnsureRole(ctx, auth.Role{Name: auth.RoleAdmin, IsActive: true}, now)
	if err != nil {
		return false, err
	}
	if err := s.catalog.AssignRole(ctx, auth.PersonRole{
		PersonID:  p.ID,
		RoleID:    role,
		FromDate:  now,
		CreatedAt: now,
	}); err != nil {
		return false, fmt.Errorf("assign admin role: %w", err)
	}
	s.logger.Info("admin account created", zap.String("username", username), zap.String("person_id", p.ID))
	return true, nil
}
