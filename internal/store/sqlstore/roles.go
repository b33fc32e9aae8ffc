package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"residencial.org/internal/auth"
	"residencial.org/internal/ids"
	"residencial.org/internal/people"
)

// Roles stores the role and permission catalog and person assignments.
type Roles struct {
	db *DB
}

var (
	_ auth.RoleStore = (*Roles)(nil)
	_ people.Catalog = (*Roles)(nil)
)

// NewRoles returns the role repository.
func NewRoles(db *DB) *Roles {
	return &Roles{db: db}
}

// GrantsForPerson returns each role the person holds with its active permission codes.
func (r *Roles) GrantsForPerson(ctx context.Context, personID string) ([]auth.RoleGrant, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT ro.id, ro.name, ro.description, ro.is_active, pr.from_date, pr.unit_id, pr.apartment_id, p.code
		FROM person_roles pr
		JOIN roles ro ON ro.id = pr.role_id
		LEFT JOIN role_permissions rp ON rp.role_id = ro.id AND rp.is_active = TRUE
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE pr.person_id = ?
		ORDER BY ro.name, p.code`), personID)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	defer rows.Close()

	var grants []auth.RoleGrant
	index := make(map[string]int)
	for rows.Next() {
		var (
			g    auth.RoleGrant
			code sql.NullString
		)
		if err := rows.Scan(&g.Role.ID, &g.Role.Name, &g.Role.Description, &g.Role.IsActive,
			&g.FromDate, &g.UnitID, &g.ApartmentID, &code); err != nil {
			return nil, err
		}
		i, seen := index[g.Role.ID]
		if !seen {
			g.FromDate = g.FromDate.UTC()
			grants = append(grants, g)
			i = len(grants) - 1
			index[g.Role.ID] = i
		}
		if code.Valid {
			grants[i].Role.Permissions = append(grants[i].Role.Permissions, code.String)
		}
	}
	return grants, rows.Err()
}

// ListRoles returns every role with its active permission codes.
func (r *Roles) ListRoles(ctx context.Context) ([]auth.Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ro.id, ro.name, ro.description, ro.is_active, p.code
		FROM roles ro
		LEFT JOIN role_permissions rp ON rp.role_id = ro.id AND rp.is_active = TRUE
		LEFT JOIN permissions p ON p.id = rp.permission_id
		ORDER BY ro.name, p.code`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var roles []auth.Role
	index := make(map[string]int)
	for rows.Next() {
		var (
			role auth.Role
			code sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.IsActive, &code); err != nil {
			return nil, err
		}
		i, seen := index[role.ID]
		if !seen {
			role.Permissions = []string{}
			roles = append(roles, role)
			i = len(roles) - 1
			index[role.ID] = i
		}
		if code.Valid {
			roles[i].Permissions = append(roles[i].Permissions, code.String)
		}
	}
	return roles, rows.Err()
}

// ListPermissions returns the permission catalog ordered by code.
func (r *Roles) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, code, description FROM permissions ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()
	var out []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Description); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindRoleByName looks a role up by its unique name.
func (r *Roles) FindRoleByName(ctx context.Context, name string) (*auth.Role, error) {
	var role auth.Role
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT id, name, description, is_active FROM roles WHERE name = ?`), name).
		Scan(&role.ID, &role.Name, &role.Description, &role.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// FindPersonRole returns the grant linking personID to roleID.
func (r *Roles) FindPersonRole(ctx context.Context, personID, roleID string) (*auth.PersonRole, error) {
	var pr auth.PersonRole
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT person_id, role_id, from_date, unit_id, apartment_id, created_at
		FROM person_roles WHERE person_id = ? AND role_id = ?`), personID, roleID).
		Scan(&pr.PersonID, &pr.RoleID, &pr.FromDate, &pr.UnitID, &pr.ApartmentID, &pr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pr.FromDate = pr.FromDate.UTC()
	pr.CreatedAt = pr.CreatedAt.UTC()
	return &pr, nil
}

// AssignRole grants a role, replacing the window and scope of an existing grant.
func (r *Roles) AssignRole(ctx context.Context, pr auth.PersonRole) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO person_roles (person_id, role_id, from_date, unit_id, apartment_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (person_id, role_id) DO UPDATE SET
			from_date = excluded.from_date,
			unit_id = excluded.unit_id,
			apartment_id = excluded.apartment_id`),
		pr.PersonID, pr.RoleID, pr.FromDate.UTC(), pr.UnitID, pr.ApartmentID, pr.CreatedAt.UTC())
	return mapWriteError(err)
}

// EnsurePermission inserts the permission if its code is new and returns its id.
func (r *Roles) EnsurePermission(ctx context.Context, p auth.Permission, at time.Time) (string, error) {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO permissions (id, code, description, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (code) DO NOTHING`), ids.New(), p.Code, p.Description, at.UTC()); err != nil {
		return "", fmt.Errorf("ensure permission %s: %w", p.Code, err)
	}
	var id string
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT id FROM permissions WHERE code = ?`), p.Code).Scan(&id)
	return id, err
}

// EnsureRole inserts the role if its name is new and returns its id.
func (r *Roles) EnsureRole(ctx context.Context, role auth.Role, at time.Time) (string, error) {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO roles (id, name, description, is_active, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING`), ids.New(), role.Name, role.Description, role.IsActive, at.UTC()); err != nil {
		return "", fmt.Errorf("ensure role %s: %w", role.Name, err)
	}
	var id string
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT id FROM roles WHERE name = ?`), role.Name).Scan(&id)
	return id, err
}

// GrantPermission links a role to a permission, reactivating a disabled link.
func (r *Roles) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO role_permissions (role_id, permission_id, is_active) VALUES (?, ?, TRUE)
		ON CONFLICT (role_id, permission_id) DO UPDATE SET is_active = TRUE`), roleID, permissionID)
	return err
}

// SetRoleActive enables or disables a role without touching its grants.
func (r *Roles) SetRoleActive(ctx context.Context, roleID string, active bool) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE roles SET is_active = ? WHERE id = ?`), active, roleID)
	if err != nil {
		return err
	}
	return requireRow(res)
}
