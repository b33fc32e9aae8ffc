package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"residencial.org/internal/auth"
	"residencial.org/internal/config"
	"residencial.org/internal/store/sqlstore"
)

func TestRunSeedsCatalogAndAdminOnce(t *testing.T) {
	ctx := context.Background()
	db, err := sqlstore.Open(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	mgr, err := db.Migrations()
	require.NoError(t, err)

	persons := sqlstore.NewPersons(db)
	roles := sqlstore.NewRoles(db)
	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}
	s := New(roles, persons, hasher, nil)
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	cfg := config.SeedConfig{AdminUsername: "admin", AdminPassword: "admin123", AdminEmail: "admin@residencial.local"}
	require.NoError(t, s.Run(ctx, mgr, cfg))
	require.NoError(t, s.Run(ctx, mgr, cfg))

	admin, err := persons.FindByLogin(ctx, "admin@residencial.local")
	require.NoError(t, err)
	assert.Equal(t, "admin", admin.Username)
	require.NoError(t, hasher.Compare(admin.PasswordHash, "admin123"))

	grants, err := roles.GrantsForPerson(ctx, admin.ID)
	require.NoError(t, err)
	p := auth.NewPrincipal(admin, grants, now.Add(time.Minute))
	assert.True(t, p.HasRole(auth.RoleAdmin))
	for _, perm := range auth.BuiltinPermissions {
		assert.True(t, p.HasPermission(perm.Code), perm.Code)
	}

	list, err := roles.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, list, len(auth.BuiltinRoles))
	perms, err := roles.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, len(auth.BuiltinPermissions))
}

func TestAdminSkipsExistingUser(t *testing.T) {
	ctx := context.Background()
	db, err := sqlstore.Open(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	s := New(sqlstore.NewRoles(db), sqlstore.NewPersons(db), auth.BcryptHasher{Cost: bcrypt.MinCost}, nil)
	cfg := config.SeedConfig{AdminUsername: "root", AdminPassword: "secret123"}
	created, err := s.Admin(ctx, cfg)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Admin(ctx, cfg)
	require.NoError(t, err)
	assert.False(t, created)

	created, err = s.Admin(ctx, config.SeedConfig{})
	require.NoError(t, err)
	assert.False(t, created)
}
