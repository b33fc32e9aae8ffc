package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"residencial.org/internal/audit"
	"residencial.org/internal/auth"
	"residencial.org/internal/ids"
	"residencial.org/internal/people"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return db
}

func newPerson(doc, username, email string) *auth.Person {
	id := ids.New()
	p := &auth.Person{
		ID:             id,
		DocumentType:   "CC",
		DocumentNumber: doc,
		FirstName:      "Ana",
		LastName:       "Rojas " + doc,
		Username:       username,
		PasswordHash:   "hash",
		IsActive:       true,
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
	if email != "" {
		p.Emails = []auth.Email{{ID: ids.New(), PersonID: id, Address: email, IsPrimary: true}}
	}
	return p
}

func TestPersonsFindByLogin(t *testing.T) {
	ctx := context.Background()
	repo := NewPersons(openTestDB(t))
	p := newPerson("1001", "ana", "Ana@Example.com")
	require.NoError(t, repo.Create(ctx, p))

	byName, err := repo.FindByLogin(ctx, "ANA")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)
	assert.Equal(t, "ana@example.com", byName.PrimaryEmail())

	byEmail, err := repo.FindByLogin(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byEmail.ID)

	_, err = repo.FindByLogin(ctx, "nobody")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	require.NoError(t, repo.SoftDelete(ctx, p.ID, t0.Add(time.Hour)))
	_, err = repo.FindByLogin(ctx, "ana")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	deleted, err := repo.Get(ctx, p.ID, true)
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedAt)
	assert.True(t, deleted.DeletedAt.Equal(t0.Add(time.Hour)))

	require.NoError(t, repo.Restore(ctx, p.ID, t0.Add(2*time.Hour)))
	assert.ErrorIs(t, repo.Restore(ctx, p.ID, t0.Add(3*time.Hour)), auth.ErrNotFound)
}

func TestPersonsDuplicateFields(t *testing.T) {
	ctx := context.Background()
	repo := NewPersons(openTestDB(t))
	require.NoError(t, repo.Create(ctx, newPerson("2001", "bruno", "bruno@example.com")))

	var dup *auth.DuplicateFieldError
	err := repo.Create(ctx, newPerson("2002", "bruno", ""))
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, "username", dup.Field)

	err = repo.Create(ctx, newPerson("2001", "other", ""))
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, "document_number", dup.Field)

	err = repo.Create(ctx, newPerson("2003", "third", "BRUNO@example.com"))
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, "email", dup.Field)

	// A failed email insert rolls the person back too.
	_, err = repo.FindByLogin(ctx, "third")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestPersonsLockoutCounter(t *testing.T) {
	ctx := context.Background()
	repo := NewPersons(openTestDB(t))
	p := newPerson("3001", "carla", "")
	require.NoError(t, repo.Create(ctx, p))

	lockUntil := t0.Add(15 * time.Minute)
	for i := 1; i <= 4; i++ {
		n, locked, err := repo.RegisterFailedLogin(ctx, p.ID, 5, t0, lockUntil)
		require.NoError(t, err)
		assert.Equal(t, i, n)
		assert.Nil(t, locked)
	}
	n, locked, err := repo.RegisterFailedLogin(ctx, p.ID, 5, t0, lockUntil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NotNil(t, locked)
	assert.True(t, locked.Equal(lockUntil))

	stored, err := repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, stored.LockedAt(t0.Add(time.Minute)))

	// After the lock lapses the count starts over.
	later := lockUntil.Add(time.Second)
	n, locked, err = repo.RegisterFailedLogin(ctx, p.ID, 5, later, later.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Nil(t, locked)

	require.NoError(t, repo.RegisterSuccessfulLogin(ctx, p.ID, later))
	stored, err = repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.LoginAttempts)
	assert.Nil(t, stored.LockedUntil)
	require.NotNil(t, stored.LastLogin)
	assert.True(t, stored.LastLogin.Equal(later))

	_, _, err = repo.RegisterFailedLogin(ctx, "missing", 5, t0, lockUntil)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestPersonsUpdateAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewPersons(openTestDB(t))
	a := newPerson("4001", "diego", "diego@example.com")
	b := newPerson("4002", "elena", "")
	c := newPerson("4003", "", "")
	for _, p := range []*auth.Person{a, b, c} {
		require.NoError(t, repo.Create(ctx, p))
	}

	a.FirstName = "Diego"
	a.Phone = "3001234567"
	a.UpdatedAt = t0.Add(time.Minute)
	a.Emails = []auth.Email{{ID: ids.New(), PersonID: a.ID, Address: "diego@new.example", IsPrimary: true}}
	require.NoError(t, repo.Update(ctx, a))

	got, err := repo.Get(ctx, a.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "Diego", got.FirstName)
	assert.Equal(t, "diego@new.example", got.PrimaryEmail())
	assert.Len(t, got.Emails, 1)

	require.NoError(t, repo.SoftDelete(ctx, c.ID, t0))

	items, total, err := repo.List(ctx, people.ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 1)

	_, total, err = repo.List(ctx, people.ListFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	items, total, err = repo.List(ctx, people.ListFilter{Search: "ELENA"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, b.ID, items[0].ID)

	assert.ErrorIs(t, repo.Update(ctx, c), auth.ErrNotFound)
}

func TestSessionsLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	persons := NewPersons(db)
	repo := NewSessions(db)
	p := newPerson("5001", "fabio", "")
	require.NoError(t, persons.Create(ctx, p))

	mk := func(token string, expires time.Time) *auth.Session {
		return &auth.Session{
			ID:               ids.New(),
			PersonID:         p.ID,
			TokenHash:        auth.HashToken(token),
			RefreshTokenHash: auth.HashToken("r-" + token),
			ExpiresAt:        expires,
			LastActivity:     t0,
			IsActive:         true,
			IPAddress:        "10.0.0.1",
			UserAgent:        "test",
			CreatedAt:        t0,
		}
	}
	s1 := mk("one", t0.Add(7*24*time.Hour))
	s2 := mk("two", t0.Add(7*24*time.Hour))
	old := mk("old", t0.Add(-time.Hour))
	for _, s := range []*auth.Session{s1, s2, old} {
		require.NoError(t, repo.Create(ctx, s))
	}

	got, err := repo.FindByTokenHash(ctx, s1.TokenHash, t0)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, got.ID)
	assert.Equal(t, "10.0.0.1", got.IPAddress)

	_, err = repo.FindByTokenHash(ctx, old.TokenHash, t0)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	byRefresh, err := repo.FindByRefreshHash(ctx, s1.RefreshTokenHash)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, byRefresh.ID)

	newAccess, newRefresh := auth.HashToken("one-b"), auth.HashToken("r-one-b")
	require.NoError(t, repo.Rotate(ctx, s1.ID, s1.RefreshTokenHash, newAccess, newRefresh, t0.Add(time.Minute)))
	assert.ErrorIs(t, repo.Rotate(ctx, s1.ID, s1.RefreshTokenHash, "x", "y", t0.Add(2*time.Minute)), auth.ErrNotFound)

	_, err = repo.FindByTokenHash(ctx, s1.TokenHash, t0)
	assert.ErrorIs(t, err, auth.ErrNotFound)
	rotated, err := repo.FindByTokenHash(ctx, newAccess, t0)
	require.NoError(t, err)
	assert.True(t, rotated.LastActivity.Equal(t0.Add(time.Minute)))

	active, err := repo.CountActive(ctx, p.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, active)

	n, err := repo.DeactivateByPerson(ctx, p.ID, s1.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	active, err = repo.CountActive(ctx, p.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	n, err = repo.DeactivateByRefreshHash(ctx, p.ID, newRefresh)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.ErrorIs(t, repo.Deactivate(ctx, s1.ID), auth.ErrNotFound)

	purged, err := repo.PurgeExpired(ctx, t0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
}

func TestRolesGrantsAndCatalog(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	persons := NewPersons(db)
	roles := NewRoles(db)
	p := newPerson("6001", "gina", "")
	require.NoError(t, persons.Create(ctx, p))

	readID, err := roles.EnsurePermission(ctx, auth.Permission{Code: "persons.read", Description: "read"}, t0)
	require.NoError(t, err)
	again, err := roles.EnsurePermission(ctx, auth.Permission{Code: "persons.read"}, t0)
	require.NoError(t, err)
	assert.Equal(t, readID, again)
	auditID, err := roles.EnsurePermission(ctx, auth.Permission{Code: "audit.read"}, t0)
	require.NoError(t, err)

	guardID, err := roles.EnsureRole(ctx, auth.Role{Name: "guard", IsActive: true}, t0)
	require.NoError(t, err)
	emptyID, err := roles.EnsureRole(ctx, auth.Role{Name: "resident", IsActive: true}, t0)
	require.NoError(t, err)
	require.NoError(t, roles.GrantPermission(ctx, guardID, readID))
	require.NoError(t, roles.GrantPermission(ctx, guardID, auditID))
	require.NoError(t, roles.GrantPermission(ctx, guardID, readID))

	require.NoError(t, roles.AssignRole(ctx, auth.PersonRole{PersonID: p.ID, RoleID: guardID, FromDate: t0, CreatedAt: t0}))
	require.NoError(t, roles.AssignRole(ctx, auth.PersonRole{PersonID: p.ID, RoleID: emptyID, FromDate: t0, UnitID: "T1", CreatedAt: t0}))
	// Reassigning moves the window instead of failing.
	require.NoError(t, roles.AssignRole(ctx, auth.PersonRole{PersonID: p.ID, RoleID: emptyID, FromDate: t0.Add(time.Hour), UnitID: "T2", CreatedAt: t0}))

	held, err := roles.FindPersonRole(ctx, p.ID, emptyID)
	require.NoError(t, err)
	assert.Equal(t, "T2", held.UnitID)
	assert.True(t, held.CreatedAt.Equal(t0))
	_, err = roles.FindPersonRole(ctx, "nobody", emptyID)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	grants, err := roles.GrantsForPerson(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, "guard", grants[0].Role.Name)
	assert.Equal(t, []string{"audit.read", "persons.read"}, grants[0].Role.Permissions)
	assert.Equal(t, "resident", grants[1].Role.Name)
	assert.Empty(t, grants[1].Role.Permissions)
	assert.Equal(t, "T2", grants[1].UnitID)
	assert.True(t, grants[1].FromDate.Equal(t0.Add(time.Hour)))

	principal := auth.NewPrincipal(p, grants, t0.Add(2*time.Hour))
	assert.True(t, principal.HasPermission("audit.read"))
	assert.True(t, principal.HasAnyRole("resident"))

	list, err := roles.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []string{}, list[1].Permissions)

	perms, err := roles.ListPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.Equal(t, "audit.read", perms[0].Code)

	found, err := roles.FindRoleByName(ctx, "guard")
	require.NoError(t, err)
	assert.Equal(t, guardID, found.ID)
	_, err = roles.FindRoleByName(ctx, "ghost")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	require.NoError(t, roles.SetRoleActive(ctx, guardID, false))
	grants, err = roles.GrantsForPerson(ctx, p.ID)
	require.NoError(t, err)
	principal = auth.NewPrincipal(p, grants, t0.Add(2*time.Hour))
	assert.False(t, principal.HasPermission("audit.read"))
}

func TestAuditLogsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewAuditLogs(openTestDB(t))

	insert := func(table string, op audit.Operation, user string, at time.Time, changed []string) *audit.Log {
		l := &audit.Log{
			ID:            ids.New(),
			TableName:     table,
			RecordID:      ids.New(),
			Operation:     op,
			NewValues:     json.RawMessage(`{"first_name":"Ana"}`),
			ChangedFields: changed,
			UserID:        user,
			IPAddress:     "127.0.0.1",
			CreatedAt:     at,
		}
		require.NoError(t, repo.Insert(ctx, l))
		return l
	}
	ancient := insert("persons", audit.OpCreate, "", t0.AddDate(0, 0, -120), nil)
	insert("persons", audit.OpUpdate, "admin", t0.AddDate(0, 0, -10), []string{"first_name"})
	newest := insert("person_roles", audit.OpCreate, "admin", t0, nil)

	items, total, err := repo.List(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 3)
	assert.Equal(t, newest.ID, items[0].ID)
	assert.Equal(t, []string{}, items[0].ChangedFields)
	assert.Nil(t, items[0].OldValues)
	assert.JSONEq(t, `{"first_name":"Ana"}`, string(items[0].NewValues))
	assert.Equal(t, ancient.ID, items[2].ID)
	assert.Empty(t, items[2].UserID)

	items, total, err = repo.List(ctx, audit.Filter{TableName: "persons", Operation: audit.OpUpdate, UserID: "admin"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, []string{"first_name"}, items[0].ChangedFields)

	after := t0.AddDate(0, 0, -30)
	_, total, err = repo.List(ctx, audit.Filter{CreatedAfter: &after})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	// The upper bound is exclusive.
	before := t0
	_, total, err = repo.List(ctx, audit.Filter{CreatedBefore: &before})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	nextDay := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	_, total, err = repo.List(ctx, audit.Filter{CreatedAfter: &after, CreatedBefore: &nextDay})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	items, total, err = repo.List(ctx, audit.Filter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 1)

	deleted, err := repo.DeleteBefore(ctx, t0.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
	_, total, err = repo.List(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestParseDSN(t *testing.T) {
	cases := []struct {
		in     string
		driver Driver
		dsn    string
	}{
		{"postgres://u:p@db/app", DriverPostgres, "postgres://u:p@db/app"},
		{"postgresql://db/app", DriverPostgres, "postgresql://db/app"},
		{"sqlite://:memory:", DriverSQLite, "file::memory:?_pragma=foreign_keys(1)&_time_format=sqlite"},
		{"sqlite://data/app.db", DriverSQLite, "file:data/app.db?" + sqlitePragmas},
		{"app.db", DriverSQLite, "file:app.db?" + sqlitePragmas},
	}
	for _, tc := range cases {
		driver, dsn := ParseDSN(tc.in)
		assert.Equal(t, tc.driver, driver, tc.in)
		assert.Equal(t, tc.dsn, dsn, tc.in)
	}
}
