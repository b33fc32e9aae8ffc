package people

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"residencial.org/internal/audit"
	"residencial.org/internal/auth"
	"residencial.org/internal/validate"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]auth.Person
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]auth.Person)} }

func (m *memStore) Create(_ context.Context, p *auth.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.DocumentNumber == p.DocumentNumber {
			return &auth.DuplicateFieldError{Field: "document_number"}
		}
		if p.Username != "" && r.Username == p.Username {
			return &auth.DuplicateFieldError{Field: "username"}
		}
	}
	m.rows[p.ID] = *p
	return nil
}

func (m *memStore) Get(_ context.Context, id string, includeDeleted bool) (*auth.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || (!includeDeleted && p.DeletedAt != nil) {
		return nil, auth.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) Update(_ context.Context, p *auth.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.ID] = *p
	return nil
}

func (m *memStore) SoftDelete(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.rows[id]
	p.DeletedAt = &at
	m.rows[id] = p
	return nil
}

func (m *memStore) Restore(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.rows[id]
	p.DeletedAt = nil
	p.UpdatedAt = at
	m.rows[id] = p
	return nil
}

func (m *memStore) List(_ context.Context, f ListFilter) ([]auth.Person, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.Person
	for _, p := range m.rows {
		if !f.IncludeDeleted && p.DeletedAt != nil {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(p.FullName()), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type memCatalog struct {
	roles    []auth.Role
	assigned []auth.PersonRole
}

func (c *memCatalog) ListRoles(context.Context) ([]auth.Role, error) { return c.roles, nil }
func (c *memCatalog) ListPermissions(context.Context) ([]auth.Permission, error) {
	return auth.BuiltinPermissions, nil
}
func (c *memCatalog) FindRoleByName(_ context.Context, name string) (*auth.Role, error) {
	for _, r := range c.roles {
		if r.Name == name {
			return &r, nil
		}
	}
	return nil, auth.ErrNotFound
}
func (c *memCatalog) FindPersonRole(_ context.Context, personID, roleID string) (*auth.PersonRole, error) {
	for i := len(c.assigned) - 1; i >= 0; i-- {
		if pr := c.assigned[i]; pr.PersonID == personID && pr.RoleID == roleID {
			return &pr, nil
		}
	}
	return nil, auth.ErrNotFound
}
func (c *memCatalog) AssignRole(_ context.Context, pr auth.PersonRole) error {
	c.assigned = append(c.assigned, pr)
	return nil
}

type memAudit struct {
	mu   sync.Mutex
	rows []audit.Log
}

func (m *memAudit) Insert(_ context.Context, l *audit.Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *l)
	return nil
}
func (m *memAudit) List(context.Context, audit.Filter) ([]audit.Log, int, error) {
	return m.rows, len(m.rows), nil
}
func (m *memAudit) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func newTestService(t *testing.T) (*Service, *memStore, *memAudit, *memCatalog) {
	t.Helper()
	store := newMemStore()
	logs := &memAudit{}
	catalog := &memCatalog{roles: []auth.Role{{ID: "r-res", Name: auth.RoleResident, IsActive: true}}}
	svc := NewService(store, catalog, audit.NewRecorder(logs, zap.NewNop()), auth.BcryptHasher{Cost: bcrypt.MinCost}, zap.NewNop())
	return svc, store, logs, catalog
}

func validInput(doc string) CreateInput {
	return CreateInput{
		DocumentType:   "cc",
		DocumentNumber: doc,
		FirstName:      " Lucia ",
		LastName:       "Gomez",
		Email:          "Lucia." + doc + "@Example.com",
	}
}

func TestCreateAuditsEveryInsert(t *testing.T) {
	svc, _, logs, _ := newTestService(t)
	ctx := audit.WithMeta(context.Background(), audit.Meta{ActorID: "p-admin"})

	const n = 4
	for i := 0; i < n; i++ {
		p, err := svc.Create(ctx, validInput("100"+string(rune('0'+i))))
		require.NoError(t, err)
		assert.Equal(t, "CC", p.DocumentType)
		assert.Equal(t, "Lucia", p.FirstName)
		assert.True(t, p.IsActive)
	}

	require.Len(t, logs.rows, n)
	for _, row := range logs.rows {
		assert.Equal(t, "persons", row.TableName)
		assert.Equal(t, audit.OpCreate, row.Operation)
		assert.Empty(t, row.ChangedFields)
		assert.Equal(t, "p-admin", row.UserID)
		assert.NotContains(t, string(row.NewValues), "password_hash")
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, logs, _ := newTestService(t)
	_, err := svc.Create(context.Background(), CreateInput{DocumentType: "XX", Password: "short", Email: "nope"})

	var verr *validate.Error
	require.ErrorAs(t, err, &verr)
	fields := map[string]bool{}
	for _, v := range verr.Violations {
		fields[v.Field] = true
	}
	for _, f := range []string{"document_type", "document_number", "first_name", "last_name", "password", "username", "email"} {
		assert.True(t, fields[f], "expected violation on %s", f)
	}
	assert.Empty(t, logs.rows)
}

func TestCreateDuplicateIsReported(t *testing.T) {
	svc, _, logs, _ := newTestService(t)
	_, err := svc.Create(context.Background(), validInput("555"))
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), validInput("555"))
	var dup *auth.DuplicateFieldError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "document_number", dup.Field)
	assert.Len(t, logs.rows, 1)
}

func TestCreateHashesPassword(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	in := validInput("777")
	in.Username = "Lucia"
	in.Password = "longenough"
	p, err := svc.Create(context.Background(), in)
	require.NoError(t, err)

	stored := store.rows[p.ID]
	assert.Equal(t, "lucia", stored.Username)
	require.NotEmpty(t, stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("longenough")))
}

func TestUpdateRecordsChangedFields(t *testing.T) {
	svc, _, logs, _ := newTestService(t)
	p, err := svc.Create(context.Background(), validInput("900"))
	require.NoError(t, err)

	last := "Herrera"
	phone := "3001234567"
	updated, err := svc.Update(context.Background(), p.ID, UpdateInput{LastName: &last, Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "Herrera", updated.LastName)

	require.Len(t, logs.rows, 2)
	row := logs.rows[1]
	assert.Equal(t, audit.OpUpdate, row.Operation)
	assert.Equal(t, []string{"last_name", "phone"}, row.ChangedFields)
}

func TestDeleteAndRestore(t *testing.T) {
	svc, _, logs, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, validInput("901"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, p.ID))
	_, err = svc.Get(ctx, p.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, p.ID), auth.ErrNotFound)

	restored, err := svc.Restore(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.DeletedAt)

	_, err = svc.Restore(ctx, p.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	ops := []audit.Operation{}
	for _, r := range logs.rows {
		ops = append(ops, r.Operation)
	}
	assert.Equal(t, []audit.Operation{audit.OpCreate, audit.OpDelete, audit.OpRestore}, ops)
	assert.Equal(t, []string{"deleted_at"}, logs.rows[2].ChangedFields)
}

func TestAssignRole(t *testing.T) {
	svc, _, logs, catalog := newTestService(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, validInput("902"))
	require.NoError(t, err)

	_, err = svc.AssignRole(ctx, p.ID, AssignRoleInput{Role: "emperor"})
	var verr *validate.Error
	require.ErrorAs(t, err, &verr)

	pr, err := svc.AssignRole(ctx, p.ID, AssignRoleInput{Role: auth.RoleResident, ApartmentID: "apt-301"})
	require.NoError(t, err)
	assert.Equal(t, "r-res", pr.RoleID)
	require.Len(t, catalog.assigned, 1)
	assert.Equal(t, "apt-301", catalog.assigned[0].ApartmentID)

	last := logs.rows[len(logs.rows)-1]
	assert.Equal(t, "person_roles", last.TableName)
	assert.Equal(t, audit.OpCreate, last.Operation)
}

func TestReassignRoleIsAuditedAsUpdate(t *testing.T) {
	svc, _, logs, catalog := newTestService(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, validInput("903"))
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	first, err := svc.AssignRole(ctx, p.ID, AssignRoleInput{Role: auth.RoleResident, FromDate: &from, ApartmentID: "apt-301"})
	require.NoError(t, err)
	second, err := svc.AssignRole(ctx, p.ID, AssignRoleInput{Role: auth.RoleResident, FromDate: &from, ApartmentID: "apt-502"})
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	require.Len(t, catalog.assigned, 2)

	last := logs.rows[len(logs.rows)-1]
	assert.Equal(t, "person_roles", last.TableName)
	assert.Equal(t, audit.OpUpdate, last.Operation)
	assert.Equal(t, []string{"apartment_id"}, last.ChangedFields)
	assert.Contains(t, string(last.OldValues), "apt-301")
	assert.Contains(t, string(last.NewValues), "apt-502")
}

func TestListSearch(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, validInput("1"))
	require.NoError(t, err)
	other := validInput("2")
	other.FirstName = "Mario"
	_, err = svc.Create(ctx, other)
	require.NoError(t, err)

	res, err := svc.List(ctx, ListFilter{Search: "mario"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 20, res.Limit)
}
