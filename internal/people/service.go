package people

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"residencial.org/internal/audit"
	"residencial.org/internal/auth"
	"residencial.org/internal/ids"
	"residencial.org/internal/validate"
)

const (
	tablePersons     = "persons"
	tablePersonRoles = "person_roles"
)

// Service is the person directory. Every mutation is audited.
type Service struct {
	store   Store
	catalog Catalog
	auditor auth.Auditor
	hasher  auth.Hasher
	logger  *zap.Logger
	now     func() time.Time
}

// NewService builds a Service. A nil logger becomes a no-op logger.
func NewService(store Store, catalog Catalog, auditor auth.Auditor, hasher auth.Hasher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hasher == nil {
		hasher = auth.BcryptHasher{}
	}
	return &Service{store: store, catalog: catalog, auditor: auditor, hasher: hasher, logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// CreateInput is the payload for a new person.
type CreateInput struct {
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	IsActive       *bool  `json:"is_active"`
}

func (in *CreateInput) normalize() {
	in.DocumentType = strings.ToUpper(strings.TrimSpace(in.DocumentType))
	in.DocumentNumber = strings.TrimSpace(in.DocumentNumber)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
}

// Validate reports every invalid field.
func (in CreateInput) Validate() error {
	var c validate.Collector
	if c.Required("document_type", in.DocumentType) {
		c.OneOf("document_type", in.DocumentType, DocumentTypes...)
	}
	if c.Required("document_number", in.DocumentNumber) {
		c.MaxLen("document_number", in.DocumentNumber, 30)
	}
	if c.Required("first_name", in.FirstName) {
		c.MaxLen("first_name", in.FirstName, 100)
	}
	if c.Required("last_name", in.LastName) {
		c.MaxLen("last_name", in.LastName, 100)
	}
	if in.Username != "" {
		c.MinLen("username", in.Username, 3)
		c.MaxLen("username", in.Username, 50)
	}
	if in.Password != "" {
		c.MinLen("password", in.Password, 8)
		c.Check(in.Username != "", "username", "is required when a password is set")
	}
	c.Email("email", in.Email)
	c.MaxLen("phone", in.Phone, 30)
	return c.Err()
}

// Create inserts a person and records a CREATE audit row.
func (s *Service) Create(ctx context.Context, in CreateInput) (*auth.Person, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	p := &auth.Person{
		ID:             ids.New(),
		DocumentType:   in.DocumentType,
		DocumentNumber: in.DocumentNumber,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Username:       in.Username,
		Phone:          in.Phone,
		IsActive:       in.IsActive == nil || *in.IsActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Password != "" {
		hash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		p.PasswordHash = hash
	}
	if in.Email != "" {
		p.Emails = []auth.Email{{ID: ids.New(), PersonID: p.ID, Address: in.Email, IsPrimary: true}}
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	s.record(ctx, audit.Entry{TableName: tablePersons, RecordID: p.ID, Operation: audit.OpCreate, New: Snapshot(p)})
	return p, nil
}

// UpdateInput carries a partial update. Nil fields stay unchanged.
type UpdateInput struct {
	DocumentType   *string `json:"document_type"`
	DocumentNumber *string `json:"document_number"`
	FirstName      *string `json:"first_name"`
	LastName       *string `json:"last_name"`
	Username       *string `json:"username"`
	Email          *string `json:"email"`
	Phone          *string `json:"phone"`
	IsActive       *bool   `json:"is_active"`
}

// Update applies in to the person and records an UPDATE audit row with both snapshots.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*auth.Person, error) {
	current, err := s.store.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}
	before := Snapshot(current)

	next := *current
	next.Emails = append([]auth.Email(nil), current.Emails...)
	if in.DocumentType != nil {
		next.DocumentType = strings.ToUpper(strings.TrimSpace(*in.DocumentType))
	}
	if in.DocumentNumber != nil {
		next.DocumentNumber = strings.TrimSpace(*in.DocumentNumber)
	}
	if in.FirstName != nil {
		next.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		next.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Username != nil {
		next.Username = strings.ToLower(strings.TrimSpace(*in.Username))
	}
	if in.Phone != nil {
		next.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.IsActive != nil {
		next.IsActive = *in.IsActive
	}
	if in.Email != nil {
		next.Emails = replacePrimaryEmail(next.ID, next.Emails, strings.ToLower(strings.TrimSpace(*in.Email)))
	}

	check := CreateInput{
		DocumentType:   next.DocumentType,
		DocumentNumber: next.DocumentNumber,
		FirstName:      next.FirstName,
		LastName:       next.LastName,
		Username:       next.Username,
		Email:          next.PrimaryEmail(),
		Phone:          next.Phone,
	}
	if err := check.Validate(); err != nil {
		return nil, err
	}
	if next.PasswordHash != "" && next.Username == "" {
		return nil, &validate.Error{Violations: []validate.Violation{{Field: "username", Message: "is required when a password is set"}}}
	}

	next.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, &next); err != nil {
		return nil, err
	}
	s.record(ctx, audit.Entry{TableName: tablePersons, RecordID: id, Operation: audit.OpUpdate, Old: before, New: Snapshot(&next)})
	return &next, nil
}

func replacePrimaryEmail(personID string, emails []auth.Email, address string) []auth.Email {
	out := make([]auth.Email, 0, len(emails)+1)
	for _, e := range emails {
		if e.IsPrimary || e.Address == address {
			continue
		}
		out = append(out, e)
	}
	if address == "" {
		return out
	}
	return append([]auth.Email{{ID: ids.New(), PersonID: personID, Address: address, IsPrimary: true}}, out...)
}

// Delete soft-deletes the person and records a DELETE audit row.
func (s *Service) Delete(ctx context.Context, id string) error {
	current, err := s.store.Get(ctx, id, false)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.store.SoftDelete(ctx, id, now); err != nil {
		return err
	}
	s.record(ctx, audit.Entry{TableName: tablePersons, RecordID: id, Operation: audit.OpDelete, Old: Snapshot(current)})
	return nil
}

// Restore undoes a soft delete and records a RESTORE audit row.
func (s *Service) Restore(ctx context.Context, id string) (*auth.Person, error) {
	current, err := s.store.Get(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if current.DeletedAt == nil {
		return nil, auth.ErrNotFound
	}
	before := Snapshot(current)
	now := s.now().UTC()
	if err := s.store.Restore(ctx, id, now); err != nil {
		return nil, err
	}
	current.DeletedAt = nil
	current.UpdatedAt = now
	s.record(ctx, audit.Entry{TableName: tablePersons, RecordID: id, Operation: audit.OpRestore, Old: before, New: Snapshot(current)})
	return current, nil
}

// Get returns a live person.
func (s *Service) Get(ctx context.Context, id string) (*auth.Person, error) {
	return s.store.Get(ctx, id, false)
}

// ListResult is one page of persons.
type ListResult struct {
	Items []auth.Person
	Total int
	Page  int
	Limit int
}

// List returns persons matching f.
func (s *Service) List(ctx context.Context, f ListFilter) (ListResult, error) {
	f = f.Normalize()
	f.Search = strings.TrimSpace(f.Search)
	items, total, err := s.store.List(ctx, f)
	if err != nil {
		return ListResult{}, fmt.Errorf("list persons: %w", err)
	}
	return ListResult{Items: items, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// AssignRoleInput grants a role by name.
type AssignRoleInput struct {
	Role        string     `json:"role"`
	FromDate    *time.Time `json:"from_date"`
	UnitID      string     `json:"unit_id"`
	ApartmentID string     `json:"apartment_id"`
}

// AssignRole links a person to a role. A new grant is audited as CREATE on
// person_roles; replacing an existing grant is audited as UPDATE with the old window.
func (s *Service) AssignRole(ctx context.Context, personID string, in AssignRoleInput) (*auth.PersonRole, error) {
	var c validate.Collector
	c.Required("role", in.Role)
	if err := c.Err(); err != nil {
		return nil, err
	}
	if _, err := s.store.Get(ctx, personID, false); err != nil {
		return nil, err
	}
	role, err := s.catalog.FindRoleByName(ctx, strings.TrimSpace(in.Role))
	if errors.Is(err, auth.ErrNotFound) {
		return nil, &validate.Error{Violations: []validate.Violation{{Field: "role", Message: "does not exist"}}}
	}
	if err != nil {
		return nil, err
	}
	prior, err := s.catalog.FindPersonRole(ctx, personID, role.ID)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return nil, err
	}
	now := s.now().UTC()
	from := now
	if in.FromDate != nil {
		from = in.FromDate.UTC()
	}
	pr := &auth.PersonRole{
		PersonID:    personID,
		RoleID:      role.ID,
		FromDate:    from,
		UnitID:      strings.TrimSpace(in.UnitID),
		ApartmentID: strings.TrimSpace(in.ApartmentID),
		CreatedAt:   now,
	}
	if prior != nil {
		pr.CreatedAt = prior.CreatedAt
	}
	if err := s.catalog.AssignRole(ctx, *pr); err != nil {
		return nil, err
	}

	entry := audit.Entry{
		TableName: tablePersonRoles,
		RecordID:  personID + ":" + role.ID,
		Operation: audit.OpCreate,
		New:       grantSnapshot(role.Name, pr),
	}
	if prior != nil {
		entry.Operation = audit.OpUpdate
		entry.Old = grantSnapshot(role.Name, prior)
	}
	s.record(ctx, entry)
	return pr, nil
}

func grantSnapshot(roleName string, pr *auth.PersonRole) map[string]any {
	return map[string]any{
		"person_id":    pr.PersonID,
		"role":         roleName,
		"from_date":    pr.FromDate.UTC(),
		"unit_id":      pr.UnitID,
		"apartment_id": pr.ApartmentID,
	}
}

// Roles lists the role catalog.
func (s *Service) Roles(ctx context.Context) ([]auth.Role, error) {
	return s.catalog.ListRoles(ctx)
}

// Permissions lists the permission catalog.
func (s *Service) Permissions(ctx context.Context) ([]auth.Permission, error) {
	return s.catalog.ListPermissions(ctx)
}

func (s *Service) record(ctx context.Context, e audit.Entry) {
	if s.auditor == nil {
		return
	}
	if out := s.auditor.Record(ctx, e); !out.Recorded {
		s.logger.Debug("mutation left unaudited", zap.String("table_name", e.TableName), zap.String("record_id", e.RecordID))
	}
}
