package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"residencial.org/internal/auth"
	"residencial.org/internal/people"
)

const personColumns = `id, document_type, document_number, first_name, last_name, username, password_hash,
	phone, is_active, login_attempts, locked_until, last_login, created_at, updated_at, deleted_at`

// Persons stores persons and their emails.
type Persons struct {
	db *DB
}

var (
	_ auth.PersonStore = (*Persons)(nil)
	_ people.Store     = (*Persons)(nil)
)

// NewPersons returns the person repository.
func NewPersons(db *DB) *Persons {
	return &Persons{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPerson(row scanner) (*auth.Person, error) {
	var (
		p                     auth.Person
		username, hash        sql.NullString
		locked, last, deleted sql.NullTime
	)
	err := row.Scan(&p.ID, &p.DocumentType, &p.DocumentNumber, &p.FirstName, &p.LastName, &username, &hash,
		&p.Phone, &p.IsActive, &p.LoginAttempts, &locked, &last, &p.CreatedAt, &p.UpdatedAt, &deleted)
	if err != nil {
		return nil, err
	}
	p.Username = username.String
	p.PasswordHash = hash.String
	p.LockedUntil = timePtr(locked)
	p.LastLogin = timePtr(last)
	p.DeletedAt = timePtr(deleted)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Persons) findOne(ctx context.Context, where string, args ...any) (*auth.Person, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+personColumns+` FROM persons WHERE `+where), args...)
	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadEmails(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// FindByLogin matches an active, non-deleted person by username or any owned email.
func (s *Persons) FindByLogin(ctx context.Context, login string) (*auth.Person, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, auth.ErrNotFound
	}
	return s.findOne(ctx, `deleted_at IS NULL AND is_active = TRUE AND (
		LOWER(username) = LOWER(?)
		OR id IN (SELECT person_id FROM person_emails WHERE LOWER(email) = LOWER(?))
	) ORDER BY created_at LIMIT 1`, login, login)
}

// FindByID returns a non-deleted person.
func (s *Persons) FindByID(ctx context.Context, id string) (*auth.Person, error) {
	return s.findOne(ctx, `id = ? AND deleted_at IS NULL`, id)
}

// Get returns a person, optionally including soft-deleted ones.
func (s *Persons) Get(ctx context.Context, id string, includeDeleted bool) (*auth.Person, error) {
	if includeDeleted {
		return s.findOne(ctx, `id = ?`, id)
	}
	return s.FindByID(ctx, id)
}

// RegisterFailedLogin increments login_attempts and applies the lock in one transaction.
// An expired lock restarts the count at 1.
func (s *Persons) RegisterFailedLogin(ctx context.Context, personID string, threshold int, now, lockUntil time.Time) (int, *time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE persons SET
			login_attempts = CASE WHEN locked_until IS NOT NULL AND locked_until <= ? THEN 1 ELSE login_attempts + 1 END,
			locked_until = CASE WHEN locked_until IS NOT NULL AND locked_until <= ? THEN NULL ELSE locked_until END,
			updated_at = ?
		WHERE id = ?`), now.UTC(), now.UTC(), now.UTC(), personID)
	if err != nil {
		return 0, nil, fmt.Errorf("increment attempts: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, nil, auth.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE persons SET locked_until = ? WHERE id = ? AND login_attempts >= ?`),
		lockUntil.UTC(), personID, threshold); err != nil {
		return 0, nil, fmt.Errorf("apply lock: %w", err)
	}

	var (
		attempts int
		locked   sql.NullTime
	)
	if err := tx.QueryRowContext(ctx, s.db.Rebind(`SELECT login_attempts, locked_until FROM persons WHERE id = ?`), personID).
		Scan(&attempts, &locked); err != nil {
		return 0, nil, err
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, err
	}
	return attempts, timePtr(locked), nil
}

// RegisterSuccessfulLogin clears the lockout state and stamps last_login.
func (s *Persons) RegisterSuccessfulLogin(ctx context.Context, personID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE persons SET login_attempts = 0, locked_until = NULL, last_login = ?, updated_at = ?
		WHERE id = ?`), at.UTC(), at.UTC(), personID)
	return err
}

// UpdatePassword stores a new password hash.
func (s *Persons) UpdatePassword(ctx context.Context, personID, hash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE persons SET password_hash = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`),
		hash, at.UTC(), personID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Create inserts the person and its emails.
func (s *Persons) Create(ctx context.Context, p *auth.Person) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO persons (id, document_type, document_number, first_name, last_name, username, password_hash,
			phone, is_active, login_attempts, locked_until, last_login, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, NULL, ?, ?, NULL)`),
		p.ID, p.DocumentType, p.DocumentNumber, p.FirstName, p.LastName, nullIfEmpty(p.Username), nullIfEmpty(p.PasswordHash),
		p.Phone, p.IsActive, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return mapWriteError(err)
	}
	if err := s.insertEmails(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// Update rewrites the profile columns and replaces the email set.
func (s *Persons) Update(ctx context.Context, p *auth.Person) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE persons SET document_type = ?, document_number = ?, first_name = ?, last_name = ?,
			username = ?, phone = ?, is_active = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`),
		p.DocumentType, p.DocumentNumber, p.FirstName, p.LastName, nullIfEmpty(p.Username), p.Phone, p.IsActive,
		p.UpdatedAt.UTC(), p.ID)
	if err != nil {
		return mapWriteError(err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM person_emails WHERE person_id = ?`), p.ID); err != nil {
		return err
	}
	if err := s.insertEmails(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Persons) insertEmails(ctx context.Context, tx *sql.Tx, p *auth.Person) error {
	for _, e := range p.Emails {
		_, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO person_emails (id, person_id, email, is_primary, created_at) VALUES (?, ?, ?, ?, ?)`),
			e.ID, p.ID, strings.ToLower(e.Address), e.IsPrimary, p.UpdatedAt.UTC())
		if err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

// SoftDelete stamps deleted_at on a live person.
func (s *Persons) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE persons SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`),
		at.UTC(), at.UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Restore clears deleted_at on a soft-deleted person.
func (s *Persons) Restore(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE persons SET deleted_at = NULL, updated_at = ? WHERE id = ? AND deleted_at IS NOT NULL`),
		at.UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// List pages through persons ordered by name.
func (s *Persons) List(ctx context.Context, f people.ListFilter) ([]auth.Person, int, error) {
	f = f.Normalize()
	var (
		where []string
		args  []any
	)
	if !f.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		where = append(where, `(LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(username) LIKE ? OR document_number LIKE ?)`)
		args = append(args, like, like, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT COUNT(*) FROM persons`+clause), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count persons: %w", err)
	}

	query := `SELECT ` + personColumns + ` FROM persons` + clause + ` ORDER BY last_name, first_name, id LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), append(args, f.Limit, (f.Page-1)*f.Limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var out []*auth.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()

	if err := s.loadEmails(ctx, out...); err != nil {
		return nil, 0, err
	}
	result := make([]auth.Person, 0, len(out))
	for _, p := range out {
		result = append(result, *p)
	}
	return result, total, nil
}

func (s *Persons) loadEmails(ctx context.Context, ps ...*auth.Person) error {
	if len(ps) == 0 {
		return nil
	}
	byID := make(map[string]*auth.Person, len(ps))
	placeholders := make([]string, 0, len(ps))
	args := make([]any, 0, len(ps))
	for _, p := range ps {
		byID[p.ID] = p
		placeholders = append(placeholders, "?")
		args = append(args, p.ID)
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, person_id, email, is_primary FROM person_emails
		WHERE person_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY is_primary DESC, email`), args...)
	if err != nil {
		return fmt.Errorf("load emails: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e auth.Email
		if err := rows.Scan(&e.ID, &e.PersonID, &e.Address, &e.IsPrimary); err != nil {
			return err
		}
		if p, ok := byID[e.PersonID]; ok {
			p.Emails = append(p.Emails, e)
		}
	}
	return rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
