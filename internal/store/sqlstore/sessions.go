package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"residencial.org/internal/auth"
)

const sessionColumns = `id, person_id, token_hash, refresh_token_hash, expires_at, last_activity,
	is_active, ip_address, user_agent, created_at`

// Sessions stores login sessions. Every call goes to the database.
type Sessions struct {
	db *DB
}

var _ auth.SessionStore = (*Sessions)(nil)

// NewSessions returns the session repository.
func NewSessions(db *DB) *Sessions {
	return &Sessions{db: db}
}

func scanSession(row scanner) (*auth.Session, error) {
	var s auth.Session
	err := row.Scan(&s.ID, &s.PersonID, &s.TokenHash, &s.RefreshTokenHash, &s.ExpiresAt, &s.LastActivity,
		&s.IsActive, &s.IPAddress, &s.UserAgent, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.LastActivity = s.LastActivity.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func (r *Sessions) findOne(ctx context.Context, where string, args ...any) (*auth.Session, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+sessionColumns+` FROM sessions WHERE `+where), args...)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return s, err
}

// Create inserts a new session.
func (r *Sessions) Create(ctx context.Context, s *auth.Session) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO sessions (id, person_id, token_hash, refresh_token_hash, expires_at, last_activity,
			is_active, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		s.ID, s.PersonID, s.TokenHash, s.RefreshTokenHash, s.ExpiresAt.UTC(), s.LastActivity.UTC(),
		s.IsActive, s.IPAddress, s.UserAgent, s.CreatedAt.UTC())
	return mapWriteError(err)
}

// FindByTokenHash returns the active, unexpired session owning an access token.
func (r *Sessions) FindByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*auth.Session, error) {
	return r.findOne(ctx, `token_hash = ? AND is_active = TRUE AND expires_at > ?`, tokenHash, now.UTC())
}

// FindByRefreshHash returns the session owning a refresh token in any state.
func (r *Sessions) FindByRefreshHash(ctx context.Context, refreshHash string) (*auth.Session, error) {
	return r.findOne(ctx, `refresh_token_hash = ?`, refreshHash)
}

// Rotate swaps both token hashes only while the old refresh hash is still current,
// so a refresh token can be redeemed once.
func (r *Sessions) Rotate(ctx context.Context, id, oldRefreshHash, newTokenHash, newRefreshHash string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions SET token_hash = ?, refresh_token_hash = ?, last_activity = ?
		WHERE id = ? AND refresh_token_hash = ? AND is_active = TRUE`),
		newTokenHash, newRefreshHash, at.UTC(), id, oldRefreshHash)
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(res)
}

// Touch records activity on a session.
func (r *Sessions) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE sessions SET last_activity = ? WHERE id = ?`), at.UTC(), id)
	return err
}

// Deactivate ends one session.
func (r *Sessions) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE sessions SET is_active = FALSE WHERE id = ? AND is_active = TRUE`), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeactivateByRefreshHash ends the person's session holding refreshHash.
func (r *Sessions) DeactivateByRefreshHash(ctx context.Context, personID, refreshHash string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions SET is_active = FALSE
		WHERE person_id = ? AND refresh_token_hash = ? AND is_active = TRUE`), personID, refreshHash)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeactivateByPerson ends every active session of the person except exceptID.
func (r *Sessions) DeactivateByPerson(ctx context.Context, personID, exceptID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions SET is_active = FALSE
		WHERE person_id = ? AND id <> ? AND is_active = TRUE`), personID, exceptID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeExpired deletes sessions whose expiry lies before the cutoff.
func (r *Sessions) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM sessions WHERE expires_at < ?`), before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountActive returns how many live sessions a person holds.
func (r *Sessions) CountActive(ctx context.Context, personID string, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT COUNT(*) FROM sessions WHERE person_id = ? AND is_active = TRUE AND expires_at > ?`),
		personID, now.UTC()).Scan(&n)
	return n, err
}
