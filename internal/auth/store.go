package auth

import (
	"context"
	"time"
)

// PersonStore is the credential side of person persistence.
type PersonStore interface {
	// FindByLogin matches username case-insensitively or any owned email.
	FindByLogin(ctx context.Context, login string) (*Person, error)
	FindByID(ctx context.Context, id string) (*Person, error)
	// RegisterFailedLogin atomically increments the failure counter and sets
	// locked_until to lockUntil once the counter reaches threshold.
	RegisterFailedLogin(ctx context.Context, personID string, threshold int, now, lockUntil time.Time) (attempts int, lockedUntil *time.Time, err error)
	RegisterSuccessfulLogin(ctx context.Context, personID string, at time.Time) error
	UpdatePassword(ctx context.Context, personID, hash string, at time.Time) error
}

// SessionStore persists sessions keyed by token hashes.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	// FindByTokenHash returns only active, unexpired sessions.
	FindByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*Session, error)
	FindByRefreshHash(ctx context.Context, refreshHash string) (*Session, error)
	// Rotate swaps both hashes if the stored refresh hash still equals oldRefreshHash.
	Rotate(ctx context.Context, id, oldRefreshHash, newTokenHash, newRefreshHash string, at time.Time) error
	Touch(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id string) error
	DeactivateByRefreshHash(ctx context.Context, personID, refreshHash string) (int64, error)
	// DeactivateByPerson ends every active session of the person except exceptID.
	DeactivateByPerson(ctx context.Context, personID, exceptID string) (int64, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// RoleStore resolves role grants.
type RoleStore interface {
	GrantsForPerson(ctx context.Context, personID string) ([]RoleGrant, error)
}
