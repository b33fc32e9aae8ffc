package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultLockThreshold = 5
	defaultLockDuration  = 15 * time.Minute
)

// Verifier checks login credentials and enforces the failed-attempt lockout.
type Verifier struct {
	persons   PersonStore
	hasher    Hasher
	now       func() time.Time
	threshold int
	lockFor   time.Duration
}

// NewVerifier builds a Verifier with the default 5 attempts / 15 minutes policy.
func NewVerifier(persons PersonStore, hasher Hasher) *Verifier {
	return &Verifier{
		persons:   persons,
		hasher:    hasher,
		now:       time.Now,
		threshold: defaultLockThreshold,
		lockFor:   defaultLockDuration,
	}
}

// Verify returns the person identified by login when password matches.
//
// A locked account is rejected before the password is looked at. The failure
// that brings the counter to the threshold still reports ErrInvalidPassword;
// the lock applies from the next attempt.
func (v *Verifier) Verify(ctx context.Context, login, password string) (*Person, error) {
	login = strings.TrimSpace(login)
	person, err := v.persons.FindByLogin(ctx, login)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find person: %w", err)
	}

	now := v.now().UTC()
	if person.LockedAt(now) {
		return nil, &LockedError{Until: *person.LockedUntil}
	}
	if person.PasswordHash == "" {
		return nil, ErrNoPasswordConfigured
	}

	if err := v.hasher.Compare(person.PasswordHash, password); err != nil {
		attempts, lockedUntil, ferr := v.persons.RegisterFailedLogin(ctx, person.ID, v.threshold, now, now.Add(v.lockFor))
		if ferr != nil {
			return nil, fmt.Errorf("record failed login: %w", ferr)
		}
		person.LoginAttempts = attempts
		person.LockedUntil = lockedUntil
		return nil, ErrInvalidPassword
	}

	if err := v.persons.RegisterSuccessfulLogin(ctx, person.ID, now); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	person.LoginAttempts = 0
	person.LockedUntil = nil
	person.LastLogin = &now
	return person, nil
}
