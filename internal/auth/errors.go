package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUserNotFound                 = errors.New("user not found")
	ErrAccountLocked                = errors.New("account locked")
	ErrInvalidPassword              = errors.New("invalid password")
	ErrNoPasswordConfigured         = errors.New("no password configured")
	ErrInvalidOrExpiredRefreshToken = errors.New("invalid or expired refresh token")
	ErrInvalidSession               = errors.New("invalid or expired session")
	ErrNotFound                     = errors.New("not found")
	ErrForbidden                    = errors.New("forbidden")
)

// LockedError carries the lockout deadline. It matches ErrAccountLocked.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// DuplicateFieldError reports a uniqueness conflict on Field.
type DuplicateFieldError struct {
	Field string
}

func (e *DuplicateFieldError) Error() string {
	if e.Field == "" {
		return "duplicate value"
	}
	return "duplicate value for " + e.Field
}
