package auth

import (
	"strings"
	"time"
)

// Person is a resident, staff member or administrator.
type Person struct {
	ID             string
	DocumentType   string
	DocumentNumber string
	FirstName      string
	LastName       string
	Username       string
	PasswordHash   string
	Phone          string
	IsActive       bool
	LoginAttempts  int
	LockedUntil    *time.Time
	LastLogin      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
	Emails         []Email
}

// FullName joins first and last name.
func (p Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// PrimaryEmail returns the primary address, or the first one when none is flagged.
func (p Person) PrimaryEmail() string {
	for _, e := range p.Emails {
		if e.IsPrimary {
			return e.Address
		}
	}
	if len(p.Emails) > 0 {
		return p.Emails[0].Address
	}
	return ""
}

// LockedAt reports whether a lockout is in force at now.
func (p Person) LockedAt(now time.Time) bool {
	return p.LockedUntil != nil && p.LockedUntil.After(now)
}

// CanLogin reports whether the account is usable at all.
func (p Person) CanLogin() bool {
	return p.IsActive && p.DeletedAt == nil
}

// Email is an address owned by a person.
type Email struct {
	ID        string
	PersonID  string
	Address   string
	IsPrimary bool
}

// Session is a login bound to a pair of tokens. Only token hashes are stored.
type Session struct {
	ID               string
	PersonID         string
	TokenHash        string
	RefreshTokenHash string
	ExpiresAt        time.Time
	LastActivity     time.Time
	IsActive         bool
	IPAddress        string
	UserAgent        string
	CreatedAt        time.Time
}

// LiveAt reports whether the session still authorises requests at now.
func (s Session) LiveAt(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// Role groups permissions.
type Role struct {
	ID          string
	Name        string
	Description string
	IsActive    bool
	Permissions []string
}

// Permission is a fine-grained capability identified by Code.
type Permission struct {
	ID          string
	Code        string
	Description string
}

// RoleGrant is a role held by a person with its active permission codes.
type RoleGrant struct {
	Role        Role
	FromDate    time.Time
	UnitID      string
	ApartmentID string
}

// PersonRole links a person to a role from a given date, optionally scoped.
type PersonRole struct {
	PersonID    string
	RoleID      string
	FromDate    time.Time
	UnitID      string
	ApartmentID string
	CreatedAt   time.Time
}

// ClientInfo identifies the calling client for session bookkeeping.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}
