package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"residencial.org/internal/audit"
)

type memPersons struct {
	mu     sync.Mutex
	byID   map[string]*Person
	failOn string
}

func newMemPersons(people ...*Person) *memPersons {
	m := &memPersons{byID: make(map[string]*Person)}
	for _, p := range people {
		m.byID[p.ID] = p
	}
	return m
}

func (m *memPersons) FindByLogin(_ context.Context, login string) (*Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if !p.CanLogin() {
			continue
		}
		if strings.EqualFold(p.Username, login) {
			cp := *p
			return &cp, nil
		}
		for _, e := range p.Emails {
			if strings.EqualFold(e.Address, login) {
				cp := *p
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (m *memPersons) FindByID(_ context.Context, id string) (*Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPersons) RegisterFailedLogin(_ context.Context, id string, threshold int, now, lockUntil time.Time) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byID[id]
	if p.LockedUntil != nil && !p.LockedUntil.After(now) {
		p.LoginAttempts = 0
	}
	p.LoginAttempts++
	if p.LoginAttempts >= threshold {
		t := lockUntil
		p.LockedUntil = &t
	} else {
		p.LockedUntil = nil
	}
	return p.LoginAttempts, p.LockedUntil, nil
}

func (m *memPersons) RegisterSuccessfulLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byID[id]
	p.LoginAttempts = 0
	p.LockedUntil = nil
	p.LastLogin = &at
	return nil
}

func (m *memPersons) UpdatePassword(_ context.Context, id, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byID[id]
	p.PasswordHash = hash
	p.UpdatedAt = at
	return nil
}

func (m *memPersons) get(id string) Person {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

type memSessions struct {
	mu   sync.Mutex
	rows map[string]*Session
}

func newMemSessions() *memSessions { return &memSessions{rows: make(map[string]*Session)} }

func (m *memSessions) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.rows[s.ID] = &cp
	return nil
}

func (m *memSessions) FindByTokenHash(_ context.Context, h string, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.TokenHash == h && s.LiveAt(now) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memSessions) FindByRefreshHash(_ context.Context, h string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.RefreshTokenHash == h {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memSessions) Rotate(_ context.Context, id, oldRefresh, newToken, newRefresh string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || !s.IsActive || s.RefreshTokenHash != oldRefresh {
		return ErrNotFound
	}
	s.TokenHash = newToken
	s.RefreshTokenHash = newRefresh
	s.LastActivity = at
	return nil
}

func (m *memSessions) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[id]; ok {
		s.LastActivity = at
	}
	return nil
}

func (m *memSessions) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || !s.IsActive {
		return ErrNotFound
	}
	s.IsActive = false
	return nil
}

func (m *memSessions) DeactivateByRefreshHash(_ context.Context, personID, h string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.rows {
		if s.PersonID == personID && s.RefreshTokenHash == h && s.IsActive {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *memSessions) DeactivateByPerson(_ context.Context, personID, except string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.rows {
		if s.PersonID == personID && s.ID != except && s.IsActive {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *memSessions) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.rows {
		if s.ExpiresAt.Before(before) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) active(personID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.rows {
		if s.PersonID == personID && s.IsActive {
			n++
		}
	}
	return n
}

type memRoles struct {
	grants map[string][]RoleGrant
}

func (m *memRoles) GrantsForPerson(_ context.Context, personID string) ([]RoleGrant, error) {
	return m.grants[personID], nil
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAuditor) Record(_ context.Context, e audit.Entry) audit.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return audit.Outcome{ID: "a", Recorded: true}
}
