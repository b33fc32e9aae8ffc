package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"residencial.org/internal/audit"
	"residencial.org/internal/ids"
	"residencial.org/internal/validate"
)

const (
	defaultSessionTTL  = 7 * 24 * time.Hour
	defaultRememberTTL = 30 * 24 * time.Hour
	minPasswordLength  = 8
)

// Auditor records mutations. *audit.Recorder satisfies it.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) audit.Outcome
}

// Service wires credential checks, token issuance, sessions and permission resolution.
type Service struct {
	persons  PersonStore
	sessions SessionStore
	roles    RoleStore
	issuer   *Issuer
	verifier *Verifier
	hasher   Hasher
	auditor  Auditor
	logger   *zap.Logger
	now      func() time.Time

	sessionTTL  time.Duration
	rememberTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithSessionTTLs sets the session lifetime for normal and remember-me logins.
func WithSessionTTLs(normal, remember time.Duration) ServiceOption {
	return func(s *Service) error {
		if normal <= 0 || remember <= 0 {
			return errors.New("auth: session ttls must be positive")
		}
		s.sessionTTL = normal
		s.rememberTTL = remember
		return nil
	}
}

// WithLockout sets how many failures lock an account and for how long.
func WithLockout(threshold int, d time.Duration) ServiceOption {
	return func(s *Service) error {
		if threshold < 1 || d <= 0 {
			return errors.New("auth: invalid lockout policy")
		}
		s.verifier.threshold = threshold
		s.verifier.lockFor = d
		return nil
	}
}

// WithHasher replaces the bcrypt hasher.
func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) error {
		if h != nil {
			s.hasher = h
			s.verifier.hasher = h
		}
		return nil
	}
}

// WithAuditor sets where password changes are recorded.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		s.auditor = a
		return nil
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(persons PersonStore, sessions SessionStore, roles RoleStore, issuer *Issuer, opts ...ServiceOption) (*Service, error) {
	if persons == nil || sessions == nil || roles == nil || issuer == nil {
		return nil, errors.New("auth: stores and issuer are required")
	}
	hasher := BcryptHasher{}
	svc := &Service{
		persons:     persons,
		sessions:    sessions,
		roles:       roles,
		issuer:      issuer,
		verifier:    NewVerifier(persons, hasher),
		hasher:      hasher,
		logger:      zap.NewNop(),
		now:         time.Now,
		sessionTTL:  defaultSessionTTL,
		rememberTTL: defaultRememberTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	svc.verifier.now = svc.now
	return svc, nil
}

// TokenPair is what a client receives after login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	SessionExpiresAt time.Time
	ExpiresIn        int64
}

// LoginInput is the login request.
type LoginInput struct {
	Username   string
	Password   string
	RememberMe bool
	Client     ClientInfo
}

// Validate lists missing credentials.
func (in LoginInput) Validate() error {
	var c validate.Collector
	c.Required("username", in.Username)
	c.Check(in.Password != "", "password", "is required")
	return c.Err()
}

// LoginResult carries the authenticated principal and its tokens.
type LoginResult struct {
	Principal *Principal
	Tokens    TokenPair
}

// Login verifies credentials and opens a new session.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	person, err := s.verifier.Verify(ctx, in.Username, in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ttl := s.sessionTTL
	if in.RememberMe {
		ttl = s.rememberTTL
	}
	sess := &Session{
		ID:           ids.New(),
		PersonID:     person.ID,
		ExpiresAt:    now.Add(ttl),
		LastActivity: now,
		IsActive:     true,
		IPAddress:    in.Client.IPAddress,
		UserAgent:    in.Client.UserAgent,
		CreatedAt:    now,
	}
	pair, err := s.mintTokens(sess, now)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	principal, err := s.principal(ctx, person, sess, now)
	if err != nil {
		return nil, err
	}
	s.logger.Info("login succeeded",
		zap.String("person_id", person.ID),
		zap.String("session_id", sess.ID),
		zap.Bool("remember_me", in.RememberMe),
	)
	return &LoginResult{Principal: principal, Tokens: pair}, nil
}

// Refresh exchanges a refresh token for a new pair. Each refresh token works once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrInvalidOrExpiredRefreshToken
	}
	oldHash := HashToken(refreshToken)
	sess, err := s.sessions.FindByRefreshHash(ctx, oldHash)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidOrExpiredRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	now := s.now().UTC()
	if !sess.LiveAt(now) {
		return nil, ErrInvalidOrExpiredRefreshToken
	}
	person, err := s.persons.FindByID(ctx, sess.PersonID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidOrExpiredRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("find person: %w", err)
	}
	if !person.CanLogin() {
		return nil, ErrInvalidOrExpiredRefreshToken
	}

	pair, err := s.mintTokens(sess, now)
	if err != nil {
		return nil, err
	}
	err = s.sessions.Rotate(ctx, sess.ID, oldHash, sess.TokenHash, sess.RefreshTokenHash, now)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidOrExpiredRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	sess.LastActivity = now

	principal, err := s.principal(ctx, person, sess, now)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Principal: principal, Tokens: pair}, nil
}

// LogoutInput selects which sessions to end. With neither field set only
// the calling session ends.
type LogoutInput struct {
	RefreshToken string
	AllSessions  bool
}

// Logout deactivates sessions of the calling principal and reports how many ended.
func (s *Service) Logout(ctx context.Context, p *Principal, in LogoutInput) (int64, error) {
	if p == nil || p.Person == nil || p.Session == nil {
		return 0, ErrInvalidSession
	}
	switch {
	case in.AllSessions:
		n, err := s.sessions.DeactivateByPerson(ctx, p.Person.ID, "")
		if err != nil {
			return 0, fmt.Errorf("end sessions: %w", err)
		}
		s.logger.Info("logged out everywhere", zap.String("person_id", p.Person.ID), zap.Int64("sessions", n))
		return n, nil
	case strings.TrimSpace(in.RefreshToken) != "":
		n, err := s.sessions.DeactivateByRefreshHash(ctx, p.Person.ID, HashToken(strings.TrimSpace(in.RefreshToken)))
		if err != nil {
			return 0, fmt.Errorf("end session: %w", err)
		}
		return n, nil
	default:
		err := s.sessions.Deactivate(ctx, p.Session.ID)
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("end session: %w", err)
		}
		return 1, nil
	}
}

// ChangePasswordInput is the change-password request.
type ChangePasswordInput struct {
	CurrentPassword    string
	NewPassword        string
	ConfirmNewPassword string
}

// Validate checks presence, length, confirmation and that the password actually changes.
func (in ChangePasswordInput) Validate() error {
	var c validate.Collector
	c.Check(in.CurrentPassword != "", "current_password", "is required")
	if c.Required("new_password", in.NewPassword) {
		c.MinLen("new_password", in.NewPassword, minPasswordLength)
		c.Check(in.NewPassword != in.CurrentPassword, "new_password", "must differ from current_password")
	}
	c.Check(in.ConfirmNewPassword == in.NewPassword, "confirm_new_password", "must match new_password")
	return c.Err()
}

// ChangePassword replaces the caller's password and ends their other sessions.
func (s *Service) ChangePassword(ctx context.Context, p *Principal, in ChangePasswordInput) error {
	if p == nil || p.Person == nil {
		return ErrInvalidSession
	}
	if err := in.Validate(); err != nil {
		return err
	}
	person, err := s.persons.FindByID(ctx, p.Person.ID)
	if err != nil {
		return fmt.Errorf("find person: %w", err)
	}
	if person.PasswordHash == "" {
		return ErrNoPasswordConfigured
	}
	if err := s.hasher.Compare(person.PasswordHash, in.CurrentPassword); err != nil {
		return &validate.Error{Violations: []validate.Violation{{Field: "current_password", Message: "is incorrect"}}}
	}
	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	if err := s.persons.UpdatePassword(ctx, person.ID, hash, now); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	var keep string
	if p.Session != nil {
		keep = p.Session.ID
	}
	ended, err := s.sessions.DeactivateByPerson(ctx, person.ID, keep)
	if err != nil {
		return fmt.Errorf("end other sessions: %w", err)
	}

	if s.auditor != nil {
		s.auditor.Record(ctx, audit.Entry{
			TableName: "persons",
			RecordID:  person.ID,
			Operation: audit.OpUpdate,
			Old:       map[string]any{"password_changed_at": nil, "updated_at": person.UpdatedAt.UTC()},
			New:       map[string]any{"password_changed_at": now, "updated_at": now},
		})
	}
	s.logger.Info("password changed", zap.String("person_id", person.ID), zap.Int64("sessions_ended", ended))
	return nil
}

// Authenticate resolves a bearer access token into a principal.
// Tokens of ended or expired sessions are rejected even when the JWT itself is still valid.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	now := s.now().UTC()
	claims, err := s.issuer.Parse(accessToken, now)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.FindByTokenHash(ctx, HashToken(accessToken), now)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if sess.ID != claims.SessionID || sess.PersonID != claims.Subject {
		return nil, ErrInvalidSession
	}
	person, err := s.persons.FindByID(ctx, sess.PersonID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("find person: %w", err)
	}
	if !person.CanLogin() {
		return nil, ErrInvalidSession
	}
	if err := s.sessions.Touch(ctx, sess.ID, now); err != nil {
		s.logger.Warn("session touch failed", zap.String("session_id", sess.ID), zap.Error(err))
	} else {
		sess.LastActivity = now
	}
	return s.principal(ctx, person, sess, now)
}

// PurgeExpiredSessions removes sessions that expired before now.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessions.PurgeExpired(ctx, s.now().UTC())
}

func (s *Service) principal(ctx context.Context, person *Person, sess *Session, now time.Time) (*Principal, error) {
	grants, err := s.roles.GrantsForPerson(ctx, person.ID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	p := NewPrincipal(person, grants, now)
	p.Session = sess
	return p, nil
}

// mintTokens signs fresh tokens for sess and stores their hashes on it.
func (s *Service) mintTokens(sess *Session, now time.Time) (TokenPair, error) {
	access, exp, err := s.issuer.Sign(sess.PersonID, sess.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := NewRefreshToken()
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}
	sess.TokenHash = HashToken(access)
	sess.RefreshTokenHash = HashToken(refresh)
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  exp,
		SessionExpiresAt: sess.ExpiresAt,
		ExpiresIn:        int64(s.issuer.TTL() / time.Second),
	}, nil
}
