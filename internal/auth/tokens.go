package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"residencial.org/internal/ids"
)

const accessTokenType = "access"

// Claims are the JWT claims carried by access tokens.
type Claims struct {
	SessionID string `json:"sid"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 access tokens and mints opaque refresh tokens.
type Issuer struct {
	secret []byte
	name   string
	ttl    time.Duration
}

// NewIssuer returns an Issuer. ttl is the access token lifetime.
func NewIssuer(secret, name string, ttl time.Duration) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: access ttl must be positive")
	}
	return &Issuer{secret: []byte(secret), name: name, ttl: ttl}, nil
}

// TTL is the access token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Sign mints an access token bound to a person and session.
func (i *Issuer) Sign(personID, sessionID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(i.ttl)
	claims := Claims{
		SessionID: sessionID,
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			Subject:   personID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies signature, expiry, issuer and token type.
func (i *Issuer) Parse(token string, now time.Time) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSession
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if i.name != "" {
		opts = append(opts, jwt.WithIssuer(i.name))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if claims.TokenType != accessTokenType || claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// NewRefreshToken returns 32 random bytes as an opaque string.
func NewRefreshToken() (string, error) {
	return ids.Secret(32)
}

// HashToken is the lookup key stored in place of a raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
