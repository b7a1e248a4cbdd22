package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Backend roles.
const (
	RoleSystemAdmin     = "admin_sistema"
	RoleCoordinator     = "admin_escuela"
	RoleUniversityAdmin = "admin_universitario"
	RoleGuard           = "guardia"
)

// ErrNoSession is returned when no signed-in user is available.
var ErrNoSession = errors.New("no active session")

// Claims mirrors the backend's access token payload.
type Claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	Role          string `json:"rol"`
	Name          string `json:"nombre"`
	FirstSurname  string `json:"apellido_paterno"`
	SecondSurname string `json:"apellido_materno"`
	FullName      string `json:"nombre_completo"`
	SchoolRole    string `json:"rol_escuela"`
	Area          string `json:"area"`
	Type          string `json:"type"`
}

// Context is the signed-in user's session. It is passed explicitly through
// context.Context and never read from globals.
type Context struct {
	Token        string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	SchoolRole   string    `json:"school_role,omitempty"`
	Area         string    `json:"area,omitempty"`
	FullName     string    `json:"full_name,omitempty"`
	Expiry       time.Time `json:"expires_at"`
}

// FromClaims builds a session from already verified claims.
func FromClaims(token string, c *Claims) *Context {
	s := &Context{
		Token:      token,
		UserID:     c.Subject,
		Email:      c.Email,
		Role:       c.Role,
		SchoolRole: c.SchoolRole,
		Area:       c.Area,
		FullName:   c.FullName,
	}
	if c.ExpiresAt != nil {
		s.Expiry = c.ExpiresAt.Time
	}
	return s
}

// FromToken decodes an access token issued by the backend without verifying
// its signature. The backend verifies it on every call; the client only
// needs the expiry and identity claims.
func FromToken(token, refreshToken string) (*Context, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode access token: %w", err)
	}
	s := FromClaims(token, claims)
	s.RefreshToken = refreshToken
	return s, nil
}

// Expired reports whether the access token has expired at now. A session
// without an expiry never expires.
func (s *Context) Expired(now time.Time) bool {
	return !s.Expiry.IsZero() && !now.Before(s.Expiry)
}

// Authenticated reports whether s carries a usable token at now.
func (s *Context) Authenticated(now time.Time) bool {
	return s != nil && s.Token != "" && !s.Expired(now)
}

// HasRole reports whether the session holds one of roles. The system
// administrator holds every role.
func (s *Context) HasRole(roles ...string) bool {
	if s == nil {
		return false
	}
	if s.Role == RoleSystemAdmin {
		return true
	}
	for _, r := range roles {
		if s.Role == r {
			return true
		}
	}
	return false
}

type ctxKey struct{}

func WithContext(ctx context.Context, s *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored in ctx, or nil.
func FromContext(ctx context.Context) *Context {
	s, _ := ctx.Value(ctxKey{}).(*Context)
	return s
}
