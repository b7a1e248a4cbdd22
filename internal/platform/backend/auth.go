package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/citasulsa/citas/internal/platform/session"
)

var (
	ErrInvalidCredentials = errors.New("incorrect password")
	ErrUnknownUser        = errors.New("user not found")
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	TokenType     string `json:"token_type"`
	Role          string `json:"rol"`
	Email         string `json:"email"`
	Name          string `json:"nombre"`
	FirstSurname  string `json:"apellido_paterno"`
	SecondSurname string `json:"apellido_materno"`
	FullName      string `json:"nombre_completo"`
	SchoolRole    string `json:"rol_escuela"`
	Area          string `json:"area"`
}

// Login exchanges credentials for a session with POST /auth/login. A 401
// here means wrong credentials, not an expired session.
func (c *Client) Login(ctx context.Context, email, password string) (*session.Context, error) {
	var resp loginResponse
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/login",
		body:      loginRequest{Email: email, Password: password},
		anonymous: true,
	}, &resp)
	switch {
	case IsStatus(err, http.StatusUnauthorized):
		return nil, ErrInvalidCredentials
	case IsStatus(err, http.StatusNotFound):
		return nil, ErrUnknownUser
	case err != nil:
		return nil, fmt.Errorf("login: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, errors.New("login: backend returned no access token")
	}

	sess, err := session.FromToken(resp.AccessToken, resp.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	// The response body is authoritative for profile fields older tokens
	// may not carry.
	if resp.Role != "" {
		sess.Role = resp.Role
	}
	if resp.Email != "" {
		sess.Email = resp.Email
	}
	if resp.FullName != "" {
		sess.FullName = resp.FullName
	}
	if resp.SchoolRole != "" {
		sess.SchoolRole = resp.SchoolRole
	}
	if resp.Area != "" {
		sess.Area = resp.Area
	}
	c.logger.Info().Str("email", sess.Email).Str("role", sess.Role).Msg("signed in")
	return sess, nil
}
