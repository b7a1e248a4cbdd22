package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestFromToken(t *testing.T) {
	exp := time.Date(2025, 3, 6, 18, 0, 0, 0, time.UTC)
	tok := signedToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1", ExpiresAt: jwt.NewNumericDate(exp)},
		Email:            "coord@ulsa.mx",
		Role:             RoleCoordinator,
		Area:             "Ingeniería",
		FullName:         "Laura Pérez Soto",
	})

	s, err := FromToken(tok, "refresh")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.UserID != "u-1" || s.Email != "coord@ulsa.mx" || s.Role != RoleCoordinator || s.Area != "Ingeniería" {
		t.Errorf("unexpected session %+v", s)
	}
	if !s.Expiry.Equal(exp) || s.RefreshToken != "refresh" || s.Token != tok {
		t.Errorf("unexpected token fields %+v", s)
	}

	if _, err := FromToken("not-a-jwt", ""); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestContext_Expired(t *testing.T) {
	now := time.Date(2025, 3, 6, 12, 0, 0, 0, time.UTC)
	s := &Context{Token: "t", Expiry: now.Add(time.Minute)}
	if s.Expired(now) || !s.Authenticated(now) {
		t.Error("session should be valid for another minute")
	}
	if !s.Expired(now.Add(time.Minute)) {
		t.Error("session should expire at its expiry")
	}
	if (&Context{Token: "t"}).Expired(now) {
		t.Error("session without expiry should not expire")
	}
	var nilSession *Context
	if nilSession.Authenticated(now) {
		t.Error("nil session is not authenticated")
	}
	if (&Context{Expiry: now.Add(time.Hour)}).Authenticated(now) {
		t.Error("session without token is not authenticated")
	}
}

func TestContext_HasRole(t *testing.T) {
	guard := &Context{Role: RoleGuard}
	if guard.HasRole(RoleCoordinator, RoleUniversityAdmin) {
		t.Error("guard must not hold write roles")
	}
	if !guard.HasRole(RoleGuard) {
		t.Error("guard should hold its own role")
	}
	if !(&Context{Role: RoleSystemAdmin}).HasRole(RoleCoordinator) {
		t.Error("system admin holds every role")
	}
}

func TestWithContext(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Error("expected no session in empty context")
	}
	s := &Context{Token: "abc"}
	if got := FromContext(WithContext(context.Background(), s)); got != s {
		t.Error("expected the stored session back")
	}
}

func TestStore_SaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewStore(path)

	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	want := &Context{Token: "abc", UserID: "u-1", Role: RoleGuard, Expiry: time.Date(2025, 3, 6, 18, 0, 0, 0, time.UTC)}
	if err := store.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected 0600, got %v", info.Mode().Perm())
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Token != want.Token || got.UserID != want.UserID || !got.Expiry.Equal(want.Expiry) {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession after clear, got %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Errorf("clearing twice should not fail: %v", err)
	}
}
