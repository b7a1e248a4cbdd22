package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/citasulsa/citas/internal/config"
	"github.com/citasulsa/citas/internal/domain/scheduling"
	"github.com/citasulsa/citas/internal/platform/session"
)

// 2030-03-04 is a Monday; general hours are 07:00-19:00.
const testDate = "2030-03-04"

func accessToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, session.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-7", ExpiresAt: jwt.NewNumericDate(exp)},
		Email:            "coord@ulsa.mx",
		Role:             session.RoleCoordinator,
		Type:             "access",
	}).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func writeJSONBody(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeBackend serves the handful of backend routes the commands touch.
type fakeBackend struct {
	t         *testing.T
	submitted int
	submitErr int
	listErr   int
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/auth/login":
		var body struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret" {
			writeJSONBody(w, http.StatusUnauthorized, map[string]string{"detail": "Contraseña incorrecta"})
			return
		}
		writeJSONBody(w, http.StatusOK, map[string]string{
			"access_token": accessToken(f.t, time.Now().Add(time.Hour)),
			"token_type":   "bearer",
			"rol":          session.RoleCoordinator,
			"email":        body.Email,
		})
	case strings.HasPrefix(r.URL.Path, "/horarios-areas/area/"):
		writeJSONBody(w, http.StatusNotFound, map[string]string{"detail": "sin horarios"})
	case r.URL.Path == "/universidad/citas/horas-ocupadas/"+testDate:
		writeJSONBody(w, http.StatusOK, []string{"10:00:00"})
	case strings.HasPrefix(r.URL.Path, "/universidad/citas/horas-ocupadas/"):
		writeJSONBody(w, http.StatusOK, []string{})
	case r.Method == http.MethodPost && r.URL.Path == "/universidad/citas/add":
		if f.submitErr != 0 {
			writeJSONBody(w, f.submitErr, map[string]string{"detail": "Ya existe una cita"})
			return
		}
		f.submitted++
		writeJSONBody(w, http.StatusCreated, map[string]string{"message": "Cita creada", "Id": "91"})
	case r.Method == http.MethodGet && r.URL.Path == "/universidad/citas":
		if f.listErr != 0 {
			writeJSONBody(w, f.listErr, map[string]string{"detail": "token expirado"})
			return
		}
		writeJSONBody(w, http.StatusOK, []map[string]any{
			{"Id": "2", "Fecha": "2030-03-05", "Hora": "09:00", "Area": "Biblioteca", "visitante": map[string]string{"Nombre": "Ana", "Apellido_Paterno": "Ruiz"}},
			{"Id": "1", "Fecha": "2030-03-04", "Hora": "10:00", "Area": "Biblioteca", "visitante": map[string]string{"Nombre": "Luis", "Apellido_Paterno": "Paz"}},
		})
	default:
		http.NotFound(w, r)
	}
}

type cliEnv struct {
	backend     *fakeBackend
	sessionFile string
}

func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	fb := &fakeBackend{t: t}
	ts := httptest.NewServer(fb)
	t.Cleanup(ts.Close)

	env := &cliEnv{backend: fb, sessionFile: filepath.Join(t.TempDir(), "session.json")}
	t.Setenv("ENV", "test")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("BACKEND_URL", ts.URL)
	t.Setenv("SESSION_FILE", env.sessionFile)
	t.Setenv("TIMEZONE", "America/Mexico_City")
	return env
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func (e *cliEnv) signIn(t *testing.T) {
	t.Helper()
	if _, err := runCLI(t, "secret\n", "login", "--email", "coord@ulsa.mx"); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestCLI_LoginAndLogout(t *testing.T) {
	env := setupCLI(t)

	out, err := runCLI(t, "", "login", "--email", "coord@ulsa.mx", "--password", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "signed in as coord@ulsa.mx (admin_escuela)") {
		t.Errorf("unexpected output %q", out)
	}
	sess, err := session.NewStore(env.sessionFile).Load()
	if err != nil || sess.UserID != "user-7" {
		t.Fatalf("expected stored session for user-7, got %+v %v", sess, err)
	}

	if _, err := runCLI(t, "", "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := os.Stat(env.sessionFile); !os.IsNotExist(err) {
		t.Errorf("expected session file removed, stat err=%v", err)
	}
}

func TestCLI_LoginWrongPassword(t *testing.T) {
	env := setupCLI(t)

	_, err := runCLI(t, "nope\n", "login", "--email", "coord@ulsa.mx")
	if err == nil || !strings.Contains(err.Error(), "incorrect password") {
		t.Fatalf("expected incorrect password, got %v", err)
	}
	if _, err := os.Stat(env.sessionFile); !os.IsNotExist(err) {
		t.Error("no session should be stored after a failed login")
	}
}

func TestCLI_RequiresSession(t *testing.T) {
	setupCLI(t)

	_, err := runCLI(t, "", "slots", "--date", testDate, "--area", "Biblioteca")
	if err == nil || !strings.Contains(err.Error(), "not signed in") {
		t.Fatalf("expected not signed in, got %v", err)
	}
}

func TestCLI_ExpiredStoredSession(t *testing.T) {
	env := setupCLI(t)
	store := session.NewStore(env.sessionFile)
	if err := store.Save(&session.Context{Token: "stale", UserID: "user-7", Expiry: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}

	_, err := runCLI(t, "", "list")
	if !errors.Is(err, scheduling.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("expected expired session to be cleared, got %v", err)
	}
}

func TestCLI_Slots(t *testing.T) {
	env := setupCLI(t)
	env.signIn(t)

	out, err := runCLI(t, "", "slots", "--date", testDate, "--area", "Biblioteca")
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	for _, want := range []string{"2030-03-04 Monday", "area=Biblioteca", "hours: 07:00-19:00", "07:00", "18:30"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "10:00") && !strings.Contains(line, "taken") {
			t.Errorf("expected 10:00 to be taken, got %q", line)
		}
		if strings.HasPrefix(line, "10:30") && !strings.Contains(line, "available") {
			t.Errorf("expected 10:30 to be available, got %q", line)
		}
	}

	out, err = runCLI(t, "", "slots", "--date", testDate, "--area", "Biblioteca", "--json")
	if err != nil {
		t.Fatalf("slots --json: %v", err)
	}
	var res struct {
		Outcome string `json:"outcome"`
		Slots   []any  `json:"slots"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode json output: %v", err)
	}
	if res.Outcome != "open" || len(res.Slots) != 24 {
		t.Errorf("expected 24 open slots, got %s %d", res.Outcome, len(res.Slots))
	}
}

func TestCLI_SlotsSundayClosed(t *testing.T) {
	env := setupCLI(t)
	env.signIn(t)

	out, err := runCLI(t, "", "slots", "--date", "2030-03-10", "--area", "Biblioteca")
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if !strings.Contains(out, "closed") {
		t.Errorf("expected closed day, got:\n%s", out)
	}
}

func bookArgs(at string) []string {
	return []string{"book", "--name", "Ana", "--first-surname", "Ruiz", "--date", testDate, "--time", at, "--area", "Biblioteca", "--plates", "abc-123"}
}

func TestCLI_ValidateAndBook(t *testing.T) {
	env := setupCLI(t)
	env.signIn(t)

	args := bookArgs("08:00")
	args[0] = "validate"
	out, err := runCLI(t, "", args...)
	if err != nil || !strings.Contains(out, "is bookable") {
		t.Fatalf("validate: %q %v", out, err)
	}

	_, err = runCLI(t, "", bookArgs("10:15")...)
	var rej *scheduling.Rejection
	if !errors.As(err, &rej) || rej.Reason != scheduling.ReasonSlotConflict {
		t.Fatalf("expected slot conflict, got %v", err)
	}
	if env.backend.submitted != 0 {
		t.Fatal("rejected proposals must not reach the backend")
	}

	out, err = runCLI(t, "", bookArgs("08:00")...)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if !strings.Contains(out, "booked 91: 2030-03-04 08:00 at Biblioteca") {
		t.Errorf("unexpected output %q", out)
	}
	if env.backend.submitted != 1 {
		t.Errorf("expected 1 submission, got %d", env.backend.submitted)
	}
}

func TestCLI_BookServerConflictRefreshes(t *testing.T) {
	env := setupCLI(t)
	env.signIn(t)
	env.backend.submitErr = http.StatusConflict

	out, err := runCLI(t, "", bookArgs("08:00")...)
	if !errors.Is(err, scheduling.ErrServerConflict) {
		t.Fatalf("expected ErrServerConflict, got %v", err)
	}
	if !strings.Contains(out, "refreshed availability") || !strings.Contains(out, "hours: 07:00-19:00") {
		t.Errorf("expected refreshed availability in output:\n%s", out)
	}
}

func TestCLI_List(t *testing.T) {
	env := setupCLI(t)
	env.signIn(t)

	out, err := runCLI(t, "", "list", "--month", "2030-03")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	first := strings.Index(out, "Luis Paz")
	second := strings.Index(out, "Ana Ruiz")
	if first < 0 || second < 0 || first > second {
		t.Errorf("expected appointments in date order:\n%s", out)
	}
	if !strings.Contains(out, "2 of 2") {
		t.Errorf("expected totals line:\n%s", out)
	}
}

func TestCLI_BackendAuthExpiryClearsSession(t *testing.T) {
	env := setupCLI(t)
	env.signIn(t)
	env.backend.listErr = http.StatusUnauthorized

	_, err := runCLI(t, "", "list")
	if !errors.Is(err, scheduling.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if _, err := os.Stat(env.sessionFile); !os.IsNotExist(err) {
		t.Errorf("expected session file removed after 401, stat err=%v", err)
	}
}

func testServerConfig(backendURL string) *config.Config {
	return &config.Config{
		Env:              "development",
		LogLevel:         "error",
		BackendURL:       backendURL,
		BackendTimeout:   5 * time.Second,
		RequestTimeout:   5 * time.Second,
		RulesSource:      config.RulesSourceAPI,
		Timezone:         "America/Mexico_City",
		CORSOrigins:      []string{"*"},
		BodyLimit:        "64K",
		RateLimitRPS:     100,
		RateLimitBurst:   100,
		OTelSamplingRate: 1,
	}
}

func TestNewServer_Routes(t *testing.T) {
	fb := &fakeBackend{t: t}
	ts := httptest.NewServer(fb)
	defer ts.Close()

	ctx := context.Background()
	srv, err := newServer(ctx, testServerConfig(ts.URL), zerolog.Nop())
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	defer srv.close(ctx)

	serve := func(method, path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, req)
		return rec
	}

	if rec := serve(http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("/health: %d", rec.Code)
	}
	if rec := serve(http.MethodGet, "/health/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("/health/ready: %d %s", rec.Code, rec.Body.String())
	}

	rec := serve(http.MethodGet, "/api/v1/availability?date="+testDate+"&area=Biblioteca", accessToken(t, time.Now().Add(time.Hour)))
	if rec.Code != http.StatusOK {
		t.Fatalf("availability: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
	var res struct {
		Slots []struct {
			Time      string `json:"time"`
			Available bool   `json:"available"`
		} `json:"slots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode availability: %v", err)
	}
	if len(res.Slots) != 24 {
		t.Fatalf("expected 24 slots, got %d", len(res.Slots))
	}

	// Dev auth without a token has no backend credentials to forward.
	if rec := serve(http.MethodGet, "/api/v1/availability?date="+testDate, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a forwarded token, got %d", rec.Code)
	}

	rec = serve(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `route="/api/v1/availability",status_code="200"`) {
		t.Errorf("expected availability request in metrics:\n%s", rec.Body.String())
	}
}
