package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/citasulsa/citas/internal/platform/auth"
)

func newTestHandler() (*Handler, *serviceFixture, *echo.Echo) {
	f := newServiceFixture()
	return NewHandler(f.svc), f, echo.New()
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func proposalJSON(t *testing.T, p Proposal) string {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal proposal: %v", err)
	}
	return string(raw)
}

func expectHTTPError(t *testing.T, err error, code int) *echo.HTTPError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
	return httpErr
}

func TestHandler_GetAvailability(t *testing.T) {
	h, f, e := newTestHandler()
	f.occupied.add(mustDate(t, "2025-03-11"), "10:00")

	req := httptest.NewRequest(http.MethodGet, "/?date=2025-03-11&area=Biblioteca", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Date    string `json:"date"`
		Outcome string `json:"outcome"`
		Slots   []struct {
			Time      string `json:"time"`
			Available bool   `json:"available"`
		} `json:"slots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Date != "2025-03-11" || body.Outcome != "open" {
		t.Errorf("unexpected resolution %+v", body)
	}
	if len(body.Slots) != 24 {
		t.Fatalf("expected 24 slots, got %d", len(body.Slots))
	}
	for _, s := range body.Slots {
		if s.Time == "10:00" && s.Available {
			t.Error("expected 10:00 to be unavailable")
		}
	}
}

func TestHandler_GetAvailability_DefaultsToToday(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Date string `json:"date"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Date != "2025-03-06" {
		t.Errorf("expected today's date, got %q", body.Date)
	}
}

func TestHandler_GetAvailability_Sunday(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?date=2025-03-09", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GetAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"outcome":"closed"`) {
		t.Errorf("expected closed outcome, got %s", rec.Body.String())
	}
}

func TestHandler_GetAvailability_BadParams(t *testing.T) {
	for _, target := range []string{
		"/?date=11-03-2025",
		"/?date=2025-03-11&exclude_time=25:00",
		"/?date=2025-03-11&exclude_time=10:00&exclude_date=mañana",
	} {
		t.Run(target, func(t *testing.T) {
			h, _, e := newTestHandler()
			req := httptest.NewRequest(http.MethodGet, target, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			expectHTTPError(t, h.GetAvailability(c), http.StatusBadRequest)
		})
	}
}

func TestHandler_GetAvailability_BackendError(t *testing.T) {
	h, f, e := newTestHandler()
	f.occupied.err = ErrNetwork

	req := httptest.NewRequest(http.MethodGet, "/?date=2025-03-11", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	expectHTTPError(t, h.GetAvailability(c), http.StatusBadGateway)
}

func TestHandler_ValidateAppointment(t *testing.T) {
	h, f, e := newTestHandler()
	f.occupied.add(mustDate(t, "2025-03-11"), "08:00")

	tests := []struct {
		name       string
		time       string
		wantValid  bool
		wantReason Reason
	}{
		{"accepted", "09:00", true, ""},
		{"conflict", "08:15", false, ReasonSlotConflict},
		{"outside hours", "19:30", false, ReasonOutsideOperatingHours},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := jsonRequest(http.MethodPost, "/", proposalJSON(t, validProposal("2025-03-11", tt.time)))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.ValidateAppointment(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var body struct {
				Valid     bool       `json:"valid"`
				Rejection *Rejection `json:"rejection"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Valid != tt.wantValid {
				t.Errorf("expected valid=%v, got %v", tt.wantValid, body.Valid)
			}
			if !tt.wantValid && (body.Rejection == nil || body.Rejection.Reason != tt.wantReason) {
				t.Errorf("expected reason %s, got %+v", tt.wantReason, body.Rejection)
			}
		})
	}
	if len(f.store.submitted) != 0 {
		t.Error("validation must not submit")
	}
}

func TestHandler_CreateAppointment(t *testing.T) {
	h, f, e := newTestHandler()
	req := jsonRequest(http.MethodPost, "/", proposalJSON(t, validProposal("2025-03-11", "08:00")))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var appt Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &appt); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if appt.ID == "" || appt.Time != NewTimeOfDay(8, 0) {
		t.Errorf("unexpected appointment %+v", appt)
	}
	if len(f.store.submitted) != 1 {
		t.Errorf("expected one submission, got %d", len(f.store.submitted))
	}
}

func TestHandler_CreateAppointment_Rejected(t *testing.T) {
	h, f, e := newTestHandler()
	p := validProposal("2025-03-11", "08:00")
	p.VisitorName = ""
	req := jsonRequest(http.MethodPost, "/", proposalJSON(t, p))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	httpErr := expectHTTPError(t, h.CreateAppointment(c), http.StatusUnprocessableEntity)
	rej, ok := httpErr.Message.(*Rejection)
	if !ok {
		t.Fatalf("expected rejection message, got %T", httpErr.Message)
	}
	if rej.Reason != ReasonMissingField || rej.Field != "visitor_name" {
		t.Errorf("unexpected rejection %+v", rej)
	}
	if len(f.store.submitted) != 0 {
		t.Error("rejected proposal must not be submitted")
	}
}

func TestHandler_CreateAppointment_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"server conflict", ErrServerConflict, http.StatusConflict},
		{"auth expired", ErrAuthExpired, http.StatusUnauthorized},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"backend validation", &ValidationError{Messages: []string{"body.Fecha: invalid"}}, http.StatusBadRequest},
		{"network", ErrNetwork, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, f, e := newTestHandler()
			f.store.submitErr = tt.err
			req := jsonRequest(http.MethodPost, "/", proposalJSON(t, validProposal("2025-03-11", "08:00")))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			httpErr := expectHTTPError(t, h.CreateAppointment(c), tt.code)
			if tt.code == http.StatusConflict && httpErr.Message != staleSlotMessage {
				t.Errorf("expected stale slot message, got %v", httpErr.Message)
			}
		})
	}
}

func TestHandler_CreateAppointment_BadJSON(t *testing.T) {
	h, _, e := newTestHandler()
	req := jsonRequest(http.MethodPost, "/", `{"date":`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	expectHTTPError(t, h.CreateAppointment(c), http.StatusBadRequest)
}

func TestHandler_RescheduleAppointment(t *testing.T) {
	h, f, e := newTestHandler()
	f.store.put(&Appointment{
		ID:      "appt-1",
		Visitor: Visitor{Name: "Luis", FirstSurname: "Mora"},
		Date:    mustDate(t, "2025-03-11"),
		Time:    NewTimeOfDay(10, 0),
		Area:    "Biblioteca",
		State:   StateActive,
	})

	req := jsonRequest(http.MethodPatch, "/", `{"date":"2025-03-11","time":"10:15"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("appt-1")

	if err := h.RescheduleAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if got := f.store.appts["appt-1"].Time; got != NewTimeOfDay(10, 15) {
		t.Errorf("expected 10:15, got %s", got)
	}
}

func TestHandler_RescheduleAppointment_Inactive(t *testing.T) {
	h, f, e := newTestHandler()
	f.store.put(&Appointment{ID: "appt-1", Date: mustDate(t, "2025-03-11"), Time: NewTimeOfDay(10, 0), State: StateCancelled})

	req := jsonRequest(http.MethodPatch, "/", `{"date":"2025-03-12","time":"10:00"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("appt-1")

	expectHTTPError(t, h.RescheduleAppointment(c), http.StatusConflict)
}

func TestHandler_CancelAppointment(t *testing.T) {
	h, f, e := newTestHandler()
	f.store.put(&Appointment{ID: "appt-1", Date: mustDate(t, "2025-03-11"), Time: NewTimeOfDay(10, 0), State: StateActive})

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("appt-1")

	if err := h.CancelAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_CancelAppointment_Inactive(t *testing.T) {
	h, f, e := newTestHandler()
	f.store.put(&Appointment{ID: "appt-1", Date: mustDate(t, "2025-03-11"), Time: NewTimeOfDay(10, 0), State: StateCompleted})

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("appt-1")

	expectHTTPError(t, h.CancelAppointment(c), http.StatusConflict)
}

func TestHandler_CancelAppointment_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	expectHTTPError(t, h.CancelAppointment(c), http.StatusNotFound)
}

func TestHandler_ListAppointments(t *testing.T) {
	h, f, e := newTestHandler()
	for i, day := range []string{"2025-03-10", "2025-03-11", "2025-03-12", "2025-04-01"} {
		f.store.put(&Appointment{
			ID:    "appt-" + day,
			Date:  mustDate(t, day),
			Time:  NewTimeOfDay(9+i, 0),
			State: StateActive,
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/?month=2025-03&limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data    []Appointment `json:"data"`
		Total   int           `json:"total"`
		Limit   int           `json:"limit"`
		HasMore bool          `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Limit != 2 {
		t.Errorf("expected limit 2, got %d", body.Limit)
	}
	if body.Total != 3 || len(body.Data) != 2 || !body.HasMore {
		t.Errorf("unexpected page total=%d len=%d more=%v", body.Total, len(body.Data), body.HasMore)
	}
	if len(body.Data) == 2 && body.Data[0].ID != "appt-2025-03-10" {
		t.Errorf("expected date order, got %s first", body.Data[0].ID)
	}
}

func TestHandler_ListAppointments_BadFilters(t *testing.T) {
	for _, target := range []string{"/?state=perdida", "/?month=marzo"} {
		t.Run(target, func(t *testing.T) {
			h, _, e := newTestHandler()
			req := httptest.NewRequest(http.MethodGet, target, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			expectHTTPError(t, h.ListAppointments(c), http.StatusBadRequest)
		})
	}
}

func TestHandler_RegisterRoutes_RoleChecks(t *testing.T) {
	h, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	serve := func(req *http.Request, roles ...string) int {
		if roles != nil {
			req = req.WithContext(context.WithValue(req.Context(), auth.UserRolesKey, roles))
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}
	book := func() *http.Request {
		return jsonRequest(http.MethodPost, "/api/v1/appointments", proposalJSON(t, validProposal("2025-03-11", "08:00")))
	}

	tests := []struct {
		name  string
		req   *http.Request
		roles []string
		want  int
	}{
		{"availability without roles", httptest.NewRequest(http.MethodGet, "/api/v1/availability?date=2025-03-11", nil), nil, http.StatusForbidden},
		{"availability as guard", httptest.NewRequest(http.MethodGet, "/api/v1/availability?date=2025-03-11", nil), []string{auth.RoleGuard}, http.StatusOK},
		{"list as university admin", httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil), []string{auth.RoleUniversityAdmin}, http.StatusOK},
		{"book as guard", book(), []string{auth.RoleGuard}, http.StatusForbidden},
		{"book as coordinator", book(), []string{auth.RoleCoordinator}, http.StatusCreated},
		{"cancel unknown as system admin", httptest.NewRequest(http.MethodDelete, "/api/v1/appointments/missing", nil), []string{auth.RoleSystemAdmin}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := serve(tt.req, tt.roles...); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
