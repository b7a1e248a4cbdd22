package scheduling

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/citasulsa/citas/internal/platform/auth"
	"github.com/citasulsa/citas/pkg/pagination"
)

const staleSlotMessage = "the slot was taken or changed on the server, pick another slot"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – every signed-in role
	readGroup := api.Group("", auth.RequireRole(auth.RoleCoordinator, auth.RoleUniversityAdmin, auth.RoleGuard))
	readGroup.GET("/availability", h.GetAvailability)
	readGroup.GET("/appointments", h.ListAppointments)

	// Write endpoints – roles that schedule visits
	writeGroup := api.Group("", auth.RequireRole(auth.RoleCoordinator, auth.RoleUniversityAdmin))
	writeGroup.POST("/appointments/validate", h.ValidateAppointment)
	writeGroup.POST("/appointments", h.CreateAppointment)
	writeGroup.PATCH("/appointments/:id", h.RescheduleAppointment)
	writeGroup.DELETE("/appointments/:id", h.CancelAppointment)
}

func (h *Handler) GetAvailability(c echo.Context) error {
	q := Query{
		Area:          strings.TrimSpace(c.QueryParam("area")),
		CoordinatorID: strings.TrimSpace(c.QueryParam("coordinator_id")),
	}
	if raw := c.QueryParam("date"); raw != "" {
		d, err := ParseDate(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date")
		}
		q.Date = d
	} else {
		q.Date = h.svc.Today()
	}
	if raw := c.QueryParam("exclude_time"); raw != "" {
		t, err := ParseTimeOfDay(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid exclude_time")
		}
		ref := SlotRef{Date: q.Date, Time: t}
		if rawDate := c.QueryParam("exclude_date"); rawDate != "" {
			d, err := ParseDate(rawDate)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid exclude_date")
			}
			ref.Date = d
		}
		q.Exclude = &ref
	}

	res, err := h.svc.Availability(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type validationResult struct {
	Valid      bool        `json:"valid"`
	Rejection  *Rejection  `json:"rejection,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

func (h *Handler) ValidateAppointment(c echo.Context) error {
	var p Proposal
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Check(c.Request().Context(), p)
	var rej *Rejection
	if errors.As(err, &rej) {
		return c.JSON(http.StatusOK, validationResult{Valid: false, Rejection: rej, Resolution: res})
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, validationResult{Valid: true, Resolution: res})
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var p Proposal
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.Book(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

type rescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.Reschedule(c.Request().Context(), id, req.Date, req.Time)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Cancel(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Month: c.QueryParam("month"), Limit: pg.Limit, Offset: pg.Offset}
	if raw := c.QueryParam("state"); raw != "" {
		st, err := ParseState(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid state")
		}
		f.State = st
	}
	items, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// httpError maps service errors onto HTTP responses.
func httpError(err error) error {
	var rej *Rejection
	if errors.As(err, &rej) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, rej)
	}
	switch {
	case errors.Is(err, ErrServerConflict):
		return echo.NewHTTPError(http.StatusConflict, staleSlotMessage)
	case errors.Is(err, ErrInactive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrAuthExpired):
		return echo.NewHTTPError(http.StatusUnauthorized, ErrAuthExpired.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, ErrForbidden.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNetwork):
		return echo.NewHTTPError(http.StatusBadGateway, ErrNetwork.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
