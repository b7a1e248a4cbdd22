package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/citasulsa/citas/internal/domain/scheduling"
)

type visitorDTO struct {
	Name          string `json:"Nombre"`
	FirstSurname  string `json:"Apellido_Paterno"`
	SecondSurname string `json:"Apellido_Materno"`
}

type vehicleDTO struct {
	Brand  string `json:"Marca"`
	Plates string `json:"Placas"`
	Color  string `json:"Color,omitempty"`
	Model  string `json:"Modelo,omitempty"`
}

type userDTO struct {
	ID            string `json:"Id"`
	Name          string `json:"Nombre"`
	FirstSurname  string `json:"Apellido_Paterno"`
	SecondSurname string `json:"Apellido_Materno"`
	Area          string `json:"Area"`
}

// citaDTO is an appointment as returned by the list and detail routes.
type citaDTO struct {
	ID      string      `json:"Id"`
	Date    string      `json:"Fecha"`
	Time    string      `json:"Hora"`
	State   string      `json:"Estado,omitempty"`
	Area    string      `json:"Area,omitempty"`
	Visitor *visitorDTO `json:"visitante"`
	Vehicle *vehicleDTO `json:"carro"`
	Visited *userDTO    `json:"usuario_visitado,omitempty"`
}

func (d citaDTO) appointment() (*scheduling.Appointment, error) {
	date, err := scheduling.ParseDate(d.Date)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", d.ID, err)
	}
	t, err := scheduling.ParseTimeOfDay(d.Time)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", d.ID, err)
	}
	state, err := scheduling.ParseState(d.State)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", d.ID, err)
	}

	a := &scheduling.Appointment{
		ID:    d.ID,
		Date:  date,
		Time:  t,
		Area:  d.Area,
		State: state,
	}
	if d.Visitor != nil {
		a.Visitor = scheduling.Visitor{
			Name:          d.Visitor.Name,
			FirstSurname:  d.Visitor.FirstSurname,
			SecondSurname: d.Visitor.SecondSurname,
		}
	}
	if d.Vehicle != nil && d.Vehicle.Plates != "" {
		a.Vehicle = &scheduling.Vehicle{
			Brand:  d.Vehicle.Brand,
			Model:  d.Vehicle.Model,
			Color:  d.Vehicle.Color,
			Plates: d.Vehicle.Plates,
		}
	}
	if d.Visited != nil {
		a.CoordinatorID = d.Visited.ID
		a.PersonVisited = strings.Join(strings.Fields(d.Visited.Name+" "+d.Visited.FirstSurname+" "+d.Visited.SecondSurname), " ")
		if a.Area == "" {
			a.Area = d.Visited.Area
		}
	}
	return a, nil
}

// createCitaDTO is the body of POST /universidad/citas/add.
type createCitaDTO struct {
	PersonVisited   string `json:"Nombre_Persona_Visitada"`
	PersonVisitedID string `json:"Persona_Visitada_Id,omitempty"`
	Name            string `json:"Nombre_Visitante"`
	FirstSurname    string `json:"Apellido_Paterno_Visitante"`
	SecondSurname   string `json:"Apellido_Materno_Visitante"`
	Plates          string `json:"Placas,omitempty"`
	Date            string `json:"Fecha"`
	Time            string `json:"Hora"`
	Area            string `json:"Area"`
}

type messageDTO struct {
	ID      string `json:"Id,omitempty"`
	Message string `json:"message"`
}

// Submit posts a new appointment. The backend answers with a message and,
// on newer versions, the created id.
func (c *Client) Submit(ctx context.Context, b scheduling.Booking) (*scheduling.Appointment, error) {
	body := createCitaDTO{
		PersonVisited:   b.PersonVisited,
		PersonVisitedID: b.CoordinatorID,
		Name:            b.Visitor.Name,
		FirstSurname:    b.Visitor.FirstSurname,
		SecondSurname:   b.Visitor.SecondSurname,
		Plates:          b.Plates,
		Date:            b.Date.String(),
		Time:            b.Time.String(),
		Area:            b.Area,
	}
	var resp messageDTO
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/universidad/citas/add",
		body:   body,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("submit appointment: %w", err)
	}

	a := &scheduling.Appointment{
		ID:            resp.ID,
		Visitor:       b.Visitor,
		Date:          b.Date,
		Time:          b.Time,
		Area:          b.Area,
		CoordinatorID: b.CoordinatorID,
		PersonVisited: b.PersonVisited,
		State:         scheduling.StateActive,
	}
	if b.Plates != "" {
		a.Vehicle = &scheduling.Vehicle{Plates: b.Plates}
	}
	return a, nil
}

// Update moves an appointment with PATCH /universidad/citas/modify/{id} and
// reads it back.
func (c *Client) Update(ctx context.Context, id string, date scheduling.Date, t scheduling.TimeOfDay) (*scheduling.Appointment, error) {
	params := url.Values{}
	params.Set("fecha", date.String())
	params.Set("hora", t.String())
	err := c.do(ctx, request{
		method: http.MethodPatch,
		path:   "/universidad/citas/modify/" + url.PathEscape(id),
		query:  params,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	a, err := c.Get(ctx, id)
	if err != nil {
		c.logger.Warn().Err(err).Str("appointment_id", id).Msg("read back rescheduled appointment")
		return &scheduling.Appointment{ID: id, Date: date, Time: t, State: scheduling.StateActive}, nil
	}
	return a, nil
}

func (c *Client) Cancel(ctx context.Context, id string) error {
	err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/universidad/citas/delete",
		query:  url.Values{"id": {id}},
	}, nil)
	if err != nil {
		return fmt.Errorf("cancel appointment: %w", err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, id string) (*scheduling.Appointment, error) {
	var dto citaDTO
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/universidad/citas/detail/" + url.PathEscape(id),
	}, &dto)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if dto.ID == "" {
		dto.ID = id
	}
	return dto.appointment()
}

// List returns every appointment visible to the session's role.
func (c *Client) List(ctx context.Context) ([]*scheduling.Appointment, error) {
	var dtos []citaDTO
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/universidad/citas",
	}, &dtos)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	out := make([]*scheduling.Appointment, 0, len(dtos))
	for _, d := range dtos {
		a, err := d.appointment()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, scheduling.ErrNotFound)
}
