package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/citasulsa/citas/internal/domain/scheduling"
)

// ruleDTO is a row of horarios_areas or horarios_coordinadores as the
// backend serializes it.
type ruleDTO struct {
	ID          string  `json:"Id"`
	Area        string  `json:"Area,omitempty"`
	UserID      string  `json:"Usuario_Id,omitempty"`
	Day         int     `json:"Dia_Semana"`
	Start       string  `json:"Hora_Inicio"`
	End         string  `json:"Hora_Fin"`
	Kind        string  `json:"Tipo"`
	Description *string `json:"Descripcion"`
}

func (d ruleDTO) rule(scope scheduling.Scope) (scheduling.WeeklyRule, error) {
	start, err := scheduling.ParseTimeOfDay(d.Start)
	if err != nil {
		return scheduling.WeeklyRule{}, fmt.Errorf("rule %s start: %w", d.ID, err)
	}
	end, err := scheduling.ParseTimeOfDay(d.End)
	if err != nil {
		return scheduling.WeeklyRule{}, fmt.Errorf("rule %s end: %w", d.ID, err)
	}
	kind, err := scheduling.ParseKind(d.Kind)
	if err != nil {
		return scheduling.WeeklyRule{}, fmt.Errorf("rule %s: %w", d.ID, err)
	}
	r := scheduling.WeeklyRule{
		ID:    d.ID,
		Day:   scheduling.Weekday(d.Day),
		Start: start,
		End:   end,
		Kind:  kind,
		Scope: scope,
	}
	if d.Description != nil {
		r.Description = *d.Description
	}
	if err := r.Validate(); err != nil {
		return scheduling.WeeklyRule{}, err
	}
	return r, nil
}

func toRules(dtos []ruleDTO, scope scheduling.Scope, day *scheduling.Weekday) ([]scheduling.WeeklyRule, error) {
	rules := make([]scheduling.WeeklyRule, 0, len(dtos))
	for _, d := range dtos {
		if day != nil && scheduling.Weekday(d.Day) != *day {
			continue
		}
		r, err := d.rule(scope)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Day != rules[j].Day {
			return rules[i].Day < rules[j].Day
		}
		return rules[i].Start < rules[j].Start
	})
	return rules, nil
}

// AreaRules fetches GET /horarios-areas/area/{area}. The backend has no day
// filter on this route so the day is applied locally.
func (c *Client) AreaRules(ctx context.Context, area string, day *scheduling.Weekday) ([]scheduling.WeeklyRule, error) {
	var dtos []ruleDTO
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/horarios-areas/area/" + url.PathEscape(area),
	}, &dtos)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch area rules: %w", err)
	}
	return toRules(dtos, scheduling.AreaScope(area), day)
}

// CoordinatorRules fetches GET /universidad/horarios/{id}. The response is
// either a flat list or a weekly document keyed by day index.
func (c *Client) CoordinatorRules(ctx context.Context, coordinatorID string, day *scheduling.Weekday) ([]scheduling.WeeklyRule, error) {
	var raw json.RawMessage
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/universidad/horarios/" + url.PathEscape(coordinatorID),
	}, &raw)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch coordinator rules: %w", err)
	}
	dtos, err := decodeCoordinatorRules(raw)
	if err != nil {
		return nil, fmt.Errorf("decode coordinator rules: %w", err)
	}
	return toRules(dtos, scheduling.CoordinatorScope(coordinatorID), day)
}

func decodeCoordinatorRules(raw json.RawMessage) ([]ruleDTO, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var dtos []ruleDTO
		err := json.Unmarshal(raw, &dtos)
		return dtos, err
	}

	var weekly struct {
		Horarios map[string][]ruleDTO `json:"horarios"`
	}
	if err := json.Unmarshal(raw, &weekly); err != nil {
		return nil, err
	}
	var dtos []ruleDTO
	for key, rows := range weekly.Horarios {
		d, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("day key %q: %w", key, err)
		}
		for _, r := range rows {
			r.Day = d
			dtos = append(dtos, r)
		}
	}
	return dtos, nil
}

// OccupiedTimes fetches GET /universidad/citas/horas-ocupadas/{fecha}. The
// backend answers with a list of times or an object wrapping that list.
func (c *Client) OccupiedTimes(ctx context.Context, q scheduling.OccupiedQuery) ([]scheduling.TimeOfDay, error) {
	params := url.Values{}
	if q.Area != "" {
		params.Set("area", q.Area)
	}
	if q.CoordinatorID != "" {
		params.Set("persona_visitada_id", q.CoordinatorID)
	}

	var raw json.RawMessage
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/universidad/citas/horas-ocupadas/" + q.Date.String(),
		query:  params,
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("fetch occupied times: %w", err)
	}

	values, err := decodeOccupied(raw)
	if err != nil {
		return nil, fmt.Errorf("decode occupied times: %w", err)
	}
	times := make([]scheduling.TimeOfDay, 0, len(values))
	for _, v := range values {
		t, err := scheduling.ParseTimeOfDay(v)
		if err != nil {
			return nil, fmt.Errorf("occupied time: %w", err)
		}
		times = append(times, t)
	}
	return times, nil
}

func decodeOccupied(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var values []string
	if raw[0] == '[' {
		err := json.Unmarshal(raw, &values)
		return values, err
	}
	var wrapped struct {
		Times []string `json:"horas_ocupadas"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Times, nil
}
