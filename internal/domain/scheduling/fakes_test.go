package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const testCoordinator = "6f1c2a8e-3b7d-4c1e-9a2f-5d8e7b6c4a10"

var testLoc = time.FixedZone("CST", -6*60*60)

// -- Mock Repositories --

type mockRuleRepo struct {
	area        map[string][]WeeklyRule
	coordinator map[string][]WeeklyRule
	areaDays    []Weekday
	err         error
}

func newMockRuleRepo() *mockRuleRepo {
	return &mockRuleRepo{area: make(map[string][]WeeklyRule), coordinator: make(map[string][]WeeklyRule)}
}

func (m *mockRuleRepo) addArea(area string, day Weekday, start, end string, kind Kind) {
	m.area[area] = append(m.area[area], testRule(day, start, end, kind, AreaScope(area)))
}

func (m *mockRuleRepo) addCoordinator(id string, day Weekday, start, end string, kind Kind) {
	m.coordinator[id] = append(m.coordinator[id], testRule(day, start, end, kind, CoordinatorScope(id)))
}

func testRule(day Weekday, start, end string, kind Kind, scope Scope) WeeklyRule {
	s, _ := ParseTimeOfDay(start)
	e, _ := ParseTimeOfDay(end)
	return WeeklyRule{ID: fmt.Sprintf("%s-%d-%s", scope, day, start), Day: day, Start: s, End: e, Kind: kind, Scope: scope}
}

func (m *mockRuleRepo) AreaRules(_ context.Context, area string, day *Weekday) ([]WeeklyRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	if day != nil {
		m.areaDays = append(m.areaDays, *day)
	}
	return filterDay(m.area[area], day), nil
}

func (m *mockRuleRepo) CoordinatorRules(_ context.Context, id string, day *Weekday) ([]WeeklyRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	return filterDay(m.coordinator[id], day), nil
}

func filterDay(rules []WeeklyRule, day *Weekday) []WeeklyRule {
	if day == nil {
		return rules
	}
	var out []WeeklyRule
	for _, r := range rules {
		if r.Day == *day {
			out = append(out, r)
		}
	}
	return out
}

type mockOccupied struct {
	times   map[Date][]TimeOfDay
	queries []OccupiedQuery
	err     error
}

func newMockOccupied() *mockOccupied {
	return &mockOccupied{times: make(map[Date][]TimeOfDay)}
}

func (m *mockOccupied) add(d Date, times ...string) {
	for _, s := range times {
		t, _ := ParseTimeOfDay(s)
		m.times[d] = append(m.times[d], t)
	}
}

func (m *mockOccupied) OccupiedTimes(_ context.Context, q OccupiedQuery) ([]TimeOfDay, error) {
	m.queries = append(m.queries, q)
	if m.err != nil {
		return nil, m.err
	}
	return append([]TimeOfDay(nil), m.times[q.Date]...), nil
}

type mockStore struct {
	mu        sync.Mutex
	appts     map[string]*Appointment
	submitted []Booking
	nextID    int
	submitErr error
	updateErr error
	cancelErr error
	listErr   error
	occupied  *mockOccupied
}

func newMockStore(occupied *mockOccupied) *mockStore {
	return &mockStore{appts: make(map[string]*Appointment), occupied: occupied}
}

func (m *mockStore) put(a *Appointment) {
	m.appts[a.ID] = a
	if m.occupied != nil && a.State == StateActive {
		m.occupied.times[a.Date] = append(m.occupied.times[a.Date], a.Time)
	}
}

func (m *mockStore) Submit(_ context.Context, b Booking) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.submitted = append(m.submitted, b)
	m.nextID++
	a := &Appointment{
		ID:            fmt.Sprintf("appt-%d", m.nextID),
		Visitor:       b.Visitor,
		Date:          b.Date,
		Time:          b.Time,
		Area:          b.Area,
		CoordinatorID: b.CoordinatorID,
		PersonVisited: b.PersonVisited,
		State:         StateActive,
	}
	m.appts[a.ID] = a
	return a, nil
}

func (m *mockStore) Update(_ context.Context, id string, d Date, t TimeOfDay) (*Appointment, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	updated := *a
	updated.Date, updated.Time = d, t
	m.appts[id] = &updated
	return &updated, nil
}

func (m *mockStore) Cancel(_ context.Context, id string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	a, ok := m.appts[id]
	if !ok {
		return ErrNotFound
	}
	a.State = StateCancelled
	return nil
}

func (m *mockStore) Get(_ context.Context, id string) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (m *mockStore) List(_ context.Context) ([]*Appointment, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*Appointment
	for _, a := range m.appts {
		out = append(out, a)
	}
	return out, nil
}

type mockPublisher struct {
	events []Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, e Event) error {
	m.events = append(m.events, e)
	return m.err
}

type mockObserver struct {
	rejections []string
	events     []string
}

func (m *mockObserver) ObserveRejection(reason string) { m.rejections = append(m.rejections, reason) }

func (m *mockObserver) ObserveEvent(eventType string) { m.events = append(m.events, eventType) }
