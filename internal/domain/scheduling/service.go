package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInactive is returned when rescheduling or cancelling an appointment
// that is no longer active.
var ErrInactive = errors.New("appointment is not active")

// AppointmentStore is the backend's appointment surface.
type AppointmentStore interface {
	AppointmentWriter
	AppointmentReader
}

// Observer receives validation and lifecycle outcomes.
type Observer interface {
	ObserveRejection(reason string)
	ObserveEvent(eventType string)
}

type Service struct {
	resolver      *Resolver
	validator     *Validator
	appointments  AppointmentStore
	events        EventPublisher
	observer      Observer
	now           func() time.Time
	onAuthExpired func()
	logger        zerolog.Logger
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithAuthExpiredHook registers fn to run whenever a collaborator reports
// ErrAuthExpired. The CLI uses it to clear the stored session.
func WithAuthExpiredHook(fn func()) Option {
	return func(s *Service) { s.onAuthExpired = fn }
}

func NewService(rules RuleRepository, occupied OccupiedTimeLookup, appts AppointmentStore, loc *time.Location, opts ...Option) *Service {
	s := &Service{
		resolver:     NewResolver(rules, occupied),
		validator:    NewValidator(loc),
		appointments: appts,
		now:          time.Now,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Location() *time.Location { return s.validator.Location() }

// Today returns the current date in the service's location.
func (s *Service) Today() Date { return DateOf(s.now().In(s.validator.Location())) }

func (s *Service) Availability(ctx context.Context, q Query) (*Resolution, error) {
	res, err := s.resolver.Resolve(ctx, q)
	if err != nil {
		return nil, s.fail(err)
	}
	return res, nil
}

// Check resolves the proposal's selection and validates it. A rejected
// proposal returns the resolution together with a *Rejection error.
func (s *Service) Check(ctx context.Context, p Proposal) (*Resolution, error) {
	b, rej := p.Parse()
	if rej != nil {
		return nil, s.rejected(rej)
	}
	return s.check(ctx, b, nil)
}

func (s *Service) check(ctx context.Context, b Booking, exclude *SlotRef) (*Resolution, error) {
	res, err := s.Availability(ctx, Query{Date: b.Date, Area: b.Area, CoordinatorID: b.CoordinatorID, Exclude: exclude})
	if err != nil {
		return nil, err
	}
	if rej := s.validator.ValidateBooking(b, s.now(), res); rej != nil {
		return res, s.rejected(rej)
	}
	return res, nil
}

// Book validates the proposal and submits it.
func (s *Service) Book(ctx context.Context, p Proposal) (*Appointment, error) {
	b, rej := p.Parse()
	if rej != nil {
		return nil, s.rejected(rej)
	}
	if _, err := s.check(ctx, b, nil); err != nil {
		return nil, err
	}
	appt, err := s.appointments.Submit(ctx, b)
	if err != nil {
		return nil, s.fail(fmt.Errorf("submit appointment: %w", err))
	}
	s.publish(ctx, EventBooked, appt)
	return appt, nil
}

// Reschedule moves an active appointment to a new date and time. The
// appointment's current slot does not count against itself.
func (s *Service) Reschedule(ctx context.Context, id, date, t string) (*Appointment, error) {
	appt, err := s.appointments.Get(ctx, id)
	if err != nil {
		return nil, s.fail(fmt.Errorf("get appointment %s: %w", id, err))
	}
	if appt.State != StateActive {
		return nil, fmt.Errorf("reschedule %s: %w", id, ErrInactive)
	}

	if strings.TrimSpace(date) == "" {
		return nil, s.rejected(reject(ReasonMissingField, "date", "date is required"))
	}
	if strings.TrimSpace(t) == "" {
		return nil, s.rejected(reject(ReasonMissingField, "time", "time is required"))
	}
	newDate, err := ParseDate(date)
	if err != nil {
		return nil, s.rejected(reject(ReasonInvalidField, "date", "%v", err))
	}
	newTime, err := ParseTimeOfDay(t)
	if err != nil {
		return nil, s.rejected(reject(ReasonInvalidField, "time", "%v", err))
	}

	b := Booking{
		Visitor:       appt.Visitor,
		Date:          newDate,
		Time:          newTime,
		Area:          appt.Area,
		CoordinatorID: appt.CoordinatorID,
		PersonVisited: appt.PersonVisited,
	}
	current := appt.Slot()
	if _, err := s.check(ctx, b, &current); err != nil {
		return nil, err
	}

	updated, err := s.appointments.Update(ctx, id, newDate, newTime)
	if err != nil {
		return nil, s.fail(fmt.Errorf("update appointment %s: %w", id, err))
	}
	s.publish(ctx, EventRescheduled, updated)
	return updated, nil
}

func (s *Service) Cancel(ctx context.Context, id string) error {
	appt, err := s.appointments.Get(ctx, id)
	if err != nil {
		return s.fail(fmt.Errorf("get appointment %s: %w", id, err))
	}
	if appt.State != StateActive {
		return fmt.Errorf("cancel %s: %w", id, ErrInactive)
	}
	if err := s.appointments.Cancel(ctx, id); err != nil {
		return s.fail(fmt.Errorf("cancel appointment %s: %w", id, err))
	}
	cancelled := *appt
	cancelled.State = StateCancelled
	s.publish(ctx, EventCancelled, &cancelled)
	return nil
}

// ListFilter narrows the appointment table. Month is "YYYY-MM".
type ListFilter struct {
	Month  string
	State  State
	Limit  int
	Offset int
}

// List returns appointments ordered by date and time, and the total number
// that matched the filter before paging.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Appointment, int, error) {
	var month *time.Time
	if f.Month != "" {
		m, err := time.Parse("2006-01", f.Month)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: month must be YYYY-MM", ErrValidation)
		}
		month = &m
	}

	all, err := s.appointments.List(ctx)
	if err != nil {
		return nil, 0, s.fail(fmt.Errorf("list appointments: %w", err))
	}

	var matched []*Appointment
	for _, a := range all {
		if month != nil && (a.Date.Year != month.Year() || a.Date.Month != month.Month()) {
			continue
		}
		if f.State != "" && a.State != f.State {
			continue
		}
		matched = append(matched, a)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Date != matched[j].Date {
			return matched[i].Date.Before(matched[j].Date)
		}
		return matched[i].Time < matched[j].Time
	})

	total := len(matched)
	if f.Offset > total {
		f.Offset = total
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

func (s *Service) rejected(rej *Rejection) *Rejection {
	if s.observer != nil {
		s.observer.ObserveRejection(string(rej.Reason))
	}
	s.logger.Debug().Str("reason", string(rej.Reason)).Str("field", rej.Field).Msg("proposal rejected")
	return rej
}

func (s *Service) publish(ctx context.Context, eventType string, appt *Appointment) {
	if s.observer != nil {
		s.observer.ObserveEvent(eventType)
	}
	if s.events == nil || appt == nil {
		return
	}
	e := Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		AppointmentID: appt.ID,
		Appointment:   appt,
		OccurredAt:    s.now().UTC(),
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Str("appointment_id", appt.ID).Msg("publish appointment event")
	}
}

func (s *Service) fail(err error) error {
	if errors.Is(err, ErrAuthExpired) {
		s.logger.Info().Msg("session expired, clearing stored session")
		if s.onAuthExpired != nil {
			s.onAuthExpired()
		}
	}
	return err
}
