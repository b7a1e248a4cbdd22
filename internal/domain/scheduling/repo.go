package scheduling

import (
	"context"
	"time"
)

// RuleRepository reads weekly schedule rules. A nil day returns every day.
type RuleRepository interface {
	AreaRules(ctx context.Context, area string, day *Weekday) ([]WeeklyRule, error)
	CoordinatorRules(ctx context.Context, coordinatorID string, day *Weekday) ([]WeeklyRule, error)
}

// OccupiedQuery scopes an occupied-time lookup. Empty Area or CoordinatorID
// means no filter on that field.
type OccupiedQuery struct {
	Date          Date
	Area          string
	CoordinatorID string
}

// OccupiedTimeLookup returns start times of active appointments.
type OccupiedTimeLookup interface {
	OccupiedTimes(ctx context.Context, q OccupiedQuery) ([]TimeOfDay, error)
}

// Booking is a parsed, validated proposal ready for submission.
type Booking struct {
	Visitor       Visitor
	Date          Date
	Time          TimeOfDay
	Area          string
	CoordinatorID string
	PersonVisited string
	Plates        string
}

type AppointmentWriter interface {
	Submit(ctx context.Context, b Booking) (*Appointment, error)
	Update(ctx context.Context, id string, date Date, t TimeOfDay) (*Appointment, error)
	Cancel(ctx context.Context, id string) error
}

type AppointmentReader interface {
	Get(ctx context.Context, id string) (*Appointment, error)
	List(ctx context.Context) ([]*Appointment, error)
}

// Event types published on appointment lifecycle changes.
const (
	EventBooked      = "appointment.booked"
	EventRescheduled = "appointment.rescheduled"
	EventCancelled   = "appointment.cancelled"
)

type Event struct {
	ID            string       `json:"id"`
	Type          string       `json:"type"`
	AppointmentID string       `json:"appointment_id"`
	Appointment   *Appointment `json:"appointment,omitempty"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// ExcludeSelf wraps a lookup so that one occurrence of the appointment's own
// slot is dropped. Used when rescheduling so an appointment does not collide
// with itself.
func ExcludeSelf(lookup OccupiedTimeLookup, self SlotRef) OccupiedTimeLookup {
	return excludeSelf{lookup: lookup, self: self}
}

type excludeSelf struct {
	lookup OccupiedTimeLookup
	self   SlotRef
}

func (e excludeSelf) OccupiedTimes(ctx context.Context, q OccupiedQuery) ([]TimeOfDay, error) {
	times, err := e.lookup.OccupiedTimes(ctx, q)
	if err != nil {
		return nil, err
	}
	if q.Date != e.self.Date {
		return times, nil
	}
	for i, t := range times {
		if t == e.self.Time {
			out := make([]TimeOfDay, 0, len(times)-1)
			out = append(out, times[:i]...)
			return append(out, times[i+1:]...), nil
		}
	}
	return times, nil
}
