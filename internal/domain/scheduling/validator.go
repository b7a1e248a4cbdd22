package scheduling

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Appointment timing constants. Lead time and collision radius follow the
// slot granularity.
const (
	SlotGranularity = 30 * time.Minute
	CollisionRadius = SlotGranularity
	MinLeadTime     = SlotGranularity
)

const maxPlatesLength = 12

// Proposal is an appointment as entered in the form, before parsing.
type Proposal struct {
	VisitorName   string `json:"visitor_name"`
	FirstSurname  string `json:"first_surname"`
	SecondSurname string `json:"second_surname"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Area          string `json:"area"`
	CoordinatorID string `json:"coordinator_id"`
	PersonVisited string `json:"person_visited"`
	Plates        string `json:"plates"`
}

// Parse checks required fields and field formats and returns the typed
// booking.
func (p Proposal) Parse() (Booking, *Rejection) {
	required := []struct{ field, value string }{
		{"visitor_name", p.VisitorName},
		{"first_surname", p.FirstSurname},
		{"date", p.Date},
		{"time", p.Time},
		{"area", p.Area},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return Booking{}, reject(ReasonMissingField, r.field, "%s is required", r.field)
		}
	}

	names := []struct{ field, value string }{
		{"visitor_name", p.VisitorName},
		{"first_surname", p.FirstSurname},
		{"second_surname", p.SecondSurname},
	}
	for _, n := range names {
		if n.value != "" && !lettersOnly(n.value) {
			return Booking{}, reject(ReasonInvalidField, n.field, "%s must contain letters only", n.field)
		}
	}
	if p.Plates != "" {
		if strings.ContainsAny(p.Plates, " \t") {
			return Booking{}, reject(ReasonInvalidField, "plates", "plates must not contain spaces")
		}
		if utf8.RuneCountInString(p.Plates) > maxPlatesLength {
			return Booking{}, reject(ReasonInvalidField, "plates", "plates must be at most %d characters", maxPlatesLength)
		}
	}

	date, err := ParseDate(p.Date)
	if err != nil {
		return Booking{}, reject(ReasonInvalidField, "date", "%v", err)
	}
	t, err := ParseTimeOfDay(p.Time)
	if err != nil {
		return Booking{}, reject(ReasonInvalidField, "time", "%v", err)
	}
	coordinator := strings.TrimSpace(p.CoordinatorID)
	if coordinator != "" {
		if _, err := uuid.Parse(coordinator); err != nil {
			return Booking{}, reject(ReasonInvalidField, "coordinator_id", "coordinator_id must be a UUID")
		}
	}

	return Booking{
		Visitor: Visitor{
			Name:          strings.TrimSpace(p.VisitorName),
			FirstSurname:  strings.TrimSpace(p.FirstSurname),
			SecondSurname: strings.TrimSpace(p.SecondSurname),
		},
		Date:          date,
		Time:          t,
		Area:          strings.TrimSpace(p.Area),
		CoordinatorID: coordinator,
		PersonVisited: strings.TrimSpace(p.PersonVisited),
		Plates:        strings.ToUpper(p.Plates),
	}, nil
}

func lettersOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// Validator decides whether a proposal can be booked. It holds no state
// besides the location used to compare dates with now.
type Validator struct {
	loc *time.Location
}

func NewValidator(loc *time.Location) *Validator {
	if loc == nil {
		loc = time.Local
	}
	return &Validator{loc: loc}
}

func (v *Validator) Location() *time.Location { return v.loc }

// Validate runs the checks in order and returns the first rejection, or nil
// when the proposal is acceptable. res must be the resolution for the
// proposal's date and scope; a nil res falls back to general hours.
func (v *Validator) Validate(p Proposal, now time.Time, res *Resolution) *Rejection {
	b, rej := p.Parse()
	if rej != nil {
		return rej
	}
	return v.ValidateBooking(b, now, res)
}

// ValidateBooking runs the checks that follow parsing.
func (v *Validator) ValidateBooking(b Booking, now time.Time, res *Resolution) *Rejection {
	now = now.In(v.loc)
	today := DateOf(now)

	if b.Date.Before(today) {
		return reject(ReasonDateInPast, "date", "%s is in the past", b.Date)
	}

	if res == nil {
		res = GeneralResolution(b.Date)
	}
	if res.Outcome == OutcomeClosed {
		return reject(ReasonClosedDay, "date", "the university is closed on %s", b.Date.Weekday())
	}

	// A scheduled coordinator's Free rules may open hours beyond the
	// area's; whether the coordinator is in is checked further down.
	open := res.OperatingWindows
	if res.CoordinatorScheduled {
		open = Union(append(append([]Window{}, res.OperatingWindows...), res.CoordinatorWindows...)...)
	}
	if !open.Contains(b.Time) {
		return reject(ReasonOutsideOperatingHours, "time", "%s is outside operating hours (%s)", b.Time, open)
	}

	if b.Date == today {
		start := b.Date.At(b.Time, v.loc)
		if !start.After(now) || start.Sub(now) < MinLeadTime {
			return reject(ReasonInsufficientLeadTime, "time", "appointments today need at least %d minutes notice", int(MinLeadTime/time.Minute))
		}
	}

	for _, o := range res.Occupied {
		if absDuration(b.Time.Sub(o)) < CollisionRadius {
			return reject(ReasonSlotConflict, "time", "%s is within %d minutes of an appointment at %s", b.Time, int(CollisionRadius/time.Minute), o)
		}
	}

	if b.CoordinatorID != "" {
		if res.Outcome == OutcomeCoordinatorUnavailable {
			return reject(ReasonCoordinatorUnavailable, "coordinator_id", "the coordinator has no availability on %s", b.Date.Weekday())
		}
		if res.CoordinatorScheduled && !res.CoordinatorWindows.Contains(b.Time) {
			return reject(ReasonCoordinatorUnavailable, "time", "%s is outside the coordinator's hours (%s)", b.Time, res.CoordinatorWindows)
		}
	}
	return nil
}
