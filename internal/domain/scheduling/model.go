package scheduling

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Weekday is the backend day index: 0=Monday .. 6=Sunday.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

// Valid reports whether d is one of the seven backend day indexes.
func (d Weekday) Valid() bool { return d >= Monday && d <= Sunday }

// BackendDay converts a native day index (time.Weekday, 0=Sunday..6=Saturday)
// to the backend index (0=Monday..6=Sunday). Every rule lookup goes through
// this function.
func BackendDay(native time.Weekday) Weekday {
	return Weekday((int(native) + 6) % 7)
}

// Native is the inverse of BackendDay.
func (d Weekday) Native() time.Weekday {
	return time.Weekday((int(d) + 1) % 7)
}

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// NewTimeOfDay builds a TimeOfDay from an hour and a minute.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay accepts "HH:MM" and the backend's "HH:MM:SS[.ffffff]".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if len(parts) == 3 {
		sec := parts[2]
		if i := strings.IndexByte(sec, '.'); i >= 0 {
			sec = sec[:i]
		}
		if n, err := strconv.Atoi(sec); err != nil || n < 0 || n > 59 {
			return 0, fmt.Errorf("invalid seconds in %q", s)
		}
	}
	return NewTimeOfDay(hour, minute), nil
}

// TimeOfDayOf returns the wall-clock time of t truncated to the minute.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Valid reports whether t lies inside a single day.
func (t TimeOfDay) Valid() bool { return t >= 0 && t < minutesPerDay }

// Add shifts t by d, truncated to whole minutes.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return t + TimeOfDay(d/time.Minute)
}

// Sub returns the signed distance t - u.
func (t TimeOfDay) Sub(u TimeOfDay) time.Duration {
	return time.Duration(t-u) * time.Minute
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

const dateLayout = "2006-01-02"

// Date is a civil calendar date without a time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses an ISO YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// At returns the instant of d at wall-clock time t in loc.
func (d Date) At(t TimeOfDay, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, int(t)/60, int(t)%60, 0, 0, loc)
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n))
}

// Weekday returns the backend day index of d.
func (d Date) Weekday() Weekday {
	return BackendDay(d.In(time.UTC).Weekday())
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Kind marks a rule window as bookable (Free) or blocked (Busy).
type Kind int

const (
	KindFree Kind = iota + 1
	KindBusy
)

// ParseKind decodes the backend's "libre"/"ocupado" values. Unknown values
// are an error.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "libre", "free":
		return KindFree, nil
	case "ocupado", "busy":
		return KindBusy, nil
	}
	return 0, fmt.Errorf("unknown schedule kind %q", s)
}

func (k Kind) String() string {
	switch k {
	case KindFree:
		return "libre"
	case KindBusy:
		return "ocupado"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ScopeKind discriminates a Scope.
type ScopeKind int

const (
	ScopeGeneral ScopeKind = iota
	ScopeArea
	ScopeCoordinator
)

// Scope says who a rule applies to: everyone, one area, or one coordinator.
type Scope struct {
	kind ScopeKind
	ref  string
}

func GeneralScope() Scope { return Scope{kind: ScopeGeneral} }

func AreaScope(name string) Scope { return Scope{kind: ScopeArea, ref: name} }

func CoordinatorScope(id string) Scope { return Scope{kind: ScopeCoordinator, ref: id} }

func (s Scope) Kind() ScopeKind { return s.kind }

// Area returns the area name when s is an area scope.
func (s Scope) Area() (string, bool) {
	return s.ref, s.kind == ScopeArea
}

// Coordinator returns the coordinator ID when s is a coordinator scope.
func (s Scope) Coordinator() (string, bool) {
	return s.ref, s.kind == ScopeCoordinator
}

func (s Scope) String() string {
	switch s.kind {
	case ScopeArea:
		return "area:" + s.ref
	case ScopeCoordinator:
		return "coordinator:" + s.ref
	}
	return "general"
}

// WeeklyRule is one recurring open or blocked window on a day of the week.
type WeeklyRule struct {
	ID          string
	Day         Weekday
	Start       TimeOfDay
	End         TimeOfDay
	Kind        Kind
	Scope       Scope
	Description string
}

// Validate enforces Start < End and a known day and kind.
func (r WeeklyRule) Validate() error {
	if !r.Day.Valid() {
		return fmt.Errorf("rule %s: invalid day %d", r.ID, int(r.Day))
	}
	if !r.Start.Valid() || !r.End.Valid() {
		return fmt.Errorf("rule %s: time out of range", r.ID)
	}
	if r.Start >= r.End {
		return fmt.Errorf("rule %s: start %s must be before end %s", r.ID, r.Start, r.End)
	}
	if r.Kind != KindFree && r.Kind != KindBusy {
		return fmt.Errorf("rule %s: invalid kind", r.ID)
	}
	return nil
}

func (r WeeklyRule) Window() Window {
	return Window{Start: r.Start, End: r.End}
}

// Slot is one candidate start time on a date.
type Slot struct {
	Date      Date      `json:"date"`
	Time      TimeOfDay `json:"time"`
	Available bool      `json:"available"`
}

// SlotRef points at an appointment's current date and time.
type SlotRef struct {
	Date Date      `json:"date"`
	Time TimeOfDay `json:"time"`
}

// State is the lifecycle state of an appointment.
type State string

const (
	StateActive    State = "activa"
	StateCompleted State = "completada"
	StateCancelled State = "cancelada"
)

// ParseState accepts the backend values and their English names.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "activa", "active":
		return StateActive, nil
	case "completada", "completed":
		return StateCompleted, nil
	case "cancelada", "cancelled", "canceled":
		return StateCancelled, nil
	}
	return "", fmt.Errorf("unknown appointment state %q", s)
}

// Visitor holds the name parts shown on an appointment.
type Visitor struct {
	Name          string `json:"name"`
	FirstSurname  string `json:"first_surname"`
	SecondSurname string `json:"second_surname,omitempty"`
}

func (v Visitor) FullName() string {
	return strings.Join(strings.Fields(v.Name+" "+v.FirstSurname+" "+v.SecondSurname), " ")
}

// Vehicle is attached to an appointment when the visitor arrives by car.
type Vehicle struct {
	Brand  string `json:"brand,omitempty"`
	Model  string `json:"model,omitempty"`
	Color  string `json:"color,omitempty"`
	Plates string `json:"plates"`
}

// Appointment is the backend-owned visit record.
type Appointment struct {
	ID            string    `json:"id"`
	Visitor       Visitor   `json:"visitor"`
	Date          Date      `json:"date"`
	Time          TimeOfDay `json:"time"`
	Area          string    `json:"area"`
	CoordinatorID string    `json:"coordinator_id,omitempty"`
	PersonVisited string    `json:"person_visited,omitempty"`
	Vehicle       *Vehicle  `json:"vehicle,omitempty"`
	State         State     `json:"state"`
}

// Slot returns the appointment's current (date, time) pair.
func (a *Appointment) Slot() SlotRef {
	return SlotRef{Date: a.Date, Time: a.Time}
}
