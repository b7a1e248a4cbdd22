package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Outcome says whether a date can be booked at all.
type Outcome int

const (
	OutcomeOpen Outcome = iota
	OutcomeClosed
	OutcomeCoordinatorUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOpen:
		return "open"
	case OutcomeClosed:
		return "closed"
	case OutcomeCoordinatorUnavailable:
		return "coordinator_unavailable"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// Query selects the date and scope to resolve. Exclude, when set, removes
// that slot from the occupied set once (rescheduling an appointment).
type Query struct {
	Date          Date
	Area          string
	CoordinatorID string
	Exclude       *SlotRef
}

// Resolution is the outcome of resolving one selection.
type Resolution struct {
	Date          Date    `json:"date"`
	Day           Weekday `json:"day"`
	Area          string  `json:"area,omitempty"`
	CoordinatorID string  `json:"coordinator_id,omitempty"`
	Outcome       Outcome `json:"outcome"`
	// OperatingWindows are the area or general hours of the day, or the
	// coordinator windows when a coordinator opens an otherwise closed day.
	OperatingWindows Windows `json:"operating_windows"`
	// CoordinatorWindows is nil unless the coordinator has a schedule.
	CoordinatorWindows   Windows     `json:"coordinator_windows,omitempty"`
	CoordinatorScheduled bool        `json:"coordinator_scheduled"`
	Occupied             []TimeOfDay `json:"occupied"`
	Slots                []Slot      `json:"slots"`
}

func (r *Resolution) Open() bool { return r.Outcome == OutcomeOpen }

// Available returns the slots that can still be booked.
func (r *Resolution) Available() []Slot {
	var out []Slot
	for _, s := range r.Slots {
		if s.Available {
			out = append(out, s)
		}
	}
	return out
}

type Resolver struct {
	rules    RuleRepository
	occupied OccupiedTimeLookup
}

func NewResolver(rules RuleRepository, occupied OccupiedTimeLookup) *Resolver {
	return &Resolver{rules: rules, occupied: occupied}
}

// Resolve computes the bookable slots for q. Rules and occupied times are
// fetched on every call.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Resolution, error) {
	day := q.Date.Weekday()
	res := &Resolution{
		Date:          q.Date,
		Day:           day,
		Area:          q.Area,
		CoordinatorID: q.CoordinatorID,
		Slots:         []Slot{},
	}

	var coordinator Windows
	if q.CoordinatorID != "" {
		all, err := r.rules.CoordinatorRules(ctx, q.CoordinatorID, nil)
		if err != nil {
			return nil, fmt.Errorf("coordinator rules: %w", err)
		}
		res.CoordinatorScheduled = len(all) > 0
		coordinator = rulesWindows(all, day)
		if res.CoordinatorScheduled {
			res.CoordinatorWindows = coordinator
		}
	}

	var bookable Windows
	switch {
	case day == Sunday:
		if !res.CoordinatorScheduled || len(coordinator) == 0 {
			res.Outcome = OutcomeClosed
			return res, nil
		}
		res.OperatingWindows = coordinator
		bookable = coordinator
	default:
		base, err := r.baseWindows(ctx, q.Area, day)
		if err != nil {
			return nil, err
		}
		res.OperatingWindows = base
		bookable = base
		if res.CoordinatorScheduled {
			if len(coordinator) == 0 {
				res.Outcome = OutcomeCoordinatorUnavailable
				return res, nil
			}
			bookable = coordinator
		}
	}

	lookup := r.occupied
	if q.Exclude != nil {
		lookup = ExcludeSelf(lookup, *q.Exclude)
	}
	occupied, err := lookup.OccupiedTimes(ctx, OccupiedQuery{Date: q.Date, Area: q.Area, CoordinatorID: q.CoordinatorID})
	if err != nil {
		return nil, fmt.Errorf("occupied times: %w", err)
	}
	res.Occupied = occupied
	res.Outcome = OutcomeOpen
	res.Slots = markSlots(q.Date, bookable.Enumerate(SlotGranularity), occupied)
	return res, nil
}

// baseWindows returns the area's Free windows for day, or general hours when
// the area has none, minus the area's Busy windows.
func (r *Resolver) baseWindows(ctx context.Context, area string, day Weekday) (Windows, error) {
	var rules []WeeklyRule
	if area != "" {
		var err error
		rules, err = r.rules.AreaRules(ctx, area, &day)
		if err != nil {
			return nil, fmt.Errorf("area rules: %w", err)
		}
	}
	free, busy := splitRules(rules, day)
	if len(free) == 0 {
		if general, ok := GeneralHours(day); ok {
			free = append(free, general)
		}
	}
	return Union(free...).Subtract(Union(busy...)), nil
}

// GeneralResolution resolves date against general hours only, with no
// occupied times.
func GeneralResolution(date Date) *Resolution {
	day := date.Weekday()
	res := &Resolution{Date: date, Day: day, Slots: []Slot{}}
	general, ok := GeneralHours(day)
	if !ok {
		res.Outcome = OutcomeClosed
		return res
	}
	res.OperatingWindows = Union(general)
	res.Slots = markSlots(date, res.OperatingWindows.Enumerate(SlotGranularity), nil)
	return res
}

func rulesWindows(rules []WeeklyRule, day Weekday) Windows {
	free, busy := splitRules(rules, day)
	if len(free) == 0 {
		return nil
	}
	return Union(free...).Subtract(Union(busy...))
}

func splitRules(rules []WeeklyRule, day Weekday) (free, busy []Window) {
	for _, rule := range rules {
		if rule.Day != day {
			continue
		}
		switch rule.Kind {
		case KindFree:
			free = append(free, rule.Window())
		case KindBusy:
			busy = append(busy, rule.Window())
		}
	}
	return free, busy
}

func markSlots(date Date, times []TimeOfDay, occupied []TimeOfDay) []Slot {
	slots := make([]Slot, 0, len(times))
	for _, t := range times {
		slots = append(slots, Slot{Date: date, Time: t, Available: !collides(t, occupied)})
	}
	return slots
}

// collides reports whether t starts within CollisionRadius of an occupied time.
func collides(t TimeOfDay, occupied []TimeOfDay) bool {
	for _, o := range occupied {
		if absDuration(t.Sub(o)) < CollisionRadius {
			return true
		}
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
