package scheduling

import (
	"sort"
	"strings"
	"time"
)

// Window is a half-open [Start, End) interval within one day.
type Window struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

func (w Window) Empty() bool { return w.End <= w.Start }

// Contains reports whether t falls inside w.
func (w Window) Contains(t TimeOfDay) bool {
	return t >= w.Start && t < w.End
}

// Fits reports whether an appointment of length d starting at t lies inside w.
func (w Window) Fits(t TimeOfDay, d time.Duration) bool {
	return t >= w.Start && t.Add(d) <= w.End
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// Windows is a sorted set of non-overlapping windows.
type Windows []Window

// Union merges overlapping and touching windows and drops empty ones.
func Union(ws ...Window) Windows {
	sorted := make([]Window, 0, len(ws))
	for _, w := range ws {
		if !w.Empty() {
			sorted = append(sorted, w)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	var out Windows
	for _, w := range sorted {
		if n := len(out); n > 0 && w.Start <= out[n-1].End {
			if w.End > out[n-1].End {
				out[n-1].End = w.End
			}
			continue
		}
		out = append(out, w)
	}
	return out
}

// Subtract removes every cut window from ws.
func (ws Windows) Subtract(cut Windows) Windows {
	pieces := append([]Window(nil), ws...)
	for _, c := range cut {
		var next []Window
		for _, p := range pieces {
			if c.End <= p.Start || c.Start >= p.End {
				next = append(next, p)
				continue
			}
			if c.Start > p.Start {
				next = append(next, Window{Start: p.Start, End: c.Start})
			}
			if c.End < p.End {
				next = append(next, Window{Start: c.End, End: p.End})
			}
		}
		pieces = next
	}
	return Union(pieces...)
}

func (ws Windows) Contains(t TimeOfDay) bool {
	for _, w := range ws {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// Fits reports whether an appointment of length d starting at t lies inside
// one of the windows.
func (ws Windows) Fits(t TimeOfDay, d time.Duration) bool {
	for _, w := range ws {
		if w.Fits(t, d) {
			return true
		}
	}
	return false
}

// Enumerate lists every start time at step granularity that fits inside a
// window, sorted ascending and without duplicates.
func (ws Windows) Enumerate(step time.Duration) []TimeOfDay {
	if step < time.Minute {
		return nil
	}
	seen := make(map[TimeOfDay]bool)
	var out []TimeOfDay
	for _, w := range ws {
		for t := w.Start; w.Fits(t, step); t = t.Add(step) {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (ws Windows) String() string {
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = w.String()
	}
	return strings.Join(parts, ",")
}

// Default general hours: Monday-Friday 07:00-19:00, Saturday 07:00-14:00,
// Sunday closed.
var generalHours = map[Weekday]Window{
	Monday:    {Start: NewTimeOfDay(7, 0), End: NewTimeOfDay(19, 0)},
	Tuesday:   {Start: NewTimeOfDay(7, 0), End: NewTimeOfDay(19, 0)},
	Wednesday: {Start: NewTimeOfDay(7, 0), End: NewTimeOfDay(19, 0)},
	Thursday:  {Start: NewTimeOfDay(7, 0), End: NewTimeOfDay(19, 0)},
	Friday:    {Start: NewTimeOfDay(7, 0), End: NewTimeOfDay(19, 0)},
	Saturday:  {Start: NewTimeOfDay(7, 0), End: NewTimeOfDay(14, 0)},
}

// GeneralHours returns the university-wide window for day. ok is false when
// the university is closed that day.
func GeneralHours(day Weekday) (w Window, ok bool) {
	w, ok = generalHours[day]
	return w, ok
}
