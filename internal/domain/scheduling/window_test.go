package scheduling

import (
	"testing"
)

func win(start, end string) Window {
	s, _ := ParseTimeOfDay(start)
	e, _ := ParseTimeOfDay(end)
	return Window{Start: s, End: e}
}

func TestUnion(t *testing.T) {
	got := Union(win("10:00", "12:00"), win("09:00", "10:30"), win("13:00", "14:00"), win("14:00", "15:00"), win("16:00", "16:00"))
	want := "09:00-12:00,13:00-15:00"
	if got.String() != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	if Union() != nil {
		t.Error("expected nil union of nothing")
	}
}

func TestWindows_Subtract(t *testing.T) {
	base := Union(win("07:00", "19:00"))

	tests := []struct {
		name string
		cut  Windows
		want string
	}{
		{"middle", Union(win("12:00", "13:00")), "07:00-12:00,13:00-19:00"},
		{"start", Union(win("06:00", "08:00")), "08:00-19:00"},
		{"end", Union(win("18:00", "20:00")), "07:00-18:00"},
		{"all", Union(win("06:00", "20:00")), ""},
		{"outside", Union(win("20:00", "21:00")), "07:00-19:00"},
		{"two", Union(win("09:00", "10:00"), win("15:00", "16:00")), "07:00-09:00,10:00-15:00,16:00-19:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.Subtract(tt.cut).String(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestWindows_Fits(t *testing.T) {
	ws := Union(win("09:00", "12:00"))
	if !ws.Fits(mustTime(t, "09:00"), SlotGranularity) {
		t.Error("09:00 should fit")
	}
	if !ws.Fits(mustTime(t, "11:30"), SlotGranularity) {
		t.Error("11:30 should fit")
	}
	if ws.Fits(mustTime(t, "11:45"), SlotGranularity) {
		t.Error("11:45 should not fit: it ends after 12:00")
	}
	if ws.Fits(mustTime(t, "08:59"), SlotGranularity) {
		t.Error("08:59 should not fit")
	}
}

func TestWindows_Contains(t *testing.T) {
	ws := Union(win("09:00", "12:00"), win("14:00", "15:00"))
	tests := []struct {
		time string
		want bool
	}{
		{"08:59", false},
		{"09:00", true},
		{"11:45", true},
		{"12:00", false},
		{"13:59", false},
		{"14:59", true},
		{"15:00", false},
	}
	for _, tt := range tests {
		if got := ws.Contains(mustTime(t, tt.time)); got != tt.want {
			t.Errorf("Contains(%s) = %v, want %v", tt.time, got, tt.want)
		}
	}
}

func TestWindows_Enumerate(t *testing.T) {
	weekday := Union(win("07:00", "19:00")).Enumerate(SlotGranularity)
	if len(weekday) != 24 {
		t.Fatalf("expected 24 slots, got %d", len(weekday))
	}
	if weekday[0].String() != "07:00" || weekday[23].String() != "18:30" {
		t.Errorf("expected 07:00..18:30, got %s..%s", weekday[0], weekday[23])
	}

	saturday := Union(win("07:00", "14:00")).Enumerate(SlotGranularity)
	if len(saturday) != 14 || saturday[13].String() != "13:30" {
		t.Errorf("expected 14 slots ending 13:30, got %d", len(saturday))
	}

	// A window that is not a multiple of the step keeps only whole slots.
	odd := Union(win("09:15", "10:30")).Enumerate(SlotGranularity)
	if len(odd) != 2 || odd[0].String() != "09:15" || odd[1].String() != "09:45" {
		t.Errorf("unexpected slots %v", odd)
	}
}

func TestGeneralHours(t *testing.T) {
	for _, d := range []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday} {
		got, ok := GeneralHours(d)
		if !ok || got.String() != "07:00-19:00" {
			t.Errorf("%s: expected 07:00-19:00, got %s %v", d, got, ok)
		}
	}
	if got, ok := GeneralHours(Saturday); !ok || got.String() != "07:00-14:00" {
		t.Errorf("Saturday: expected 07:00-14:00, got %s %v", got, ok)
	}
	if _, ok := GeneralHours(Sunday); ok {
		t.Error("Sunday should be closed")
	}
}
